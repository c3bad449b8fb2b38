package lun

import "github.com/scsiemu/scsiemu/internal/authhash"

// MO wraps a LUN attached to a magneto-optical image, adding the
// vendor "protect" affordance: a password-derived hash gating eject,
// reachable only from the control channel (it is not a SCSI command).
//
// This password lock is this codebase's own addition (the original's
// only protect handling is the plain write-protect toggle); it is built on
// internal/authhash's PBKDF2 derivation (grounded on the teacher's
// pkg/core/hash.HashSedutilDTA), matching this codebase's idiom that any
// credential check goes through a derived hash, never a raw compare.
type MO struct {
	*LUN

	protectHash []byte
}

// SetProtectHash latches the password-derived hash that CheckProtect
// verifies against. A nil/empty hash disables protection.
func (m *MO) SetProtectHash(hash []byte) {
	m.protectHash = hash
}

// Protected reports whether a protect hash is currently set.
func (m *MO) Protected() bool {
	return len(m.protectHash) > 0
}

// CheckProtect derives password's hash against the image path as salt
// and compares it to the latched hash.
func (m *MO) CheckProtect(password string) bool {
	if !m.Protected() {
		return true
	}
	return authhash.CheckPassword(password, m.Image.Path(), m.protectHash)
}
