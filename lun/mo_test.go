package lun

import (
	"testing"

	"github.com/scsiemu/scsiemu/image"
	"github.com/scsiemu/scsiemu/internal/authhash"
)

func newMO(t *testing.T) *MO {
	t.Helper()
	img, err := image.Open("mo", nil)
	if err != nil {
		t.Fatal(err)
	}
	return &MO{LUN: New(0, img)}
}

func TestMOProtectedDefaultsFalse(t *testing.T) {
	m := newMO(t)
	if m.Protected() {
		t.Fatal("a fresh MO must not be protected")
	}
	if !m.CheckProtect("anything") {
		t.Fatal("CheckProtect must pass through when not protected")
	}
}

func TestMOSetProtectHashAndCheck(t *testing.T) {
	m := newMO(t)
	m.SetProtectHash(authhash.Derive("hunter2", m.Image.Path()))
	if !m.Protected() {
		t.Fatal("want Protected() true once a hash is latched")
	}
	if !m.CheckProtect("hunter2") {
		t.Fatal("CheckProtect should accept the correct password")
	}
	if m.CheckProtect("wrong") {
		t.Fatal("CheckProtect should reject an incorrect password")
	}
}

func TestMOClearProtectHash(t *testing.T) {
	m := newMO(t)
	m.SetProtectHash(authhash.Derive("hunter2", m.Image.Path()))
	m.SetProtectHash(nil)
	if m.Protected() {
		t.Fatal("want Protected() false after clearing the hash")
	}
}
