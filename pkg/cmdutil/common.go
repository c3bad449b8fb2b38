package cmdutil

import (
	"github.com/scsiemu/scsiemu/internal/authhash"
)

// PasswordEmbed is a kong-embeddable flag group for commands that need to
// derive a protect-hash from a password. No command in this repository
// embeds it; "scsictl protect" sends its password to scsid, which derives
// the hash.
type PasswordEmbed struct {
	Password string `required:"" env:"PASS" help:"Protect password"`
}

// GenerateHash derives the stored protect-hash for salt (the target's image
// path), which is later checked with authhash.CheckPassword.
func (t *PasswordEmbed) GenerateHash(salt string) []byte {
	return authhash.Derive(t.Password, salt)
}
