package authhash

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestDerive(t *testing.T) {
	got := Derive("dummy", "S2RBNB0HA12200B")
	want := []byte{
		0x4f, 0x2a, 0xcc, 0xfd, 0x1a, 0x17, 0x64, 0xdc, 0x5b, 0x5b, 0xb3, 0x8f, 0x40, 0xf9, 0x06, 0x8d,
		0x2d, 0x1a, 0x1f, 0x6d, 0xd5, 0x39, 0x27, 0x07, 0xde, 0xa1, 0x4c, 0x3b, 0xb7, 0xde, 0xea, 0xcc,
	}
	if !bytes.Equal(want, got) {
		t.Errorf("Derive() = %s, want %s", hex.EncodeToString(got), hex.EncodeToString(want))
	}
}

func TestCheckPassword(t *testing.T) {
	stored := Derive("hunter2", "/mnt/images/a.mos")
	if !CheckPassword("hunter2", "/mnt/images/a.mos", stored) {
		t.Errorf("CheckPassword() = false, want true for correct password")
	}
	if CheckPassword("wrong", "/mnt/images/a.mos", stored) {
		t.Errorf("CheckPassword() = true, want false for incorrect password")
	}
	if CheckPassword("hunter2", "/mnt/images/a.mos", nil) {
		t.Errorf("CheckPassword() = true, want false for empty stored hash")
	}
}
