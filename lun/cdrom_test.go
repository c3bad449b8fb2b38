package lun

import "testing"

func TestMSFFromLBA(t *testing.T) {
	cases := []struct {
		lba     uint64
		m, s, f byte
	}{
		{0, 0, 2, 0},
		{74, 0, 2, 74},
		{75, 0, 3, 0},
		{4649, 1, 3, 74},
		{4650, 1, 4, 0},
	}
	for _, c := range cases {
		m, s, f := msfFromLBA(c.lba)
		if m != c.m || s != c.s || f != c.f {
			t.Errorf("msfFromLBA(%d) = (%d,%d,%d), want (%d,%d,%d)", c.lba, m, s, f, c.m, c.s, c.f)
		}
	}
}
