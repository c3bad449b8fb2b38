package scsi

import "testing"

func TestCDBLen(t *testing.T) {
	cases := []struct {
		opcode byte
		want   int
	}{
		{0x00, 6},
		{0x1f, 6},
		{0x20, 10},
		{0x7d, 10},
		{0x7e, 6},
		{0xff, 6},
	}
	for _, c := range cases {
		if got := CDBLen(c.opcode); got != c.want {
			t.Errorf("CDBLen(%#x) = %d, want %d", c.opcode, got, c.want)
		}
	}
}

func TestIsIdentify(t *testing.T) {
	if IsIdentify(0x7f) {
		t.Errorf("IsIdentify(0x7f) = true, want false")
	}
	if !IsIdentify(0x80) || !IsIdentify(0xff) {
		t.Errorf("IsIdentify boundary failed")
	}
}

func TestSASICheckConditionStatus(t *testing.T) {
	got := SASICheckConditionStatus(3)
	if got != (3<<5)|StatusCheckCondition {
		t.Errorf("SASICheckConditionStatus(3) = %#x", got)
	}
}
