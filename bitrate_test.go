//go:build !ios && !android && (amd64 || arm64)

package media

import "testing"

func TestParseBitrate(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"5M", 5_000_000},
		{"5m", 5_000_000},
		{"192k", 192_000},
		{"192K", 192_000},
		{"1.5G", 1_500_000_000},
		{"128000", 128_000},
		{"0", 0},
	}
	for _, c := range cases {
		got, err := ParseBitrate(c.in)
		if err != nil {
			t.Fatalf("ParseBitrate(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseBitrate(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseBitrateRejectsInvalid(t *testing.T) {
	for _, in := range []string{"5X", "", "k5", "M", "-5M"} {
		if _, err := ParseBitrate(in); err == nil {
			t.Fatalf("ParseBitrate(%q): expected error, got none", in)
		}
	}
}
