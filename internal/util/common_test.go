package util

import "testing"

func TestMaskString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12345678", "****5678"},
		{"VA000123", "****0123"},
		{"abcd", "****"},
		{"ab", "**"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := MaskString(tt.in); got != tt.want {
			t.Errorf("MaskString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
