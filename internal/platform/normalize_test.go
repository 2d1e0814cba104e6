package platform

import (
	"testing"
)

func TestNormalizeArch(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"amd64", "amd64"},
		{"x86_64", "amd64"},
		{"arm64", "arm64"},
		{"aarch64", "arm64"},
		{"i686", "386"},
		{"armv7l", "arm"},
		{" RISCV64 ", "riscv64"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizeArch(tt.input); got != tt.want {
				t.Errorf("normalizeArch(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMapFamily(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debian", FamilyDebian},
		{"Ubuntu", FamilyDebian},
		{"rhel", FamilyRHEL},
		{"rocky", FamilyRHEL},
		{"fedora", FamilyFedora},
		{"opensuse", FamilySUSE},
		{"manjaro", FamilyArch},
		{"alpine", FamilyAlpine},
		{"  arch  ", FamilyArch},
		{"slackware", FamilyUnknown},
		{"", FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := mapFamily(tt.input); got != tt.want {
				t.Errorf("mapFamily(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
