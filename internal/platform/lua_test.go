package platform

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func evalString(t *testing.T, L *lua.LState, code string) string {
	t.Helper()
	if err := L.DoString(code); err != nil {
		t.Fatalf("DoString(%q) error = %v", code, err)
	}
	v := L.Get(-1)
	L.Pop(1)
	return v.String()
}

func TestInjectPlatformTable_Linux(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	InjectPlatformTable(L, &Info{
		OS:      "linux",
		Arch:    "amd64",
		ArchRaw: "x86_64",
		Distro:  "ubuntu",
		Family:  FamilyDebian,
		Version: "24.04",
		Kernel:  "6.8.0",
	})

	tests := []struct {
		code string
		want string
	}{
		{`return platform.os`, "linux"},
		{`return platform.arch`, "amd64"},
		{`return platform.arch_raw`, "x86_64"},
		{`return platform.tag`, "linux/amd64"},
		{`return platform.kernel`, "6.8.0"},
		{`return platform.is_linux`, "true"},
		{`return platform.is_macos`, "false"},
		{`return platform.is_windows`, "false"},
		{`return platform.distro.id`, "ubuntu"},
		{`return platform.distro.family`, "debian"},
		{`return platform.distro.version`, "24.04"},
		{`return platform.pick(platform.is_linux, "stable", "beta")`, "stable"},
		{`return platform.pick(platform.is_macos, "stable", "beta")`, "beta"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := evalString(t, L, tt.code); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestInjectPlatformTable_NoDistroOffLinux(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	InjectPlatformTable(L, &Info{OS: "darwin", Arch: "arm64", Distro: "ignored"})

	if got := evalString(t, L, `return platform.distro`); got != "nil" {
		t.Errorf("platform.distro = %s, want nil", got)
	}
	if got := evalString(t, L, `return platform.is_macos`); got != "true" {
		t.Errorf("platform.is_macos = %s", got)
	}
}

func TestInjectPlatformTable_ReadOnly(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	InjectPlatformTable(L, &Info{OS: "linux", Arch: "amd64"})

	tests := []struct {
		name string
		code string
	}{
		{"overwrite field", `platform.os = "windows"`},
		{"add field", `platform.extra = 1`},
		{"replace metatable", `setmetatable(platform, {})`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := L.DoString(tt.code); err == nil {
				t.Errorf("%s succeeded, want error", tt.code)
			}
		})
	}

	if got := evalString(t, L, `return platform.os`); got != "linux" {
		t.Errorf("platform.os = %q after failed writes", got)
	}
	if got := evalString(t, L, `return getmetatable(platform)`); !strings.Contains(got, "locked") {
		t.Errorf("getmetatable(platform) = %q, want locked", got)
	}
}
