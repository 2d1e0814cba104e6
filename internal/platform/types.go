// Package platform describes the host valence runs on. The description is
// sent to mirrors so they can serve a matching release, and exposed to
// configuration scripts as a read-only Lua table.
package platform

import "context"

// Linux distribution families.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info describes the running host.
type Info struct {
	OS      string // runtime.GOOS
	Arch    string // normalized, e.g. "amd64"
	ArchRaw string // as reported, e.g. "x86_64"
	Distro  string // Linux only, e.g. "ubuntu"
	Family  string // Linux only, canonical family
	Version string // distro version, Linux only
	Kernel  string // kernel version, best effort
}

// Tag is the "os/arch" form mirrors key releases by.
func (i *Info) Tag() string {
	if i == nil {
		return ""
	}
	return i.OS + "/" + i.Arch
}

// String returns Tag, followed by the distro when known.
func (i *Info) String() string {
	if i == nil {
		return "unknown"
	}
	if i.Distro == "" {
		return i.Tag()
	}
	if i.Version == "" {
		return i.Tag() + " (" + i.Distro + ")"
	}
	return i.Tag() + " (" + i.Distro + " " + i.Version + ")"
}

// IsLinux reports whether the host runs Linux.
func (i *Info) IsLinux() bool { return i.OS == "linux" }

// IsMacOS reports whether the host runs macOS.
func (i *Info) IsMacOS() bool { return i.OS == "darwin" }

// IsWindows reports whether the host runs Windows.
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// Detector detects the host platform.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// Static is a Detector that always returns the same Info.
type Static Info

// Detect returns a copy of s.
func (s Static) Detect(context.Context) (*Info, error) {
	info := Info(s)
	return &info, nil
}
