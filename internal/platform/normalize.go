package platform

import "strings"

var familyMap = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian,
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
}

// archAliases maps uname-style names onto GOARCH names.
var archAliases = map[string]string{
	"x86_64":  "amd64",
	"aarch64": "arm64",
	"i386":    "386",
	"i686":    "386",
	"armv7l":  "arm",
}

// normalizeArch maps an architecture name onto its GOARCH spelling.
// Unknown names are passed through lowercased; releases for them are the
// mirror's concern.
func normalizeArch(arch string) string {
	a := strings.ToLower(strings.TrimSpace(arch))
	if alias, ok := archAliases[a]; ok {
		return alias
	}
	return a
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func mapFamily(family string) string {
	if canonical, ok := familyMap[normalizeID(family)]; ok {
		return canonical
	}
	return FamilyUnknown
}
