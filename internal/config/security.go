package config

import (
	"fmt"
	"regexp"
	"strings"
)

// SensitivePattern is a pattern that suggests a secret was written into
// the config file.
type SensitivePattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Description string
}

var sensitivePatterns = []SensitivePattern{
	{
		Name:        "Access Token",
		Pattern:     regexp.MustCompile(`(?i)access[_-]?token\s*=\s*['"][^'"]{8,}['"]`),
		Description: "Mirror access token hardcoded in config",
	},
	{
		Name:        "Private Key Block",
		Pattern:     regexp.MustCompile(`-----BEGIN [A-Z0-9 ]*PRIVATE KEY( BLOCK)?-----`),
		Description: "Private key material pasted into config",
	},
	{
		Name:        "Private Key Field",
		Pattern:     regexp.MustCompile(`(?i)(private[_-]?key|secret[_-]?key|seed)\s*=\s*['"][A-Za-z0-9+/_=:-]{16,}['"]`),
		Description: "Signing secret assigned in config",
	},
	{
		Name:        "Credentials In URL",
		Pattern:     regexp.MustCompile(`(?i)https?://[^/\s'"@]+:[^/\s'"@]+@`),
		Description: "URL with embedded credentials",
	},
}

// SensitiveDataFinding is one detected secret.
type SensitiveDataFinding struct {
	PatternName string
	Description string
	Line        int
	Preview     string // redacted
}

// DetectSensitiveData scans raw config text line by line.
func DetectSensitiveData(content string) []SensitiveDataFinding {
	var findings []SensitiveDataFinding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, pattern := range sensitivePatterns {
			if pattern.Pattern.MatchString(line) {
				findings = append(findings, SensitiveDataFinding{
					PatternName: pattern.Name,
					Description: pattern.Description,
					Line:        lineNum + 1,
					Preview:     redactSensitiveValue(line),
				})
			}
		}
	}
	return findings
}

func redactSensitiveValue(line string) string {
	eqIdx := strings.Index(line, "=")
	if eqIdx == -1 {
		line = strings.TrimSpace(line)
		if len(line) > 30 {
			return line[:30] + "... [REDACTED]"
		}
		return line + " [REDACTED]"
	}
	return strings.TrimSpace(line[:eqIdx]) + " = [REDACTED]"
}

// FormatSensitiveDataWarning renders findings for the terminal.
func FormatSensitiveDataWarning(findings []SensitiveDataFinding) string {
	if len(findings) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\nWARNING: potential secrets in configuration\n\n")
	for i, finding := range findings {
		sb.WriteString(fmt.Sprintf("%d. %s (line %d)\n", i+1, finding.Description, finding.Line))
		sb.WriteString(fmt.Sprintf("   Preview: %s\n\n", finding.Preview))
	}
	sb.WriteString("Set the mirror token through " + EnvAccessToken + " instead of the config file.\n")
	sb.WriteString("Only public keys belong in public_keys and ledgers.\n")
	return sb.String()
}
