package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ZebulonRouseFrantzich/valence/internal/keyring"
	"github.com/ZebulonRouseFrantzich/valence/internal/policy"
)

// Config is the parsed "valence" table.
type Config struct {
	Project     string
	Dir         string
	Channel     string
	AccessToken string
	Mirrors     []string
	PublicKeys  []string
	Ledgers     []Ledger
	Quorum      Quorum
	Policy      Policy
}

// Ledger is one Chronicle endpoint and the key its responses are signed with.
type Ledger struct {
	URL       string
	PublicKey string
}

// Quorum holds the consensus sampling parameters.
type Quorum struct {
	Samples   int
	Threshold int
}

// Policy selects the update policy. Type is "semver", "always" or "force".
type Policy struct {
	Type  string
	Major bool
	Minor bool
	Patch bool
}

// DefaultPolicy accepts patch releases only.
func DefaultPolicy() Policy {
	return Policy{Type: policy.NameSemVer, Patch: true}
}

// Build returns the policy this configuration describes.
func (p Policy) Build() (policy.Policy, error) {
	return policy.FromName(p.Type, p.Major, p.Minor, p.Patch)
}

// projectPattern keeps project names safe to embed in a URL path segment.
var projectPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Validate checks the configuration for structural problems. It does not
// contact any mirror or ledger.
func (c *Config) Validate() error {
	if c.Project == "" {
		return &ValidationError{Field: luaFieldProject, Message: "required"}
	}
	if !projectPattern.MatchString(c.Project) {
		return &ValidationError{Field: luaFieldProject, Message: fmt.Sprintf("invalid project name %q", c.Project)}
	}
	if c.Dir == "" {
		return &ValidationError{Field: luaFieldDir, Message: "required"}
	}
	if strings.ContainsRune(c.Dir, 0) {
		return &ValidationError{Field: luaFieldDir, Message: "contains NUL byte"}
	}
	if c.Channel != "" && strings.ContainsAny(c.Channel, "/?#% ") {
		return &ValidationError{Field: luaFieldChannel, Message: fmt.Sprintf("invalid channel %q", c.Channel)}
	}

	if len(c.Mirrors) == 0 {
		return &ValidationError{Field: luaFieldMirrors, Message: "at least one mirror is required"}
	}
	if len(c.Mirrors) > MaxMirrors {
		return &ValidationError{Field: luaFieldMirrors, Message: fmt.Sprintf("too many mirrors (%d, max %d)", len(c.Mirrors), MaxMirrors)}
	}
	for i, m := range c.Mirrors {
		if err := validateEndpoint(m); err != nil {
			return &ValidationError{Field: fmt.Sprintf("%s[%d]", luaFieldMirrors, i+1), Message: err.Error()}
		}
	}

	if len(c.PublicKeys) > MaxPublicKeys {
		return &ValidationError{Field: luaFieldPublicKeys, Message: fmt.Sprintf("too many keys (%d, max %d)", len(c.PublicKeys), MaxPublicKeys)}
	}
	for i, k := range c.PublicKeys {
		if _, err := keyring.ParseKey(k); err != nil {
			return &ValidationError{Field: fmt.Sprintf("%s[%d]", luaFieldPublicKeys, i+1), Message: err.Error()}
		}
	}

	if len(c.Ledgers) > MaxLedgers {
		return &ValidationError{Field: luaFieldLedgers, Message: fmt.Sprintf("too many ledgers (%d, max %d)", len(c.Ledgers), MaxLedgers)}
	}
	for i, l := range c.Ledgers {
		field := fmt.Sprintf("%s[%d]", luaFieldLedgers, i+1)
		if err := validateEndpoint(l.URL); err != nil {
			return &ValidationError{Field: field + "." + luaFieldURL, Message: err.Error()}
		}
		if strings.TrimSpace(l.PublicKey) == "" {
			return &ValidationError{Field: field + "." + luaFieldPublicKey, Message: "required"}
		}
	}
	if len(c.Ledgers) > 0 {
		q := c.Quorum
		switch {
		case q.Threshold < 1 || q.Samples < 1:
			return &ValidationError{Field: luaFieldQuorum, Message: "samples and threshold must be at least 1"}
		case q.Threshold > q.Samples:
			return &ValidationError{Field: luaFieldQuorum, Message: fmt.Sprintf("threshold %d exceeds samples %d", q.Threshold, q.Samples)}
		case q.Samples > len(c.Ledgers):
			return &ValidationError{Field: luaFieldQuorum, Message: fmt.Sprintf("samples %d exceeds ledger count %d", q.Samples, len(c.Ledgers))}
		}
	}

	if _, err := c.Policy.Build(); err != nil {
		return &ValidationError{Field: luaFieldPolicy + "." + luaFieldType, Message: err.Error()}
	}
	return nil
}

// ProjectDir returns Dir with a leading "~" expanded and made absolute.
func (c *Config) ProjectDir() (string, error) {
	dir := c.Dir
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return filepath.Abs(dir)
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (use http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	if u.User != nil {
		return fmt.Errorf("URL %q must not embed credentials", raw)
	}
	return nil
}
