package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		Project: "demo",
		Dir:     "/opt/demo",
		Mirrors: []string{"https://updates.example.com"},
		Policy:  DefaultPolicy(),
	}
}

func TestConfig_Validate(t *testing.T) {
	twoLedgers := []Ledger{
		{URL: "https://l1.example.com", PublicKey: "k1"},
		{URL: "https://l2.example.com", PublicKey: "k2"},
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "valid with channel", mutate: func(c *Config) { c.Channel = "beta" }},
		{name: "empty project", mutate: func(c *Config) { c.Project = "" }, wantField: "project"},
		{name: "project with slash", mutate: func(c *Config) { c.Project = "a/b" }, wantField: "project"},
		{name: "project with dot prefix", mutate: func(c *Config) { c.Project = ".hidden" }, wantField: "project"},
		{name: "empty dir", mutate: func(c *Config) { c.Dir = "" }, wantField: "dir"},
		{name: "dir with NUL", mutate: func(c *Config) { c.Dir = "/opt/\x00" }, wantField: "dir"},
		{name: "channel with slash", mutate: func(c *Config) { c.Channel = "a/b" }, wantField: "channel"},
		{name: "no mirrors", mutate: func(c *Config) { c.Mirrors = nil }, wantField: "mirrors"},
		{name: "ftp mirror", mutate: func(c *Config) { c.Mirrors = []string{"ftp://m.example.com"} }, wantField: "mirrors[1]"},
		{name: "mirror without host", mutate: func(c *Config) { c.Mirrors = append(c.Mirrors, "https://") }, wantField: "mirrors[2]"},
		{name: "mirror with credentials", mutate: func(c *Config) { c.Mirrors = []string{"https://u:p@m.example.com"} }, wantField: "mirrors[1]"},
		{name: "too many mirrors", mutate: func(c *Config) { c.Mirrors = make([]string, MaxMirrors+1) }, wantField: "mirrors"},
		{name: "bad public key", mutate: func(c *Config) { c.PublicKeys = []string{"not a key"} }, wantField: "public_keys[1]"},
		{
			name: "ledgers with quorum",
			mutate: func(c *Config) {
				c.Ledgers = twoLedgers
				c.Quorum = Quorum{Samples: 2, Threshold: 1}
			},
		},
		{
			name: "ledger without key",
			mutate: func(c *Config) {
				c.Ledgers = []Ledger{{URL: "https://l1.example.com"}}
				c.Quorum = Quorum{Samples: 1, Threshold: 1}
			},
			wantField: "ledgers[1].public_key",
		},
		{
			name: "ledger bad url",
			mutate: func(c *Config) {
				c.Ledgers = []Ledger{{URL: "l1.example.com", PublicKey: "k"}}
				c.Quorum = Quorum{Samples: 1, Threshold: 1}
			},
			wantField: "ledgers[1].url",
		},
		{
			name: "zero threshold",
			mutate: func(c *Config) {
				c.Ledgers = twoLedgers
				c.Quorum = Quorum{Samples: 2}
			},
			wantField: "quorum",
		},
		{
			name: "threshold above samples",
			mutate: func(c *Config) {
				c.Ledgers = twoLedgers
				c.Quorum = Quorum{Samples: 1, Threshold: 2}
			},
			wantField: "quorum",
		},
		{
			name: "samples above ledgers",
			mutate: func(c *Config) {
				c.Ledgers = twoLedgers
				c.Quorum = Quorum{Samples: 3, Threshold: 1}
			},
			wantField: "quorum",
		},
		{name: "quorum ignored without ledgers", mutate: func(c *Config) { c.Quorum = Quorum{Samples: 5, Threshold: 9} }},
		{name: "unknown policy", mutate: func(c *Config) { c.Policy.Type = "nightly" }, wantField: "policy.type"},
		{name: "force policy", mutate: func(c *Config) { c.Policy.Type = "force" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if valErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q (%v)", valErr.Field, tt.wantField, err)
			}
		})
	}
}

func TestConfig_ProjectDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		dir  string
		want string
	}{
		{dir: "/opt/demo", want: "/opt/demo"},
		{dir: "/opt/demo/../other", want: "/opt/other"},
		{dir: "~", want: home},
		{dir: "~/apps/demo", want: filepath.Join(home, "apps", "demo")},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			cfg := Config{Dir: tt.dir}
			got, err := cfg.ProjectDir()
			if err != nil {
				t.Fatalf("ProjectDir() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ProjectDir() = %q, want %q", got, tt.want)
			}
		})
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	got, err := (&Config{Dir: "rel"}).ProjectDir()
	if err != nil || got != filepath.Join(wd, "rel") {
		t.Errorf("ProjectDir(rel) = %q, %v", got, err)
	}
}

func TestValidationError(t *testing.T) {
	withField := &ValidationError{Field: "mirrors", Message: "required"}
	if got := withField.Error(); got != "config validation failed for mirrors: required" {
		t.Errorf("Error() = %q", got)
	}
	bare := &ValidationError{Message: "broken"}
	if got := bare.Error(); got != "config validation failed: broken" {
		t.Errorf("Error() = %q", got)
	}
}
