package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZebulonRouseFrantzich/valence/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser represents a Lua config parser with platform detection.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector leaves the platform table out.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseString parses and validates a Lua config held in memory.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		platform.InjectPlatformTable(L, info)
	}

	if err := L.DoString(luaCode); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	cfg, err := extractConfig(L)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFile reads and parses the config at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > MaxConfigSize {
		return nil, fmt.Errorf("config %s exceeds %d bytes", path, MaxConfigSize)
	}
	return p.ParseString(ctx, string(data))
}

// Load resolves the config path, parses it, and applies environment
// overrides.
func (p *Parser) Load(ctx context.Context, path string) (*Config, error) {
	cfg, err := p.ParseFile(ctx, ResolvePath(path))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// ResolvePath returns path, or VALENCE_CONFIG, or DefaultConfigName.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	return DefaultConfigName
}

// ApplyEnv overrides the access token from VALENCE_ACCESS_TOKEN when set.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if tok, ok := os.LookupEnv(EnvAccessToken); ok && tok != "" {
		cfg.AccessToken = tok
	}
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig reads the global "valence" table.
func extractConfig(L *lua.LState) (*Config, error) {
	table, ok := L.GetGlobal(luaGlobal).(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: "Config must define a 'valence' table",
			Detail:  fmt.Sprintf("global %q is missing or not a table", luaGlobal),
		}
	}

	cfg := &Config{Policy: DefaultPolicy()}
	var err error

	if cfg.Project, err = stringField(table, luaFieldProject); err != nil {
		return nil, err
	}
	if cfg.Dir, err = stringField(table, luaFieldDir); err != nil {
		return nil, err
	}
	if cfg.Channel, err = stringField(table, luaFieldChannel); err != nil {
		return nil, err
	}
	if cfg.AccessToken, err = stringField(table, luaFieldAccessToken); err != nil {
		return nil, err
	}
	if cfg.Mirrors, err = stringList(table, luaFieldMirrors); err != nil {
		return nil, err
	}
	for i, m := range cfg.Mirrors {
		cfg.Mirrors[i] = strings.TrimRight(m, "/")
	}
	if cfg.PublicKeys, err = stringList(table, luaFieldPublicKeys); err != nil {
		return nil, err
	}
	if cfg.Ledgers, err = extractLedgers(table); err != nil {
		return nil, err
	}
	if cfg.Quorum, err = extractQuorum(table, len(cfg.Ledgers)); err != nil {
		return nil, err
	}
	if cfg.Policy, err = extractPolicy(table); err != nil {
		return nil, err
	}
	return cfg, nil
}

func stringField(table *lua.LTable, name string) (string, error) {
	switch v := table.RawGetString(name).(type) {
	case *lua.LNilType:
		return "", nil
	case lua.LString:
		return strings.TrimSpace(string(v)), nil
	default:
		return "", fieldTypeError(name, "a string", v)
	}
}

func boolField(table *lua.LTable, name string) (bool, error) {
	switch v := table.RawGetString(name).(type) {
	case *lua.LNilType:
		return false, nil
	case lua.LBool:
		return bool(v), nil
	default:
		return false, fieldTypeError(name, "a boolean", v)
	}
}

func intField(table *lua.LTable, name string) (int, bool, error) {
	switch v := table.RawGetString(name).(type) {
	case *lua.LNilType:
		return 0, false, nil
	case lua.LNumber:
		f := float64(v)
		if f != float64(int(f)) {
			return 0, false, fieldTypeError(name, "an integer", v)
		}
		return int(f), true, nil
	default:
		return 0, false, fieldTypeError(name, "an integer", v)
	}
}

// stringList reads an array of strings. Nil holes are skipped so entries
// can be chosen conditionally with platform.pick.
func stringList(table *lua.LTable, name string) ([]string, error) {
	val := table.RawGetString(name)
	if val == lua.LNil {
		return nil, nil
	}
	list, ok := val.(*lua.LTable)
	if !ok {
		return nil, fieldTypeError(name, "an array", val)
	}

	var out []string
	var err error
	list.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		if _, isIndex := k.(lua.LNumber); !isIndex {
			err = &ParseError{Message: fmt.Sprintf("%s must be an array", name), Detail: fmt.Sprintf("unexpected key %s", k.String())}
			return
		}
		s, isString := v.(lua.LString)
		if !isString {
			err = fieldTypeError(fmt.Sprintf("%s[%s]", name, k.String()), "a string", v)
			return
		}
		if trimmed := strings.TrimSpace(string(s)); trimmed != "" {
			out = append(out, trimmed)
		}
	})
	return out, err
}

func extractLedgers(table *lua.LTable) ([]Ledger, error) {
	val := table.RawGetString(luaFieldLedgers)
	if val == lua.LNil {
		return nil, nil
	}
	list, ok := val.(*lua.LTable)
	if !ok {
		return nil, fieldTypeError(luaFieldLedgers, "an array", val)
	}

	var ledgers []Ledger
	for i := 1; i <= list.MaxN(); i++ {
		entry := list.RawGetInt(i)
		if entry == lua.LNil {
			continue
		}
		t, ok := entry.(*lua.LTable)
		if !ok {
			return nil, fieldTypeError(fmt.Sprintf("%s[%d]", luaFieldLedgers, i), "a table", entry)
		}
		u, err := stringField(t, luaFieldURL)
		if err != nil {
			return nil, err
		}
		key, err := stringField(t, luaFieldPublicKey)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, Ledger{URL: strings.TrimRight(u, "/"), PublicKey: key})
	}
	return ledgers, nil
}

// extractQuorum defaults to consulting and requiring every ledger.
func extractQuorum(table *lua.LTable, ledgers int) (Quorum, error) {
	q := Quorum{Samples: ledgers, Threshold: ledgers}
	val := table.RawGetString(luaFieldQuorum)
	if val == lua.LNil {
		return q, nil
	}
	t, ok := val.(*lua.LTable)
	if !ok {
		return q, fieldTypeError(luaFieldQuorum, "a table", val)
	}
	if n, set, err := intField(t, luaFieldSamples); err != nil {
		return q, err
	} else if set {
		q.Samples = n
	}
	if n, set, err := intField(t, luaFieldThreshold); err != nil {
		return q, err
	} else if set {
		q.Threshold = n
	}
	return q, nil
}

func extractPolicy(table *lua.LTable) (Policy, error) {
	val := table.RawGetString(luaFieldPolicy)
	if val == lua.LNil {
		return DefaultPolicy(), nil
	}
	if s, ok := val.(lua.LString); ok {
		p := DefaultPolicy()
		p.Type = strings.TrimSpace(string(s))
		return p, nil
	}
	t, ok := val.(*lua.LTable)
	if !ok {
		return Policy{}, fieldTypeError(luaFieldPolicy, "a table or string", val)
	}

	var p Policy
	var err error
	if p.Type, err = stringField(t, luaFieldType); err != nil {
		return p, err
	}
	if p.Type == "" {
		p.Type = DefaultPolicy().Type
	}
	if p.Major, err = boolField(t, luaFieldMajor); err != nil {
		return p, err
	}
	if p.Minor, err = boolField(t, luaFieldMinor); err != nil {
		return p, err
	}
	if p.Patch, err = boolField(t, luaFieldPatch); err != nil {
		return p, err
	}
	return p, nil
}

func fieldTypeError(name, want string, got lua.LValue) error {
	return &ParseError{
		Message: fmt.Sprintf("%s must be %s", name, want),
		Detail:  fmt.Sprintf("got %s", got.Type().String()),
	}
}

// FormatError formats an error for user display. In verbose mode the raw
// Lua error is shown in full.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
