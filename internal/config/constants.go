package config

const (
	// DefaultConfigName is used when VALENCE_CONFIG is unset.
	DefaultConfigName = "valence.lua"

	EnvConfig      = "VALENCE_CONFIG"
	EnvAccessToken = "VALENCE_ACCESS_TOKEN"

	MaxConfigSize = 1 << 20
	MaxMirrors    = 64
	MaxLedgers    = 64
	MaxPublicKeys = 256
)

// Lua schema names.
const (
	luaGlobal           = "valence"
	luaFieldProject     = "project"
	luaFieldDir         = "dir"
	luaFieldChannel     = "channel"
	luaFieldAccessToken = "access_token"
	luaFieldMirrors     = "mirrors"
	luaFieldPublicKeys  = "public_keys"
	luaFieldLedgers     = "ledgers"
	luaFieldURL         = "url"
	luaFieldPublicKey   = "public_key"
	luaFieldQuorum      = "quorum"
	luaFieldSamples     = "samples"
	luaFieldThreshold   = "threshold"
	luaFieldPolicy      = "policy"
	luaFieldType        = "type"
	luaFieldMajor       = "major"
	luaFieldMinor       = "minor"
	luaFieldPatch       = "patch"
)
