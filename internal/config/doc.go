// Package config loads valence's Lua configuration.
//
// A configuration is a Lua script that assigns a global "valence" table:
//
//	valence = {
//	  project = "demo",
//	  dir = "/opt/demo",
//	  channel = platform.pick(platform.is_linux, "stable", "beta"),
//	  mirrors = { "https://updates.example.com" },
//	  public_keys = { "ed25519:..." },
//	  ledgers = {
//	    { url = "https://chronicle-a.example.com", public_key = "..." },
//	    { url = "https://chronicle-b.example.com", public_key = "..." },
//	  },
//	  quorum = { samples = 2, threshold = 2 },
//	  policy = { type = "semver", minor = true, patch = true },
//	}
//
// Scripts run in a sandboxed gopher-lua VM: os, io, module loading, debug
// and raw table access are removed. A read-only "platform" table describing
// the host is injected before the script runs.
//
// The access token may be left out of the file and supplied through
// VALENCE_ACCESS_TOKEN instead, which always wins.
package config
