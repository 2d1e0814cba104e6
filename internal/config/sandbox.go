package config

import (
	lua "github.com/yuin/gopher-lua"
)

// blockedGlobals are removed from every config VM. Raw table access and
// metatable functions go too, since they would let a script write through
// the read-only platform table.
var blockedGlobals = []string{
	"os", "io", "debug",
	"require", "module", "dofile", "loadfile", "load", "loadstring",
	"rawset", "rawget", "rawequal", "setmetatable", "getmetatable",
	"setfenv", "getfenv", "collectgarbage", "newproxy",
}

// newSandboxedVM returns a Lua state with only string, table, math and
// the basic value functions available.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "loaders", lua.LNil)
		L.SetField(pkg, "loadlib", lua.LNil)
	}
	L.SetGlobal("package", lua.LNil)
	return L
}
