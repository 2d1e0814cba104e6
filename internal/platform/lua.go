package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// InjectPlatformTable sets a read-only global "platform" table describing
// info. Call it before running configuration code.
func InjectPlatformTable(L *lua.LState, info *Info) {
	t := L.NewTable()

	L.SetField(t, "os", lua.LString(info.OS))
	L.SetField(t, "arch", lua.LString(info.Arch))
	L.SetField(t, "arch_raw", lua.LString(info.ArchRaw))
	L.SetField(t, "tag", lua.LString(info.Tag()))
	L.SetField(t, "kernel", lua.LString(info.Kernel))

	L.SetField(t, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(t, "is_macos", lua.LBool(info.IsMacOS()))
	L.SetField(t, "is_windows", lua.LBool(info.IsWindows()))

	if info.IsLinux() && info.Distro != "" {
		distro := L.NewTable()
		L.SetField(distro, "id", lua.LString(info.Distro))
		L.SetField(distro, "family", lua.LString(info.Family))
		L.SetField(distro, "version", lua.LString(info.Version))
		L.SetField(t, "distro", distro)
	}

	// pick(cond, a, b) returns a when cond holds, else b.
	L.SetField(t, "pick", L.NewFunction(func(L *lua.LState) int {
		if lua.LVAsBool(L.Get(1)) {
			L.Push(L.Get(2))
		} else {
			L.Push(L.Get(3))
		}
		return 1
	}))

	L.SetGlobal("platform", readOnly(L, t))
}

// readOnly returns an empty proxy whose reads fall through to t and whose
// writes raise.
func readOnly(L *lua.LState, t *lua.LTable) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", t)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform is read-only")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("locked"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
