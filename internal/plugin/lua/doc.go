// Package lua hosts plugin scripts on gopher-lua.
//
// Each State owns one LState and one Executor goroutine. The LState is only
// ever touched from that goroutine; callers submit work with Do and receive
// the result synchronously:
//
//	st := lua.NewState(lua.WithPrint(func(msg string) { log.Info(msg) }))
//	defer st.Close()
//
//	err := st.Do(ctx, func(L *glua.LState) error {
//	    return L.DoString(`x = 1`)
//	})
//
// The context passed to Do is attached to the LState for the duration of the
// call, so a deadline aborts a runaway script at the next instruction
// boundary.
//
// # Sandbox
//
// Only the base, table, string, math and coroutine libraries are opened.
// dofile, loadfile, load and loadstring are removed, and require resolves
// only the safe built-ins plus modules registered with PreloadModule.
//
// # Values
//
// ToValue and FromValue convert between Lua values and value.Value with a
// bounded recursion depth. Functions, userdata and cyclic tables cannot
// cross the boundary.
package lua
