package exception

import (
	"os"
	"runtime/debug"

	"norn/logx"
	"norn/monitoring"
)

// SafeGo runs fn on its own goroutine and recovers any panic, so one
// misbehaving task cannot take the process down.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", name, r, string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// SafeGoWithPanic is for loops whose failure means the node's view of the
// chain can no longer be trusted: the panic is logged and the process exits.
func SafeGoWithPanic(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", name, r, string(debug.Stack()))
				os.Exit(1)
			}
		}()
		fn()
	}()
}
