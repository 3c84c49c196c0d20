package utils

import "fmt"

// Assert panics when cond is false. Use it for contract violations only.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

// DebugAssert is Assert in builds tagged debugassert and a no-op otherwise.
func DebugAssert(cond bool, format string, args ...any) {
	if assertionsEnabled {
		Assert(cond, format, args...)
	}
}
