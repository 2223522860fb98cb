package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic in a background job and logs it with its stack.
// It must be deferred directly:
//
//	defer observability.RecoverPanic(logger, "invite cleanup")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, job string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic": fmt.Sprint(r),
			"stack": string(debug.Stack()),
			"job":   job,
		}).Error("PANIC recovered")
	}
}

// Job wraps fn so that a panic is logged instead of terminating the process
func Job(logger *Logger, name string, fn func()) func() {
	return func() {
		defer RecoverPanic(logger, name)
		fn()
	}
}
