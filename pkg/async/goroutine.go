// Package async provides safe concurrent execution for background tasks:
// panic recovery, per-task timeouts, and error logging. Use SafeGo instead of
// a bare `go func()` for fire-and-forget work such as key usage updates and
// alert delivery.
package async

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// SafeGo executes fn in a goroutine with a timeout-bounded context, panic
// recovery, and error logging. Errors are logged, never propagated; if the
// caller needs the result it should not be using SafeGo.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}
