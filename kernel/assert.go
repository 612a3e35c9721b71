// File: kernel/assert.go
// Package kernel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package kernel

import "fmt"

// fatalf aborts the emulation session. Invariant violations in kernel state
// are emulation-correctness bugs; continuing would silently corrupt the
// scheduler, so we fail closed.
func fatalf(format string, args ...any) {
	panic(fmt.Sprintf("kernel: "+format, args...))
}

// assertf aborts the emulation session when cond does not hold.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		fatalf(format, args...)
	}
}
