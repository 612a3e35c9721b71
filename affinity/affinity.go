// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral API for pinning host OS threads. The emulator runs one
// host thread per emulated core; pinning them to distinct host CPUs keeps
// the per-core execution loops from migrating. Platform-specific
// implementations live in build-tag-guarded files.

package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and binds that thread
// to the given logical host CPU. On unsupported platforms the thread is
// still locked but no binding happens, and an error is returned.
func Pin(cpuID int) error {
	runtime.LockOSThread()
	return setAffinityPlatform(cpuID)
}

// Unpin releases the calling goroutine from its OS thread.
func Unpin() {
	runtime.UnlockOSThread()
}
