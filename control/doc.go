// Package control
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime configuration and metrics layer for the emulation session.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates
//   - Reload observers for live session knobs
//   - Counter and gauge telemetry published by the kernel
package control
