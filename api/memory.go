// File: api/memory.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process/memory collaborator contract. The kernel treats guest memory as
// an opaque addressable resource: it validates entry points and maps
// page-grained blocks for thread-local storage, nothing more.

package api

// VAddr is a guest virtual address.
type VAddr = uint64

// Memory abstracts the per-process address space operations the kernel needs.
type Memory interface {
	// IsValidVirtualAddress reports whether addr is mapped and executable
	// as a thread entry point.
	IsValidVirtualAddress(addr VAddr) bool

	// MapTLSPage maps one fresh page at base for thread-local storage.
	MapTLSPage(base VAddr) error

	// UnmapTLSPage releases a page previously mapped with MapTLSPage.
	UnmapTLSPage(base VAddr) error
}
