// Package state defines the opaque references to externally stored
// state snapshots that flow through the checkpoint protocol.
//
// The coordination core never reads snapshot bytes. Tasks and operator
// coordinators write their state to a blob store out of band and hand
// the coordinator a Handle: enough to locate the snapshot during
// recovery and to release its backing resources when the checkpoint is
// discarded.
package state

import (
	"sync"
	"sync/atomic"
)

// Handle is an opaque reference to a state snapshot held in external
// storage.
//
// Discard must be idempotent: a handle may be released once by
// subsumption and again by a late snapshot future resolving after its
// checkpoint was aborted.
type Handle interface {
	// URI locates the snapshot in the external store.
	URI() string

	// Size returns the snapshot size in bytes, or 0 if unknown.
	Size() int64

	// Discard releases the external resources backing the snapshot.
	Discard() error
}

// BlobHandle is a Handle backed by a single external blob.
// The zero value is not usable; use NewBlobHandle.
type BlobHandle struct {
	uri       string
	size      int64
	release   func() error
	discarded atomic.Bool
	once      sync.Once
	err       error
}

// Compile-time interface check.
var _ Handle = (*BlobHandle)(nil)

// NewBlobHandle creates a handle for a stored blob. The release
// function deletes the blob from the external store; it may be nil when
// the store has no per-blob cleanup.
func NewBlobHandle(uri string, size int64, release func() error) *BlobHandle {
	return &BlobHandle{uri: uri, size: size, release: release}
}

// URI implements Handle.
func (h *BlobHandle) URI() string { return h.uri }

// Size implements Handle.
func (h *BlobHandle) Size() int64 { return h.size }

// Discard implements Handle. The release function runs at most once;
// repeated calls return the first result.
func (h *BlobHandle) Discard() error {
	h.once.Do(func() {
		h.discarded.Store(true)
		if h.release != nil {
			h.err = h.release()
		}
	})
	return h.err
}

// Discarded reports whether the handle has been released.
func (h *BlobHandle) Discarded() bool {
	return h.discarded.Load()
}
