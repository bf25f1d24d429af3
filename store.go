package kzip

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/opencontainers/go-digest"
)

// Blob is one physically stored copy of a distinct content payload.
type Blob struct {
	fingerprint digest.Digest
	data        []byte
}

// Fingerprint returns the content digest that keys this blob.
func (b *Blob) Fingerprint() digest.Digest {
	return b.fingerprint
}

// Size returns the payload length in bytes.
func (b *Blob) Size() uint64 {
	return uint64(len(b.data))
}

// Bytes returns the payload. The returned slice is shared with the store
// and must be treated as immutable.
func (b *Blob) Bytes() []byte {
	return b.data
}

// ContentStore is an append-only set of content blobs keyed by fingerprint.
//
// Insert is idempotent: inserting a fingerprint that is already present
// returns the existing blob and never rewrites its bytes. That is the
// deduplication guarantee. Iteration order is first-insertion order, which
// keeps serialization deterministic across repeated builds of the same tree.
//
// ContentStore is not safe for concurrent use; builds that hash files in
// parallel serialize their inserts (see Create).
type ContentStore struct {
	blobs  map[digest.Digest]*Blob
	order  []*Blob
	verify bool
	total  uint64
}

// StoreOption configures a ContentStore.
type StoreOption func(*ContentStore)

// StoreWithVerification enables a byte compare when an insert hits an
// existing fingerprint. Equal fingerprints are otherwise trusted to mean
// equal content; verification turns a fingerprint collision from a silent
// false dedup into a reportable ErrFingerprintCollision, at the cost of
// comparing payloads on every duplicate.
func StoreWithVerification(verify bool) StoreOption {
	return func(s *ContentStore) {
		s.verify = verify
	}
}

// NewContentStore returns an empty content store.
func NewContentStore(opts ...StoreOption) *ContentStore {
	s := &ContentStore{blobs: make(map[digest.Digest]*Blob)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup returns the blob stored under fingerprint, if any.
func (s *ContentStore) Lookup(fingerprint digest.Digest) (*Blob, bool) {
	b, ok := s.blobs[fingerprint]
	return b, ok
}

// Insert stores data under fingerprint if absent and reports whether the
// fingerprint was already present. On a hit the existing blob is returned
// unchanged and data is discarded; the store never overwrites a blob.
//
// The store takes ownership of data on a miss; callers must not modify it
// afterwards.
func (s *ContentStore) Insert(fingerprint digest.Digest, data []byte) (*Blob, bool, error) {
	if b, ok := s.blobs[fingerprint]; ok {
		if s.verify && !bytes.Equal(b.data, data) {
			return nil, true, fmt.Errorf("%w: %s", ErrFingerprintCollision, fingerprint)
		}
		return b, true, nil
	}
	b := &Blob{fingerprint: fingerprint, data: data}
	s.blobs[fingerprint] = b
	s.order = append(s.order, b)
	s.total += uint64(len(data))
	return b, false, nil
}

// Blobs returns an iterator over blobs in first-insertion order.
func (s *ContentStore) Blobs() iter.Seq[*Blob] {
	return func(yield func(*Blob) bool) {
		for _, b := range s.order {
			if !yield(b) {
				return
			}
		}
	}
}

// Len returns the number of distinct blobs.
func (s *ContentStore) Len() int {
	return len(s.order)
}

// TotalSize returns the sum of distinct payload sizes in bytes.
func (s *ContentStore) TotalSize() uint64 {
	return s.total
}
