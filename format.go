package kzip

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/kzip/internal/ioutil"
)

// FormatVersion is the archive format version this package reads and writes.
const FormatVersion = 1

// fingerprintLen is the wire width of a fingerprint: a raw SHA-256 sum.
const fingerprintLen = 32

// magic identifies a kzip archive. The bytes are inherited from the
// format's first implementation.
var magic = [3]byte{0x0c, 0x0a, 0x74}

// Archive file layout, all integers big-endian:
//
//	magic            3 bytes
//	format version   uint16
//	entry count      uint32
//	blob count       uint32
//	entry catalog    per entry, catalog order:
//	    path length  uint16
//	    path         UTF-8 bytes
//	    createdAt    int64, Unix seconds
//	    modifiedAt   int64, Unix seconds
//	    size         uint64
//	    fingerprint  32 raw bytes
//	content store    per blob, first-insertion order:
//	    fingerprint  32 raw bytes
//	    length       uint64
//	    payload      raw bytes

// WriteTo serializes the archive: header, entry catalog section, content
// store section, in one pass. Output is deterministic because catalog
// order and first-insertion blob order are both fixed by the build.
//
// WriteTo implements io.WriterTo.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	cw := &ioutil.CountingWriter{W: w}
	bw := bufio.NewWriter(cw)
	if err := a.encode(bw); err != nil {
		return int64(cw.N), err
	}
	if err := bw.Flush(); err != nil {
		return int64(cw.N), err
	}
	return int64(cw.N), nil
}

func (a *Archive) encode(w *bufio.Writer) error {
	if a.catalog.Len() > math.MaxUint32 || a.store.Len() > math.MaxUint32 {
		return ErrSizeOverflow
	}

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := writeUint16(w, a.version); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(a.catalog.Len())); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(a.store.Len())); err != nil {
		return err
	}

	for e := range a.catalog.Entries() {
		if err := encodeEntry(w, e); err != nil {
			return fmt.Errorf("encode entry %s: %w", e.Path, err)
		}
	}
	for b := range a.store.Blobs() {
		if err := encodeBlob(w, b); err != nil {
			return fmt.Errorf("encode blob %s: %w", b.Fingerprint(), err)
		}
	}
	return nil
}

func encodeEntry(w *bufio.Writer, e Entry) error {
	if len(e.Path) > maxPathLen {
		return ErrSizeOverflow
	}
	if err := writeUint16(w, uint16(len(e.Path))); err != nil {
		return err
	}
	if _, err := w.WriteString(e.Path); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(e.CreatedAt.Unix())); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(e.ModifiedAt.Unix())); err != nil {
		return err
	}
	if err := writeUint64(w, e.Size); err != nil {
		return err
	}
	raw, err := fingerprintBytes(e.Fingerprint)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

func encodeBlob(w *bufio.Writer, b *Blob) error {
	raw, err := fingerprintBytes(b.Fingerprint())
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := writeUint64(w, b.Size()); err != nil {
		return err
	}
	_, err = w.Write(b.Bytes())
	return err
}

// fingerprintBytes converts a fingerprint to its raw wire form.
func fingerprintBytes(fp digest.Digest) ([]byte, error) {
	if err := fp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fingerprint %q: %w", fp, err)
	}
	if fp.Algorithm() != digest.SHA256 {
		return nil, fmt.Errorf("unsupported fingerprint algorithm %s", fp.Algorithm())
	}
	raw, err := hex.DecodeString(fp.Encoded())
	if err != nil {
		return nil, fmt.Errorf("invalid fingerprint %q: %w", fp, err)
	}
	if len(raw) != fingerprintLen {
		return nil, fmt.Errorf("fingerprint %q: unexpected width %d", fp, len(raw))
	}
	return raw, nil
}

// fingerprintFromBytes converts a raw wire fingerprint back to digest form.
func fingerprintFromBytes(raw []byte) digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(raw))
}

func writeUint16(w *bufio.Writer, v uint16) error {
	var scratch [2]byte
	binary.BigEndian.PutUint16(scratch[:], v)
	_, err := w.Write(scratch[:])
	return err
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], v)
	_, err := w.Write(scratch[:])
	return err
}

func writeUint64(w *bufio.Writer, v uint64) error {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], v)
	_, err := w.Write(scratch[:])
	return err
}
