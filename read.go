package kzip

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/opencontainers/go-digest"
)

// DefaultMaxBlobSize is the largest single content payload Read accepts
// when no limit option is set.
const DefaultMaxBlobSize = 1 << 32 // 4 GiB

// ReadOption configures archive parsing.
type ReadOption func(*readConfig)

type readConfig struct {
	maxBlobSize uint64
	logger      *slog.Logger
}

// ReadWithMaxBlobSize bounds the size of a single content payload. A blob
// length beyond the bound fails parsing before any allocation; this keeps
// a corrupted length field from demanding absurd memory.
func ReadWithMaxBlobSize(n uint64) ReadOption {
	return func(c *readConfig) {
		c.maxBlobSize = n
	}
}

// ReadWithLogger sets a logger on the returned Archive for debug events
// during later operations. Parsing itself emits no logs.
func ReadWithLogger(l *slog.Logger) ReadOption {
	return func(c *readConfig) {
		c.logger = l
	}
}

// Read parses an archive from r.
//
// Read validates the magic, format version, and section counts before
// trusting any lengths, and re-validates the structural invariants on the
// way in: no duplicate stored paths, no duplicate fingerprints, no entry
// referencing a fingerprint absent from the content store, entry sizes
// matching their blobs, and no trailing bytes. Any violation, and any
// truncation, fails with an error wrapping ErrFormat. There is no partial
// or best-effort recovery.
func Read(r io.Reader, opts ...ReadOption) (*Archive, error) {
	cfg := readConfig{maxBlobSize: DefaultMaxBlobSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &decoder{r: bufio.NewReader(r), cfg: cfg}
	return d.decode()
}

// Open reads the archive file at path.
func Open(path string, opts ...ReadOption) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	a, err := Read(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	return a, nil
}

type decoder struct {
	r   *bufio.Reader
	cfg readConfig
}

func (d *decoder) decode() (*Archive, error) {
	entryCount, blobCount, err := d.readHeader()
	if err != nil {
		return nil, err
	}

	catalog := NewCatalog()
	for i := uint32(0); i < entryCount; i++ {
		e, err := d.readEntry()
		if err != nil {
			return nil, err
		}
		if err := catalog.Append(e); err != nil {
			// A duplicate stored path inside a serialized catalog is
			// archive corruption, not a build-time collision.
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
	}

	store := NewContentStore()
	for i := uint32(0); i < blobCount; i++ {
		fp, data, err := d.readBlob()
		if err != nil {
			return nil, err
		}
		if _, existed, err := store.Insert(fp, data); err != nil {
			return nil, err
		} else if existed {
			return nil, fmt.Errorf("%w: duplicate fingerprint %s", ErrFormat, fp)
		}
	}

	if err := validateReferences(catalog, store); err != nil {
		return nil, err
	}
	if err := d.expectEOF(); err != nil {
		return nil, err
	}

	return newArchive(FormatVersion, catalog, store, d.cfg.logger), nil
}

func (d *decoder) readHeader() (entryCount, blobCount uint32, err error) {
	var header [3 + 2 + 4 + 4]byte
	if err := d.readFull(header[:], "header"); err != nil {
		return 0, 0, err
	}
	if [3]byte(header[:3]) != magic {
		return 0, 0, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	if v := binary.BigEndian.Uint16(header[3:5]); v != FormatVersion {
		return 0, 0, fmt.Errorf("%w: unsupported format version %d", ErrFormat, v)
	}
	entryCount = binary.BigEndian.Uint32(header[5:9])
	blobCount = binary.BigEndian.Uint32(header[9:13])
	return entryCount, blobCount, nil
}

func (d *decoder) readEntry() (Entry, error) {
	var fixed [2]byte
	if err := d.readFull(fixed[:], "entry catalog"); err != nil {
		return Entry{}, err
	}
	pathLen := binary.BigEndian.Uint16(fixed[:])

	path := make([]byte, pathLen)
	if err := d.readFull(path, "entry catalog"); err != nil {
		return Entry{}, err
	}

	var meta [8 + 8 + 8 + fingerprintLen]byte
	if err := d.readFull(meta[:], "entry catalog"); err != nil {
		return Entry{}, err
	}

	createdAt := int64(binary.BigEndian.Uint64(meta[0:8]))
	modifiedAt := int64(binary.BigEndian.Uint64(meta[8:16]))
	size := binary.BigEndian.Uint64(meta[16:24])

	return Entry{
		Path:        string(path),
		CreatedAt:   time.Unix(createdAt, 0),
		ModifiedAt:  time.Unix(modifiedAt, 0),
		Size:        size,
		Fingerprint: fingerprintFromBytes(meta[24:]),
	}, nil
}

func (d *decoder) readBlob() (fp digest.Digest, data []byte, err error) {
	var header [fingerprintLen + 8]byte
	if err := d.readFull(header[:], "content store"); err != nil {
		return "", nil, err
	}
	fp = fingerprintFromBytes(header[:fingerprintLen])

	length := binary.BigEndian.Uint64(header[fingerprintLen:])
	if length > d.cfg.maxBlobSize {
		return "", nil, fmt.Errorf("%w: blob %s length %d exceeds limit %d", ErrFormat, fp, length, d.cfg.maxBlobSize)
	}

	data = make([]byte, length)
	if err := d.readFull(data, "content store"); err != nil {
		return "", nil, err
	}
	return fp, data, nil
}

// readFull reads exactly len(p) bytes, mapping EOF conditions to a
// truncation FormatError for the named section.
func (d *decoder) readFull(p []byte, section string) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated %s", ErrFormat, section)
		}
		return err
	}
	return nil
}

// expectEOF rejects trailing bytes after the content store section.
func (d *decoder) expectEOF() error {
	if _, err := d.r.ReadByte(); err == nil {
		return fmt.Errorf("%w: trailing data after content store", ErrFormat)
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// validateReferences cross-checks the catalog and the content store: every
// entry fingerprint must resolve (no dangling references) with a size
// matching its blob, and every blob must be referenced by at least one
// entry. A build never emits an orphan blob, so one in a parsed archive is
// corruption; accepting it would also let StoredSize exceed LogicalSize
// and underflow the dedup accounting.
func validateReferences(catalog *Catalog, store *ContentStore) error {
	referenced := make(map[digest.Digest]struct{}, store.Len())
	for e := range catalog.Entries() {
		b, ok := store.Lookup(e.Fingerprint)
		if !ok {
			return fmt.Errorf("%w: entry %s references missing blob %s", ErrFormat, e.Path, e.Fingerprint)
		}
		if b.Size() != e.Size {
			return fmt.Errorf("%w: entry %s size %d does not match blob size %d", ErrFormat, e.Path, e.Size, b.Size())
		}
		referenced[e.Fingerprint] = struct{}{}
	}
	for b := range store.Blobs() {
		if _, ok := referenced[b.Fingerprint()]; !ok {
			return fmt.Errorf("%w: blob %s not referenced by any entry", ErrFormat, b.Fingerprint())
		}
	}
	return nil
}
