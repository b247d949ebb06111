package blob

import (
	"crypto/sha1" //nolint:gosec // sha1 is a dedup aid here, not an integrity guarantee
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"repofs/pkg/log"
)

const (
	dirPerm  = 0750
	filePerm = 0640
)

// FileStore is a filesystem blob store. Content lives under
// <root>/blobs/<id[0:2]>/<id>.bin with a JSON attributes sidecar; writes go
// through a temp file and an atomic rename so a blob is either fully present
// or absent.
type FileStore struct {
	name     string
	root     string
	compress bool
	now      func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithCompression enables zstd compression of blob bytes at rest. Digests
// are always computed over the uncompressed content.
func WithCompression() Option {
	return func(f *FileStore) {
		f.compress = true
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *FileStore) {
		f.now = now
	}
}

// NewFileStore creates a blob store rooted at root.
func NewFileStore(name, root string, opts ...Option) (*FileStore, error) {
	f := &FileStore{name: name, root: root, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}

	for _, dir := range []string{filepath.Join(root, "blobs"), filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("%w: failed to create %s: %w", ErrBlobStore, dir, err)
		}
	}
	return f, nil
}

// Name identifies this store in blob references.
func (f *FileStore) Name() string {
	return f.name
}

// blobRecord is the sidecar attributes file layout.
type blobRecord struct {
	Headers map[string]string `json:"headers"`
	Metrics Metrics           `json:"metrics"`
}

func (f *FileStore) contentPath(id string) string {
	return filepath.Join(f.root, "blobs", id[:2], id+".bin")
}

func (f *FileStore) attrsPath(id string) string {
	return filepath.Join(f.root, "blobs", id[:2], id+".attrs")
}

// Create streams content in, hashing while writing, then renames the temp
// file into place and writes the attributes sidecar.
func (f *FileStore) Create(reader io.Reader, headers map[string]string) (*Blob, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	tmp, err := os.CreateTemp(filepath.Join(f.root, "tmp"), "inbound-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp file: %w", ErrBlobStore, err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	sha1Hasher := sha1.New() //nolint:gosec // dedup aid, see package note
	sha256Hasher := sha256.New()

	var (
		dst  io.Writer = tmp
		zenc *zstd.Encoder
	)
	if f.compress {
		zenc, err = zstd.NewWriter(tmp)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBlobStore, err)
		}
		dst = zenc
	}

	size, err := io.Copy(io.MultiWriter(sha1Hasher, sha256Hasher, dst), reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write content: %w", ErrBlobStore, err)
	}
	if zenc != nil {
		if err := zenc.Close(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBlobStore, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobStore, err)
	}

	if err := os.MkdirAll(filepath.Dir(f.contentPath(id)), dirPerm); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobStore, err)
	}

	stored := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		stored[k] = v
	}
	if f.compress {
		stored[headerCompression] = "zstd"
	}

	record := blobRecord{
		Headers: stored,
		Metrics: Metrics{
			Size:      size,
			SHA1:      hex.EncodeToString(sha1Hasher.Sum(nil)),
			SHA256:    hex.EncodeToString(sha256Hasher.Sum(nil)),
			CreatedAt: f.now(),
		},
	}

	if err := f.writeRecord(id, record); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), f.contentPath(id)); err != nil {
		_ = os.Remove(f.attrsPath(id))
		return nil, fmt.Errorf("%w: failed to place blob: %w", ErrBlobStore, err)
	}

	log.Debug().
		Str("blob_id", id).
		Int64("size", size).
		Str("store", f.name).
		Msg("Blob created")

	return &Blob{ID: id, Headers: stored, Metrics: record.Metrics}, nil
}

func (f *FileStore) writeRecord(id string, record blobRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBlobStore, err)
	}
	if err := os.WriteFile(f.attrsPath(id), raw, filePerm); err != nil {
		return fmt.Errorf("%w: failed to write attributes: %w", ErrBlobStore, err)
	}
	return nil
}

func (f *FileStore) readRecord(id string) (*blobRecord, error) {
	raw, err := os.ReadFile(f.attrsPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobStore, err)
	}
	var record blobRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: corrupt attributes for %s: %w", ErrBlobStore, id, err)
	}
	return &record, nil
}

// Get returns the blob handle, soft-deleted blobs included.
func (f *FileStore) Get(id string) (*Blob, error) {
	record, err := f.readRecord(id)
	if err != nil {
		return nil, err
	}
	return &Blob{ID: id, Headers: record.Headers, Metrics: record.Metrics}, nil
}

// Open returns the content stream, transparently decompressing.
func (f *FileStore) Open(id string) (io.ReadCloser, error) {
	record, err := f.readRecord(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(f.contentPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobStore, err)
	}

	if record.Headers[headerCompression] != "zstd" {
		return file, nil
	}

	zdec, err := zstd.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %w", ErrBlobStore, err)
	}
	return &zstdReadCloser{dec: zdec, file: file}, nil
}

type zstdReadCloser struct {
	dec  *zstd.Decoder
	file *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.file.Close()
}

// Exists reports whether a live blob exists under id.
func (f *FileStore) Exists(id string) (bool, error) {
	record, err := f.readRecord(id)
	if err != nil {
		var notFound NotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return record.Headers[headerDeleted] != "true", nil
}

// Delete soft-deletes the blob: the tombstone goes into the attributes
// sidecar, the bytes stay until DeleteHard.
func (f *FileStore) Delete(id, reason string) error {
	record, err := f.readRecord(id)
	if err != nil {
		return err
	}
	record.Headers[headerDeleted] = "true"
	record.Headers[headerDeletedReason] = reason
	if err := f.writeRecord(id, *record); err != nil {
		return err
	}

	log.Debug().Str("blob_id", id).Str("reason", reason).Msg("Blob soft-deleted")
	return nil
}

// DeleteHard removes content and attributes immediately.
func (f *FileStore) DeleteHard(id string) error {
	if _, err := f.readRecord(id); err != nil {
		return err
	}
	if err := os.Remove(f.contentPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrBlobStore, err)
	}
	if err := os.Remove(f.attrsPath(id)); err != nil {
		return fmt.Errorf("%w: %w", ErrBlobStore, err)
	}
	return nil
}

// Attributes returns the stored header map.
func (f *FileStore) Attributes(id string) (map[string]string, error) {
	record, err := f.readRecord(id)
	if err != nil {
		return nil, err
	}
	return record.Headers, nil
}

// LiveIDs lists ids of blobs not soft-deleted.
func (f *FileStore) LiveIDs() ([]string, error) {
	return f.listIDs(false)
}

// DeletedIDs lists soft-deleted blob ids awaiting compaction.
func (f *FileStore) DeletedIDs() ([]string, error) {
	return f.listIDs(true)
}

func (f *FileStore) listIDs(deleted bool) ([]string, error) {
	var ids []string
	root := filepath.Join(f.root, "blobs")
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".attrs") {
			return nil
		}
		id := strings.TrimSuffix(filepath.Base(path), ".attrs")
		record, err := f.readRecord(id)
		if err != nil {
			return err
		}
		if (record.Headers[headerDeleted] == "true") == deleted {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobStore, err)
	}
	return ids, nil
}
