// Chunked storage for large objects: content-addressed manifests over
// fixed-size chunks, allowing range reads without loading whole objects.

package jsonldb

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultChunkSize is the chunk size for newly written objects.
const DefaultChunkSize = 256 * 1024

const (
	manifestDirName  = "manifests"
	chunkDirName     = "chunks"
	manifestVersion  = 1
	maxManifestBytes = 8 * 1024 * 1024
)

var (
	errBadManifest   = errors.New("invalid chunk manifest")
	errShortManifest = errors.New("chunk manifest does not cover object size")
)

// chunkManifest describes how an object is split into chunks.
//
// Chunks are content-addressed blobs; identical chunks across objects share a
// single file on disk.
type chunkManifest struct {
	Version   int       `json:"version"`
	Size      int64     `json:"size"`
	ChunkSize int64     `json:"chunk_size"`
	Chunks    []BlobRef `json:"chunks"`
}

func (m *chunkManifest) validate() error {
	if m.Version != manifestVersion || m.Size < 0 || m.ChunkSize <= 0 {
		return errBadManifest
	}
	want := (m.Size + m.ChunkSize - 1) / m.ChunkSize
	if int64(len(m.Chunks)) != want {
		return errShortManifest
	}
	for _, ref := range m.Chunks {
		if ref.IsZero() || ref.Validate() != nil {
			return errBadManifest
		}
	}
	return nil
}

// ChunkStore stores large objects as fixed-size content-addressed chunks.
//
// An object is identified by the [BlobRef] of its full content. The layout is
// <dir>/manifests/<aa>/<hash>-<size> for manifests and <dir>/chunks/... for
// the chunk files, with the same 256-way fan-out as single-file blobs.
// Identical content is stored once, at both object and chunk granularity.
type ChunkStore struct {
	dir       string
	chunks    *blobStore
	chunkSize int64
}

// NewChunkStore creates a chunk store rooted at dir. Directories are created
// lazily on first write.
func NewChunkStore(dir string) *ChunkStore {
	return &ChunkStore{
		dir:       dir,
		chunks:    &blobStore{dir: filepath.Join(dir, chunkDirName)},
		chunkSize: DefaultChunkSize,
	}
}

// Create returns a [ChunkWriter] for streaming a new object into the store.
func (cs *ChunkStore) Create() (*ChunkWriter, error) {
	if err := os.MkdirAll(filepath.Join(cs.dir, manifestDirName), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &ChunkWriter{
		store:  cs,
		hasher: sha256.New(),
		buf:    make([]byte, 0, cs.chunkSize),
	}, nil
}

// Open returns a seekable reader over the object with the given ref.
//
// The reader opens chunk files lazily, so serving a range request touches only
// the chunks that overlap the range. The caller must close the reader.
func (cs *ChunkStore) Open(ref BlobRef) (*ChunkReader, error) {
	m, err := cs.loadManifest(ref)
	if err != nil {
		return nil, err
	}
	return &ChunkReader{store: cs, manifest: m, fileIdx: -1}, nil
}

// Exists reports whether an object with the given ref is stored.
func (cs *ChunkStore) Exists(ref BlobRef) bool {
	if ref.Validate() != nil || ref.IsZero() {
		return false
	}
	if ref == emptyBlobRef {
		return true
	}
	_, err := os.Stat(cs.pathForManifest(ref))
	return err == nil
}

// Remove deletes the object's manifest.
//
// Chunk files are left in place because they may be shared with other objects;
// [ChunkStore.GC] reclaims them.
func (cs *ChunkStore) Remove(ref BlobRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if ref == emptyBlobRef {
		return nil
	}
	if err := os.Remove(cs.pathForManifest(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}
	return nil
}

// GC removes manifests not in usedRefs, then removes chunks referenced by no
// remaining manifest.
//
// This is a stop-the-world GC: caller should ensure no writes are in progress.
func (cs *ChunkStore) GC(usedRefs map[BlobRef]int) error {
	root := filepath.Join(cs.dir, manifestDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read manifest directory: %w", err)
	}

	var errs []error
	usedChunks := map[BlobRef]int{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !isValidBase32Prefix(name) {
			if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove unknown entry %s: %w", name, err))
			}
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, name))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read subdir %s: %w", name, err))
			continue
		}
		for _, file := range files {
			filePath := filepath.Join(root, name, file.Name())
			ref := BlobRef(blobRefPrefix + name + file.Name())
			if file.IsDir() || ref.Validate() != nil {
				if err := os.RemoveAll(filePath); err != nil {
					errs = append(errs, fmt.Errorf("failed to remove unknown file %s: %w", file.Name(), err))
				}
				continue
			}
			if usedRefs[ref] == 0 {
				if err := os.Remove(filePath); err != nil {
					errs = append(errs, fmt.Errorf("failed to remove orphan manifest %s: %w", ref, err))
				}
				continue
			}
			m, err := cs.loadManifest(ref)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to load manifest %s: %w", ref, err))
				continue
			}
			for _, c := range m.Chunks {
				usedChunks[c]++
			}
		}
	}
	if err := cs.chunks.gc(usedChunks); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (cs *ChunkStore) pathForManifest(ref BlobRef) string {
	hashPart := string(ref)[7:]
	return filepath.Join(cs.dir, manifestDirName, hashPart[:2], hashPart[2:])
}

func (cs *ChunkStore) loadManifest(ref BlobRef) (*chunkManifest, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if ref.IsZero() {
		return nil, errUnsetBlob
	}
	if ref == emptyBlobRef {
		return &chunkManifest{Version: manifestVersion, Size: 0, ChunkSize: cs.chunkSize}, nil
	}
	data, err := os.ReadFile(cs.pathForManifest(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	if len(data) > maxManifestBytes {
		return nil, errBadManifest
	}
	m := &chunkManifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadManifest, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

//

// ChunkWriter streams data into a [ChunkStore], flushing a content-addressed
// chunk every chunkSize bytes and computing the full-content hash in parallel.
//
// Call [ChunkWriter.Close] to write the manifest and obtain the object ref, or
// [ChunkWriter.Abort] to discard buffered data. Chunks already flushed by an
// aborted writer are reclaimed by the next GC.
type ChunkWriter struct {
	store  *ChunkStore
	hasher hash.Hash
	buf    []byte
	chunks []BlobRef
	size   int64
	closed bool
}

// Write implements io.Writer.
func (w *ChunkWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	w.hasher.Write(p)
	w.size += int64(len(p))
	total := len(p)
	for len(p) > 0 {
		room := int(w.store.chunkSize) - len(w.buf)
		if room > len(p) {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
		p = p[room:]
		if int64(len(w.buf)) == w.store.chunkSize {
			if err := w.flushChunk(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

// Close flushes the final partial chunk, writes the manifest, and returns the
// object ref. Writing content that already exists is a no-op that returns the
// same ref.
func (w *ChunkWriter) Close() (BlobRef, error) {
	if w.closed {
		return "", fs.ErrClosed
	}
	w.closed = true

	// Empty object optimization: no manifest, hardcoded ref.
	if w.size == 0 {
		return emptyBlobRef, nil
	}
	if len(w.buf) > 0 {
		if err := w.flushChunk(); err != nil {
			return "", err
		}
	}

	ref := refFor(w.hasher, w.size)
	m := chunkManifest{
		Version:   manifestVersion,
		Size:      w.size,
		ChunkSize: w.store.chunkSize,
		Chunks:    w.chunks,
	}
	data, err := json.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}

	target := w.store.pathForManifest(ref)
	if _, err := os.Stat(target); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("failed to create manifest subdirectory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create manifest temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return "", errors.Join(fmt.Errorf("failed to write manifest: %w", err), tmp.Close(), os.Remove(tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Join(fmt.Errorf("failed to close manifest: %w", err), os.Remove(tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", errors.Join(fmt.Errorf("failed to rename manifest: %w", err), os.Remove(tmp.Name()))
	}
	return ref, nil
}

// Abort discards buffered data. Safe to call after Close.
func (w *ChunkWriter) Abort() {
	w.closed = true
	w.buf = nil
}

func (w *ChunkWriter) flushChunk() error {
	bw, err := w.store.chunks.newBlob()
	if err != nil {
		return err
	}
	if _, err := bw.Write(w.buf); err != nil {
		return errors.Join(err, bw.Abort())
	}
	blob, err := bw.Close()
	if err != nil {
		return err
	}
	w.chunks = append(w.chunks, blob.Ref)
	w.buf = w.buf[:0]
	return nil
}

//

// ChunkReader reads an object from a [ChunkStore].
//
// Implements io.ReadSeekCloser so it can back http.ServeContent range
// requests. Chunk files are opened lazily as the read position crosses chunk
// boundaries.
type ChunkReader struct {
	store    *ChunkStore
	manifest *chunkManifest
	pos      int64
	file     *os.File
	fileIdx  int
}

// Size returns the total object size.
func (r *ChunkReader) Size() int64 {
	return r.manifest.Size
}

// Read implements io.Reader. Reads never span a chunk boundary; callers get a
// short read at the edge and continue with the next call.
func (r *ChunkReader) Read(p []byte) (int, error) {
	if r.pos >= r.manifest.Size {
		return 0, io.EOF
	}
	idx := int(r.pos / r.manifest.ChunkSize)
	if r.file == nil || r.fileIdx != idx {
		if err := r.openChunk(idx); err != nil {
			return 0, err
		}
	}
	remain := r.manifest.Size - r.pos
	if int64(len(p)) > remain {
		p = p[:remain]
	}
	n, err := r.file.Read(p)
	r.pos += int64(n)
	if err == io.EOF && r.pos < r.manifest.Size {
		// Chunk exhausted but object continues; next Read opens the next chunk.
		_ = r.file.Close()
		r.file = nil
		if n == 0 {
			// Chunk file shorter than the manifest claims.
			return 0, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker.
func (r *ChunkReader) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = r.pos + offset
	case io.SeekEnd:
		pos = r.manifest.Size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative position %d", pos)
	}
	if pos != r.pos && r.file != nil {
		_ = r.file.Close()
		r.file = nil
		r.fileIdx = -1
	}
	r.pos = pos
	return pos, nil
}

// Close implements io.Closer.
func (r *ChunkReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *ChunkReader) openChunk(idx int) error {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	f, err := os.Open(r.store.chunks.pathForRef(r.manifest.Chunks[idx]))
	if err != nil {
		return fmt.Errorf("failed to open chunk %d: %w", idx, err)
	}
	if off := r.pos % r.manifest.ChunkSize; off != 0 {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return errors.Join(fmt.Errorf("failed to seek chunk %d: %w", idx, err), f.Close())
		}
	}
	r.file = f
	r.fileIdx = idx
	return nil
}
