package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/NeverlandYao/iknow/internal/jsonldb"
	"github.com/NeverlandYao/iknow/internal/ocr"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/maruel/ksid"
)

// OCRState tracks where a file sits in the recognition pipeline.
type OCRState string

const (
	// OCRStateNone is the zero state: the file was never enqueued.
	OCRStateNone    OCRState = ""
	OCRStatePending OCRState = "pending"
	OCRStateDone    OCRState = "done"
	OCRStateFailed  OCRState = "failed"
)

// OCRStatus is the recognition outcome stored on the file row.
type OCRStatus struct {
	State      OCRState `json:"state,omitempty"`
	FragmentID ksid.ID  `json:"fragment_id,omitzero"`
	Language   string   `json:"language,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// IsZero implements the interface for json omitzero.
func (o OCRStatus) IsZero() bool {
	return o == OCRStatus{}
}

// File is an uploaded file's metadata row. Payloads at or under the inline
// threshold live in Data; larger payloads live in the chunk store behind Ref.
// Exactly one of the two is set for non-empty files.
type File struct {
	ID       ksid.ID         `json:"id"`
	Name     string          `json:"name"`
	MimeType string          `json:"mime_type"`
	Size     int64           `json:"size"`
	Data     []byte          `json:"data,omitempty"`
	Ref      jsonldb.BlobRef `json:"ref,omitzero"`
	// Probed image info, zero when the payload is not a decodable image.
	Format     string       `json:"format,omitempty"`
	Width      int          `json:"width,omitempty"`
	Height     int          `json:"height,omitempty"`
	UploaderID ksid.ID      `json:"uploader_id"`
	Created    storage.Time `json:"created"`
	OCR        OCRStatus    `json:"ocr,omitzero"`
}

// Clone returns a deep copy.
func (f *File) Clone() *File {
	c := *f
	if f.Data != nil {
		c.Data = bytes.Clone(f.Data)
	}
	return &c
}

// GetID returns the file's ID.
func (f *File) GetID() ksid.ID {
	return f.ID
}

// Validate checks that the file row is well formed.
func (f *File) Validate() error {
	if f.ID.IsZero() {
		return errIDRequired
	}
	if f.Name == "" {
		return errFileNameEmpty
	}
	if f.Size < 0 {
		return errors.New("size cannot be negative")
	}
	if err := f.Ref.Validate(); err != nil {
		return err
	}
	if len(f.Data) > 0 && !f.Ref.IsZero() {
		return errors.New("file cannot be both inline and chunked")
	}
	return nil
}

// IsImage reports whether the payload probed as a supported image.
func (f *File) IsImage() bool {
	return f.Format != ""
}

// FileService stores uploaded files: metadata rows in a jsonldb table, large
// payloads in a content-addressed chunk store.
type FileService struct {
	table      *jsonldb.Table[*File]
	byUploader *jsonldb.Index[ksid.ID, *File]
	chunks     *jsonldb.ChunkStore

	inlineThreshold int64
	maxTotalBytes   int64 // Server-wide cap across all uploaders, 0 disables.
}

// NewFileService creates a file service. blobDir is the chunk store root.
func NewFileService(tablePath, blobDir string, inlineThreshold, maxTotalBytes int64) (*FileService, error) {
	table, err := jsonldb.NewTable[*File](tablePath)
	if err != nil {
		return nil, err
	}
	byUploader := jsonldb.NewIndex(table, func(f *File) ksid.ID { return f.UploaderID })
	return &FileService{
		table:           table,
		byUploader:      byUploader,
		chunks:          jsonldb.NewChunkStore(blobDir),
		inlineThreshold: inlineThreshold,
		maxTotalBytes:   maxTotalBytes,
	}, nil
}

// Upload reads the payload from r and stores it, inline or chunked by size.
// quotas are the uploader's effective limits; they are enforced before any
// byte is persisted and the payload is never read past the allowed size.
func (s *FileService) Upload(ctx context.Context, uploaderID ksid.ID, name string, r io.Reader, quotas storage.ResourceQuotas) (*File, error) {
	if uploaderID.IsZero() {
		return nil, errIDRequired
	}
	if name == "" {
		return nil, errFileNameEmpty
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if quotas.MaxFiles > 0 {
		count := 0
		for range s.byUploader.Iter(uploaderID) {
			count++
		}
		if count >= quotas.MaxFiles {
			return nil, ErrQuotaExceeded
		}
	}

	maxBytes, err := s.uploadByteCap(uploaderID, quotas)
	if err != nil {
		return nil, err
	}

	// Read one byte past the threshold to pick the persistence path.
	head := make([]byte, s.inlineThreshold+1)
	n, err := io.ReadFull(r, head)
	switch {
	case err == nil:
		return s.uploadChunked(uploaderID, name, head, r, maxBytes, quotas)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return s.uploadInline(uploaderID, name, head[:n], maxBytes, quotas)
	default:
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
}

// uploadByteCap computes the largest payload this upload may carry, folding
// the per-file cap, the uploader's remaining storage and the server-wide
// remaining storage. Zero means unlimited.
func (s *FileService) uploadByteCap(uploaderID ksid.ID, quotas storage.ResourceQuotas) (int64, error) {
	maxBytes := quotas.MaxFileSizeBytes
	if quotas.MaxStorageBytes > 0 {
		var used int64
		for f := range s.byUploader.Iter(uploaderID) {
			used += f.Size
		}
		remaining := quotas.MaxStorageBytes - used
		if remaining <= 0 {
			return 0, ErrQuotaExceeded
		}
		if maxBytes == 0 || remaining < maxBytes {
			maxBytes = remaining
		}
	}
	if s.maxTotalBytes > 0 {
		var total int64
		for f := range s.table.Iter(0) {
			total += f.Size
		}
		remaining := s.maxTotalBytes - total
		if remaining <= 0 {
			return 0, ErrQuotaExceeded
		}
		if maxBytes == 0 || remaining < maxBytes {
			maxBytes = remaining
		}
	}
	return maxBytes, nil
}

func (s *FileService) uploadInline(uploaderID ksid.ID, name string, data []byte, maxBytes int64, quotas storage.ResourceQuotas) (*File, error) {
	size := int64(len(data))
	if maxBytes > 0 && size > maxBytes {
		return nil, sizeError(size, quotas)
	}
	f := s.newFileRow(uploaderID, name, data, size)
	if size > 0 {
		f.Data = bytes.Clone(data)
	}
	if err := s.table.Append(f); err != nil {
		return nil, err
	}
	return f.Clone(), nil
}

func (s *FileService) uploadChunked(uploaderID ksid.ID, name string, head []byte, r io.Reader, maxBytes int64, quotas storage.ResourceQuotas) (*File, error) {
	w, err := s.chunks.Create()
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(head); err != nil {
		w.Abort()
		return nil, err
	}

	rest := r
	if maxBytes > 0 {
		// One byte of slack so exceeding the cap is observable.
		rest = io.LimitReader(r, maxBytes-int64(len(head))+1)
	}
	copied, err := io.Copy(w, rest)
	if err != nil {
		w.Abort()
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	size := int64(len(head)) + copied
	if maxBytes > 0 && size > maxBytes {
		w.Abort()
		return nil, sizeError(size, quotas)
	}

	ref, err := w.Close()
	if err != nil {
		return nil, err
	}
	f := s.newFileRow(uploaderID, name, head, size)
	f.Ref = ref
	if err := s.table.Append(f); err != nil {
		return nil, err
	}
	return f.Clone(), nil
}

// newFileRow builds the metadata row. sniff holds the payload's leading
// bytes for MIME detection and image probing.
func (s *FileService) newFileRow(uploaderID ksid.ID, name string, sniff []byte, size int64) *File {
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = http.DetectContentType(sniff)
	}
	f := &File{
		ID:         ksid.NewID(),
		Name:       name,
		MimeType:   mimeType,
		Size:       size,
		UploaderID: uploaderID,
		Created:    storage.Now(),
	}
	if info, err := ocr.Probe(sniff); err == nil {
		f.Format = info.Format
		f.Width = info.Width
		f.Height = info.Height
	}
	return f
}

func sizeError(size int64, quotas storage.ResourceQuotas) error {
	if quotas.MaxFileSizeBytes > 0 && size > quotas.MaxFileSizeBytes {
		return ErrFileTooLarge
	}
	return ErrQuotaExceeded
}

// Get returns a file's metadata.
func (s *FileService) Get(id ksid.ID) (*File, error) {
	f := s.table.Get(id)
	if f == nil {
		return nil, ErrFileNotFound
	}
	return f.Clone(), nil
}

// Open returns a streaming reader over the payload plus the metadata. The
// reader supports Seek for HTTP range serving on both paths.
func (s *FileService) Open(id ksid.ID) (io.ReadSeekCloser, *File, error) {
	f := s.table.Get(id)
	if f == nil {
		return nil, nil, ErrFileNotFound
	}
	if f.Ref.IsZero() {
		// Rows are swapped wholesale on modification, so the slice is safe
		// to read without copying.
		return inlineReader{bytes.NewReader(f.Data)}, f.Clone(), nil
	}
	rc, err := s.chunks.Open(f.Ref)
	if err != nil {
		return nil, nil, err
	}
	return rc, f.Clone(), nil
}

type inlineReader struct {
	*bytes.Reader
}

func (inlineReader) Close() error { return nil }

// List returns files newest first. A non-zero uploaderID keeps only that
// uploader's files.
func (s *FileService) List(uploaderID ksid.ID) []*File {
	var out []*File
	for f := range s.table.Iter(0) {
		if !uploaderID.IsZero() && f.UploaderID != uploaderID {
			continue
		}
		out = append(out, f.Clone())
	}
	// Table iteration is ID-ascending, so reversing gives newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Count returns the number of stored files.
func (s *FileService) Count() int {
	return s.table.Len()
}

// Usage returns the file count and total payload bytes for an uploader, or
// for the whole table when uploaderID is zero.
func (s *FileService) Usage(uploaderID ksid.ID) (int, int64) {
	count := 0
	var total int64
	for f := range s.table.Iter(0) {
		if !uploaderID.IsZero() && f.UploaderID != uploaderID {
			continue
		}
		count++
		total += f.Size
	}
	return count, total
}

// Delete removes the metadata row, then the chunked payload when no other
// row shares it. The row goes first: a dangling payload is collectable
// garbage, a dangling row is an error.
func (s *FileService) Delete(id ksid.ID) error {
	f := s.table.Get(id)
	if f == nil {
		return ErrFileNotFound
	}
	ref := f.Ref

	deleted, err := s.table.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrFileNotFound
	}

	if !ref.IsZero() && !s.refInUse(ref) {
		if err := s.chunks.Remove(ref); err != nil {
			slog.Error("failed to remove file payload", "id", id, "ref", ref, "error", err)
		}
	}
	return nil
}

func (s *FileService) refInUse(ref jsonldb.BlobRef) bool {
	for f := range s.table.Iter(0) {
		if f.Ref == ref {
			return true
		}
	}
	return false
}

// GC removes chunk-store data no file row references.
func (s *FileService) GC() error {
	used := make(map[jsonldb.BlobRef]int)
	for f := range s.table.Iter(0) {
		if !f.Ref.IsZero() {
			used[f.Ref]++
		}
	}
	return s.chunks.GC(used)
}

// MarkOCRPending moves a file into the recognition queue state. Re-running
// recognition on a done or failed file returns it to pending.
func (s *FileService) MarkOCRPending(id ksid.ID, language string) (*File, error) {
	return s.modify(id, func(f *File) error {
		f.OCR = OCRStatus{State: OCRStatePending, Language: language}
		return nil
	})
}

// MarkOCRDone records a successful recognition.
func (s *FileService) MarkOCRDone(id, fragmentID ksid.ID, language string, confidence float64) (*File, error) {
	return s.modify(id, func(f *File) error {
		if f.OCR.State != OCRStatePending {
			return fmt.Errorf("%w: %q to done", errOCRTransition, f.OCR.State)
		}
		f.OCR = OCRStatus{State: OCRStateDone, FragmentID: fragmentID, Language: language, Confidence: confidence}
		return nil
	})
}

// MarkOCRFailed records a permanently failed recognition.
func (s *FileService) MarkOCRFailed(id ksid.ID, message string) (*File, error) {
	return s.modify(id, func(f *File) error {
		if f.OCR.State != OCRStatePending {
			return fmt.Errorf("%w: %q to failed", errOCRTransition, f.OCR.State)
		}
		f.OCR = OCRStatus{State: OCRStateFailed, Language: f.OCR.Language, Error: message}
		return nil
	})
}

func (s *FileService) modify(id ksid.ID, fn func(f *File) error) (*File, error) {
	f, err := s.table.Modify(id, fn)
	if err != nil {
		if errors.Is(err, jsonldb.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return f.Clone(), nil
}
