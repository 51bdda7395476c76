// Handles file upload, metadata, and signed download endpoints.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/NeverlandYao/iknow/internal/server/bandwidth"
	"github.com/NeverlandYao/iknow/internal/server/dto"
	"github.com/NeverlandYao/iknow/internal/server/reqctx"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/content"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	"github.com/maruel/ksid"
)

// multipartMemoryLimit is how much of an upload is held in memory before
// spooling to disk.
const multipartMemoryLimit = 32 << 20

// FileHandler handles file HTTP requests. Files are private to their
// uploader; cross-user access reads as not found.
type FileHandler struct {
	Svc *Services
	Cfg *Config
}

// UploadFile accepts a multipart upload, stores the payload, and queues
// image files for text recognition. Raw handler: multipart bodies don't
// fit the JSON request path.
func (h *FileHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	user := reqctx.User(r.Context())
	if user == nil {
		writeErrorResponse(w, dto.Unauthorized())
		return
	}

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeErrorResponse(w, dto.BadRequest("Invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorResponse(w, dto.MissingField("file"))
		return
	}
	defer func() { _ = file.Close() }()

	quotas := storage.EffectiveQuotas(h.Cfg.Quotas.ResourceQuotas, user.Quotas)
	stored, err := h.Svc.Files.Upload(r.Context(), user.ID, header.Filename, file, quotas)
	if err != nil {
		switch {
		case errors.Is(err, content.ErrFileTooLarge):
			writeErrorResponse(w, dto.PayloadTooLarge(quotas.MaxFileSizeBytes))
		case errors.Is(err, content.ErrQuotaExceeded):
			writeErrorResponse(w, dto.QuotaExceeded("storage"))
		default:
			writeErrorResponse(w, dto.InternalWithError("Failed to store file", err))
		}
		return
	}

	// Images flow straight into the recognition pipeline; the empty
	// language selects the uploader's configured default.
	if stored.IsImage() {
		if _, err := h.Svc.Pipeline.Enqueue(stored.ID, ""); err != nil {
			slog.ErrorContext(r.Context(), "Failed to enqueue recognition job",
				"error", err, "file_id", stored.ID)
		} else if f, err := h.Svc.Files.Get(stored.ID); err == nil {
			stored = f // reflect the pending recognition state
		}
	}

	writeJSON(w, http.StatusCreated, h.fileToResponse(stored))
}

// ListFiles returns the current user's files, newest first, with
// aggregate usage.
func (h *FileHandler) ListFiles(_ context.Context, user *identity.User, _ *dto.ListFilesRequest) (*dto.ListFilesResponse, error) {
	files := h.Svc.Files.List(user.ID)
	resp := &dto.ListFilesResponse{Files: make([]dto.FileResponse, len(files))}
	for i, f := range files {
		resp.Files[i] = *h.fileToResponse(f)
	}
	resp.TotalFiles, resp.TotalBytes = h.Svc.Files.Usage(user.ID)
	return resp, nil
}

// GetFile returns one file's metadata.
func (h *FileHandler) GetFile(_ context.Context, user *identity.User, req *dto.GetFileRequest) (*dto.GetFileResponse, error) {
	f, err := h.ownedFile(user, req.FileID)
	if err != nil {
		return nil, err
	}
	return h.fileToResponse(f), nil
}

// DeleteFile removes a file and its stored payload.
func (h *FileHandler) DeleteFile(_ context.Context, user *identity.User, req *dto.DeleteFileRequest) (*dto.DeleteFileResponse, error) {
	if _, err := h.ownedFile(user, req.FileID); err != nil {
		return nil, err
	}
	if err := h.Svc.Files.Delete(req.FileID); err != nil {
		return nil, dto.InternalWithError("Failed to delete file", err)
	}
	return &dto.DeleteFileResponse{Ok: true}, nil
}

// ServeFileContent streams a file payload for a signed URL. Raw handler:
// it serves bytes with range support, not JSON. Unauthenticated; the
// signature is the capability.
func (h *FileHandler) ServeFileContent(w http.ResponseWriter, r *http.Request) {
	fileID, err := ksid.Parse(r.PathValue("fileID"))
	if err != nil {
		writeErrorResponse(w, dto.NotFound("file"))
		return
	}
	name := r.PathValue("name")

	sig := r.URL.Query().Get("sig")
	expStr := r.URL.Query().Get("exp")
	if sig == "" || expStr == "" {
		writeErrorResponse(w, dto.Forbidden("Missing signature"))
		return
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		writeErrorResponse(w, dto.Forbidden("Invalid expiry"))
		return
	}
	if time.Now().Unix() > exp {
		writeErrorResponse(w, dto.Expired("Download link"))
		return
	}
	if !h.Cfg.VerifyFileSignature(fileID, name, exp, sig) {
		writeErrorResponse(w, dto.Forbidden("Invalid signature"))
		return
	}

	rc, f, err := h.Svc.Files.Open(fileID)
	if err != nil {
		writeErrorResponse(w, dto.NotFound("file"))
		return
	}
	defer func() { _ = rc.Close() }()

	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")

	// ServeContent handles range requests; the bandwidth writer paces the
	// bytes it produces against the shared egress budget.
	out := bandwidth.NewWriter(r.Context(), w, h.Svc.Bandwidth)
	http.ServeContent(out, r, f.Name, f.Created.AsTime(), rc)
}

// ownedFile fetches a file and hides other users' files as not found.
func (h *FileHandler) ownedFile(user *identity.User, id ksid.ID) (*content.File, error) {
	f, err := h.Svc.Files.Get(id)
	if err != nil {
		return nil, dto.NotFound("file")
	}
	if f.UploaderID != user.ID {
		return nil, dto.NotFound("file")
	}
	return f, nil
}

// fileToResponse converts a file row to its API representation with a
// fresh signed download URL.
func (h *FileHandler) fileToResponse(f *content.File) *dto.FileResponse {
	resp := &dto.FileResponse{
		ID:       f.ID,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
		Width:    f.Width,
		Height:   f.Height,
		URL:      h.Cfg.GenerateSignedFileURL(f.ID, f.Name),
		Created:  f.Created,
	}
	if f.OCR.State != content.OCRStateNone {
		resp.OCR = &dto.FileOCRStatus{
			State:      string(f.OCR.State),
			FragmentID: f.OCR.FragmentID,
			Language:   f.OCR.Language,
			Confidence: f.OCR.Confidence,
			Error:      f.OCR.Error,
		}
	}
	return resp
}
