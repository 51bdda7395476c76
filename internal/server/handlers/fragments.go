// Handles the knowledge fragment library endpoints.

package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/NeverlandYao/iknow/internal/server/dto"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/content"
	"github.com/NeverlandYao/iknow/internal/storage/git"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
)

// defaultHistoryLimit bounds history responses when the client does not
// ask for a specific count.
const defaultHistoryLimit = 50

// FragmentHandler handles fragment library HTTP requests.
// The library is shared across all users; every mutation is committed to
// git authored by the acting user.
type FragmentHandler struct {
	Svc *Services
	Cfg *Config
}

// ListFragments lists fragments, newest first, optionally filtered by tag.
func (h *FragmentHandler) ListFragments(_ context.Context, _ *identity.User, req *dto.ListFragmentsRequest) (*dto.ListFragmentsResponse, error) {
	frags, err := h.Svc.Fragments.List(req.Tag)
	if err != nil {
		return nil, dto.InternalWithError("Failed to list fragments", err)
	}
	summaries := make([]dto.FragmentSummary, len(frags))
	for i, f := range frags {
		summaries[i] = dto.FragmentSummary{
			ID:       f.ID,
			Title:    f.Title,
			Tags:     f.Tags,
			Language: f.Language,
			Created:  f.Created,
			Modified: f.Modified,
		}
	}
	return &dto.ListFragmentsResponse{Fragments: summaries}, nil
}

// GetFragment returns a single fragment with its full content.
func (h *FragmentHandler) GetFragment(_ context.Context, _ *identity.User, req *dto.GetFragmentRequest) (*dto.GetFragmentResponse, error) {
	f, err := h.Svc.Fragments.Get(req.FragmentID)
	if err != nil {
		return nil, dto.NotFound("fragment")
	}
	return fragmentToResponse(f), nil
}

// CreateFragment creates a fragment and indexes it for search.
func (h *FragmentHandler) CreateFragment(ctx context.Context, user *identity.User, req *dto.CreateFragmentRequest) (*dto.CreateFragmentResponse, error) {
	f := &content.Fragment{
		Title:    req.Title,
		Content:  req.Content,
		Tags:     req.Tags,
		Language: req.Language,
	}
	created, err := h.Svc.Fragments.Create(ctx, gitAuthor(user), f, h.Cfg.Quotas.MaxFragments)
	if err != nil {
		if errors.Is(err, content.ErrQuotaExceeded) {
			return nil, dto.QuotaExceeded("fragments")
		}
		return nil, dto.InternalWithError("Failed to create fragment", err)
	}
	h.indexFragment(ctx, created)
	return &dto.CreateFragmentResponse{ID: created.ID}, nil
}

// UpdateFragment replaces a fragment's content and reindexes it.
func (h *FragmentHandler) UpdateFragment(ctx context.Context, user *identity.User, req *dto.UpdateFragmentRequest) (*dto.UpdateFragmentResponse, error) {
	updated, err := h.Svc.Fragments.Update(ctx, gitAuthor(user), req.FragmentID, func(f *content.Fragment) error {
		f.Title = req.Title
		f.Content = req.Content
		f.Tags = req.Tags
		f.Language = req.Language
		return nil
	})
	if err != nil {
		if errors.Is(err, content.ErrFragmentNotFound) {
			return nil, dto.NotFound("fragment")
		}
		return nil, dto.InternalWithError("Failed to update fragment", err)
	}
	h.indexFragment(ctx, updated)
	return &dto.UpdateFragmentResponse{ID: updated.ID}, nil
}

// DeleteFragment removes a fragment and its search entry.
func (h *FragmentHandler) DeleteFragment(ctx context.Context, user *identity.User, req *dto.DeleteFragmentRequest) (*dto.DeleteFragmentResponse, error) {
	if err := h.Svc.Fragments.Delete(ctx, gitAuthor(user), req.FragmentID); err != nil {
		if errors.Is(err, content.ErrFragmentNotFound) {
			return nil, dto.NotFound("fragment")
		}
		return nil, dto.InternalWithError("Failed to delete fragment", err)
	}
	if err := h.Svc.Search.Remove(req.FragmentID); err != nil {
		slog.ErrorContext(ctx, "Failed to remove fragment from search index",
			"error", err, "fragment_id", req.FragmentID)
	}
	return &dto.DeleteFragmentResponse{Ok: true}, nil
}

// GetFragmentHistory returns the git revision history of a fragment.
func (h *FragmentHandler) GetFragmentHistory(ctx context.Context, _ *identity.User, req *dto.GetFragmentHistoryRequest) (*dto.GetFragmentHistoryResponse, error) {
	if !h.Svc.Fragments.Exists(req.FragmentID) {
		return nil, dto.NotFound("fragment")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	commits, err := h.Svc.Fragments.History(ctx, req.FragmentID, limit)
	if err != nil {
		return nil, dto.InternalWithError("Failed to get fragment history", err)
	}
	history := make([]dto.Commit, len(commits))
	for i, c := range commits {
		history[i] = dto.Commit{
			Hash:        c.Hash,
			Message:     c.Message,
			AuthorName:  c.Author,
			AuthorEmail: c.AuthorEmail,
			Timestamp:   storage.ToTime(c.AuthorDate),
		}
	}
	return &dto.GetFragmentHistoryResponse{History: history}, nil
}

// GetFragmentVersion returns a fragment as of a specific revision.
func (h *FragmentHandler) GetFragmentVersion(ctx context.Context, _ *identity.User, req *dto.GetFragmentVersionRequest) (*dto.GetFragmentVersionResponse, error) {
	f, err := h.Svc.Fragments.GetVersion(ctx, req.FragmentID, req.Hash)
	if err != nil {
		return nil, dto.NotFound("fragment version")
	}
	return &dto.GetFragmentVersionResponse{
		Hash:     req.Hash,
		Title:    f.Title,
		Content:  f.Content,
		Tags:     f.Tags,
		Language: f.Language,
	}, nil
}

// indexFragment updates the search index. Index errors are logged, not
// surfaced: the index can always be rebuilt from the library.
func (h *FragmentHandler) indexFragment(ctx context.Context, f *content.Fragment) {
	if err := h.Svc.Search.Index(f); err != nil {
		slog.ErrorContext(ctx, "Failed to index fragment", "error", err, "fragment_id", f.ID)
	}
}

// fragmentToResponse converts a fragment to its API representation.
func fragmentToResponse(f *content.Fragment) *dto.GetFragmentResponse {
	return &dto.GetFragmentResponse{
		ID:           f.ID,
		Title:        f.Title,
		Content:      f.Content,
		Tags:         f.Tags,
		Language:     f.Language,
		SourceFileID: f.SourceFileID,
		Created:      f.Created,
		Modified:     f.Modified,
	}
}

// gitAuthor is the commit identity of the acting user.
func gitAuthor(user *identity.User) git.Author {
	name := user.Name
	if name == "" {
		name = user.Email
	}
	return git.Author{Name: name, Email: user.Email}
}
