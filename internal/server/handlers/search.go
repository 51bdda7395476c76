// Handles full-text search endpoints.

package handlers

import (
	"context"

	"github.com/NeverlandYao/iknow/internal/server/dto"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
)

const defaultSearchLimit = 20

// SearchHandler handles search HTTP requests.
type SearchHandler struct {
	Svc *Services
	Cfg *Config
}

// Search runs a full-text query over the fragment library.
func (h *SearchHandler) Search(_ context.Context, _ *identity.User, req *dto.SearchRequest) (*dto.SearchResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}
	hits, err := h.Svc.Search.Query(req.Query, limit)
	if err != nil {
		return nil, dto.InternalWithError("Search failed", err)
	}
	resp := &dto.SearchResponse{Results: make([]dto.SearchResult, len(hits))}
	for i, hit := range hits {
		resp.Results[i] = dto.SearchResult{
			FragmentID: hit.FragmentID,
			Title:      hit.Title,
			Snippet:    hit.Snippet,
			Rank:       hit.Rank,
		}
	}
	return resp, nil
}
