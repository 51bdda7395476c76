package handlers

import (
	"context"

	"github.com/NeverlandYao/iknow/internal/server/dto"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	Version   string
	GoVersion string
	Revision  string
	Dirty     bool
}

// Health reports server liveness and build information.
func (h *HealthHandler) Health(_ context.Context, _ *dto.HealthRequest) (*dto.HealthResponse, error) {
	return &dto.HealthResponse{
		Status:    "ok",
		Version:   h.Version,
		GoVersion: h.GoVersion,
		Revision:  h.Revision,
		Dirty:     h.Dirty,
	}, nil
}
