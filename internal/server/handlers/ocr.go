// Handles text-recognition job endpoints.

package handlers

import (
	"context"
	"errors"

	"github.com/NeverlandYao/iknow/internal/enrich"
	"github.com/NeverlandYao/iknow/internal/server/dto"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	"github.com/maruel/ksid"
)

const defaultJobListLimit = 50

// OCRHandler handles recognition job HTTP requests. Jobs inherit the
// visibility of the file they were created for.
type OCRHandler struct {
	Svc *Services
	Cfg *Config
}

// RunOCR queues a recognition job for one of the user's files. Re-running
// a file that already has a job creates a new job; the latest one wins
// when both produce a fragment.
func (h *OCRHandler) RunOCR(_ context.Context, user *identity.User, req *dto.RunOCRRequest) (*dto.RunOCRResponse, error) {
	f, err := h.Svc.Files.Get(req.FileID)
	if err != nil || f.UploaderID != user.ID {
		return nil, dto.NotFound("file")
	}
	job, err := h.Svc.Pipeline.Enqueue(req.FileID, req.Language)
	if err != nil {
		if errors.Is(err, enrich.ErrNotImage) {
			return nil, dto.UnsupportedMedia("File is not a recognizable image")
		}
		return nil, dto.InternalWithError("Failed to enqueue recognition job", err)
	}
	return jobToResponse(job), nil
}

// ListOCRJobs returns the user's recent recognition jobs, newest first.
func (h *OCRHandler) ListOCRJobs(_ context.Context, user *identity.User, req *dto.ListOCRJobsRequest) (*dto.ListOCRJobsResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = defaultJobListLimit
	}
	jobs := h.Svc.Pipeline.ListRecent(user.ID, limit)
	resp := &dto.ListOCRJobsResponse{Jobs: make([]dto.OCRJobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = *jobToResponse(job)
	}
	return resp, nil
}

// GetOCRJob returns one job's state.
func (h *OCRHandler) GetOCRJob(_ context.Context, user *identity.User, req *dto.GetOCRJobRequest) (*dto.GetOCRJobResponse, error) {
	job, err := h.ownedJob(user, req.JobID)
	if err != nil {
		return nil, err
	}
	return jobToResponse(job), nil
}

// GetOCRResult returns the recognized text and word geometry of a
// succeeded job.
func (h *OCRHandler) GetOCRResult(_ context.Context, user *identity.User, req *dto.GetOCRResultRequest) (*dto.GetOCRResultResponse, error) {
	if _, err := h.ownedJob(user, req.JobID); err != nil {
		return nil, err
	}
	result, err := h.Svc.Pipeline.Result(req.JobID)
	if err != nil {
		if errors.Is(err, enrich.ErrNoResult) {
			return nil, dto.NotFound("recognition result")
		}
		return nil, dto.InternalWithError("Failed to load recognition result", err)
	}
	resp := &dto.GetOCRResultResponse{
		Text:       result.Text,
		Words:      make([]dto.OCRWord, len(result.Words)),
		Confidence: result.Confidence,
		Language:   result.Language,
	}
	for i, word := range result.Words {
		resp.Words[i] = dto.OCRWord{
			Text: word.Text,
			Box: dto.OCRBox{
				X:      word.Box.Min.X,
				Y:      word.Box.Min.Y,
				Width:  word.Box.Dx(),
				Height: word.Box.Dy(),
			},
			Confidence: word.Confidence,
		}
	}
	return resp, nil
}

// ownedJob fetches a job and hides other users' jobs as not found.
func (h *OCRHandler) ownedJob(user *identity.User, id ksid.ID) (*enrich.Job, error) {
	job, err := h.Svc.Pipeline.Get(id)
	if err != nil || job.UploaderID != user.ID {
		return nil, dto.NotFound("job")
	}
	return job, nil
}

func jobToResponse(job *enrich.Job) *dto.OCRJobResponse {
	return &dto.OCRJobResponse{
		ID:          job.ID,
		FileID:      job.FileID,
		Language:    job.Language,
		State:       string(job.State),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Error:       job.Error,
		FragmentID:  job.FragmentID,
		Enqueued:    job.Enqueued,
		Started:     job.Started,
		Finished:    job.Finished,
	}
}
