// Package enrich runs the asynchronous recognition pipeline: uploaded
// images are OCRed, the extracted text becomes a knowledge fragment, the
// fragment is indexed for search and the uploader is notified.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/NeverlandYao/iknow/internal/jsonldb"
	"github.com/NeverlandYao/iknow/internal/ocr"
	"github.com/NeverlandYao/iknow/internal/search"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/content"
	"github.com/NeverlandYao/iknow/internal/storage/git"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	"github.com/maruel/ksid"
	"golang.org/x/sync/errgroup"
)

// DefaultOCRLanguage is used when neither the request nor the uploader's
// settings name a trained-data language.
const DefaultOCRLanguage = "eng"

const (
	defaultWorkers      = 2
	defaultMaxAttempts  = 3
	defaultPollInterval = 30 * time.Second
)

// Notifier delivers out-of-band user notifications. May be nil.
type Notifier interface {
	NotifyUser(userID ksid.ID, title, body string)
}

// Config wires the pipeline's dependencies and tuning.
type Config struct {
	TablePath string
	Engine    ocr.Engine
	Files     *content.FileService
	Fragments *content.FragmentStore
	Users     *identity.UserService
	Search    *search.Index
	Notifier  Notifier // may be nil

	// ServerQuotas bound fragment creation together with the uploader's
	// own overrides.
	ServerQuotas storage.ResourceQuotas

	// DefaultLanguage is the trained-data name used when neither the
	// request nor the uploader's settings name one. Default "eng".
	DefaultLanguage string

	Workers      int           // default 2
	MaxAttempts  int           // default 3
	PollInterval time.Duration // default 30s
}

// Pipeline owns the job table and the worker pool that drains it.
type Pipeline struct {
	cfg    Config
	jobs   *jsonldb.Table[*Job]
	byFile *jsonldb.Index[ksid.ID, *Job]
	wake   chan struct{}
}

// NewPipeline opens the job table at cfg.TablePath. Workers do not run
// until Run is called.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = DefaultOCRLanguage
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	table, err := jsonldb.NewTable[*Job](cfg.TablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open job table: %w", err)
	}
	return &Pipeline{
		cfg:    cfg,
		jobs:   table,
		byFile: jsonldb.NewIndex(table, func(j *Job) ksid.ID { return j.FileID }),
		wake:   make(chan struct{}, 1),
	}, nil
}

// Enqueue queues recognition for a file and nudges the workers. The file's
// OCR state moves to pending. When the file already has an unfinished job,
// that job is returned instead of queuing a duplicate.
//
// language is a tesseract trained-data name ("eng", "deu", "eng+fra");
// empty falls back to the uploader's configured language, then to
// DefaultOCRLanguage.
func (p *Pipeline) Enqueue(fileID ksid.ID, language string) (*Job, error) {
	f, err := p.cfg.Files.Get(fileID)
	if err != nil {
		return nil, err
	}
	if !f.IsImage() && !strings.HasPrefix(f.MimeType, "image/") {
		return nil, ErrNotImage
	}

	for existing := range p.byFile.Iter(fileID) {
		if !existing.Terminal() {
			return existing.Clone(), nil
		}
	}

	if language == "" {
		language = p.uploaderLanguage(f.UploaderID)
	}

	if _, err := p.cfg.Files.MarkOCRPending(fileID, language); err != nil {
		return nil, err
	}
	job := &Job{
		ID:          ksid.NewID(),
		FileID:      fileID,
		UploaderID:  f.UploaderID,
		Language:    language,
		State:       JobStatePending,
		MaxAttempts: p.cfg.MaxAttempts,
		Enqueued:    storage.Now(),
	}
	if err := p.jobs.Append(job); err != nil {
		return nil, err
	}
	p.nudge()
	return job.Clone(), nil
}

func (p *Pipeline) uploaderLanguage(userID ksid.ID) string {
	if u, err := p.cfg.Users.Get(userID); err == nil && u.Settings.OCRLanguage != "" {
		return u.Settings.OCRLanguage
	}
	return p.cfg.DefaultLanguage
}

func (p *Pipeline) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Get returns a job by ID.
func (p *Pipeline) Get(id ksid.ID) (*Job, error) {
	j := p.jobs.Get(id)
	if j == nil {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListRecent returns up to limit jobs, newest first. uploaderID filters
// when non-zero.
func (p *Pipeline) ListRecent(uploaderID ksid.ID, limit int) []*Job {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []*Job
	for j := range p.jobs.Iter(0) {
		if !uploaderID.IsZero() && j.UploaderID != uploaderID {
			continue
		}
		out = append(out, j.Clone())
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Result loads the stored recognition output of a job.
func (p *Pipeline) Result(id ksid.ID) (*ocr.Result, error) {
	j := p.jobs.Get(id)
	if j == nil {
		return nil, ErrJobNotFound
	}
	if j.Result.IsZero() {
		return nil, ErrNoResult
	}
	rc, err := j.Result.Reader()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var res ocr.Result
	if err := json.NewDecoder(rc).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode job result: %w", err)
	}
	return &res, nil
}

// RecoverStuck reverts running jobs to pending. Call at boot, before Run:
// a job can only be stuck in running after a crash.
func (p *Pipeline) RecoverStuck() (int, error) {
	var stuck []ksid.ID
	for j := range p.jobs.Iter(0) {
		if j.State == JobStateRunning {
			stuck = append(stuck, j.ID)
		}
	}
	for _, id := range stuck {
		_, err := p.jobs.Modify(id, func(j *Job) error {
			j.State = JobStatePending
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to recover job %s: %w", id, err)
		}
	}
	return len(stuck), nil
}

// GC removes result blobs no job row references.
func (p *Pipeline) GC() error {
	return p.jobs.GCBlobs()
}

// Run works the queue until ctx is canceled, then waits for in-flight
// jobs to settle.
func (p *Pipeline) Run(ctx context.Context) error {
	var g errgroup.Group
	for range p.cfg.Workers {
		g.Go(func() error {
			p.worker(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for p.runNext(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// runNext claims and processes one job. Returns false when no job was
// claimable.
func (p *Pipeline) runNext(ctx context.Context) bool {
	job := p.claim()
	if job == nil {
		return false
	}
	p.process(ctx, job)
	return true
}

// claim moves the oldest pending job to running. The state check runs
// inside Table.Modify, so two workers cannot claim the same job.
func (p *Pipeline) claim() *Job {
	for j := range p.jobs.Iter(0) {
		if j.State != JobStatePending {
			continue
		}
		claimed, err := p.jobs.Modify(j.ID, func(row *Job) error {
			if row.State != JobStatePending {
				return errNotClaimable
			}
			row.State = JobStateRunning
			row.Attempts++
			row.Started = storage.Now()
			return nil
		})
		if err != nil {
			continue
		}
		return claimed
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, job *Job) {
	log := slog.With("job", job.ID, "file", job.FileID, "attempt", job.Attempts)

	outcome, err := p.recognize(ctx, job)
	switch {
	case err == nil:
		p.succeed(job, outcome, log)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Shutdown mid-job: the attempt never reached a verdict.
		p.release(job)
	default:
		p.fail(job, err, log)
	}
}

// outcome carries what a successful recognition produced.
type outcome struct {
	result   *ocr.Result
	blob     jsonldb.Blob
	fragment *content.Fragment // nil when no text was recognized
	fileName string
}

func (p *Pipeline) recognize(ctx context.Context, job *Job) (outcome, error) {
	// Re-marking pending also repairs the file row after a crash that
	// finished the file but not the job.
	if _, err := p.cfg.Files.MarkOCRPending(job.FileID, job.Language); err != nil {
		return outcome{}, err
	}

	rc, f, err := p.cfg.Files.Open(job.FileID)
	if err != nil {
		return outcome{}, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return outcome{}, fmt.Errorf("failed to read file: %w", err)
	}

	info, err := ocr.Probe(data)
	if err != nil {
		return outcome{}, err
	}
	res, err := p.cfg.Engine.Recognize(ctx, ocr.Input{
		Image:     data,
		Format:    info.Format,
		Languages: splitLanguages(job.Language),
	})
	if err != nil {
		return outcome{}, err
	}

	blob, err := p.storeResult(&res)
	if err != nil {
		return outcome{}, err
	}

	out := outcome{result: &res, blob: blob, fileName: f.Name}
	if strings.TrimSpace(res.Text) != "" {
		frag, err := p.createFragment(ctx, job, f, &res)
		if err != nil {
			return outcome{}, err
		}
		out.fragment = frag
	}
	return out, nil
}

func (p *Pipeline) storeResult(res *ocr.Result) (jsonldb.Blob, error) {
	w, err := p.jobs.NewBlob()
	if err != nil {
		return jsonldb.Blob{}, fmt.Errorf("failed to store result: %w", err)
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		_ = w.Abort()
		return jsonldb.Blob{}, fmt.Errorf("failed to store result: %w", err)
	}
	blob, err := w.Close()
	if err != nil {
		return jsonldb.Blob{}, fmt.Errorf("failed to store result: %w", err)
	}
	return blob, nil
}

func (p *Pipeline) createFragment(ctx context.Context, job *Job, f *content.File, res *ocr.Result) (*content.Fragment, error) {
	user, err := p.cfg.Users.Get(job.UploaderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve uploader: %w", err)
	}
	quotas := storage.EffectiveQuotas(p.cfg.ServerQuotas, user.Quotas)

	return p.cfg.Fragments.Create(ctx, authorFor(user), &content.Fragment{
		Title:        fragmentTitle(f.Name),
		Content:      res.Text,
		Tags:         []string{"ocr"},
		Language:     res.Language,
		SourceFileID: f.ID,
	}, quotas.MaxFragments)
}

// succeed finishes the job in the pipeline's committed order: file row,
// search index, job row, push. The fragment already exists.
func (p *Pipeline) succeed(job *Job, out outcome, log *slog.Logger) {
	var fragID ksid.ID
	if out.fragment != nil {
		fragID = out.fragment.ID
	}

	if _, err := p.cfg.Files.MarkOCRDone(job.FileID, fragID, out.result.Language, out.result.Confidence); err != nil {
		// The file may have been deleted mid-job; the fragment stands on
		// its own either way.
		log.Warn("ocr done but file row not updated", "error", err)
	}
	if out.fragment != nil {
		if err := p.cfg.Search.Index(out.fragment); err != nil {
			log.Warn("failed to index recognized text", "error", err)
		}
	}

	_, err := p.jobs.Modify(job.ID, func(j *Job) error {
		j.State = JobStateSucceeded
		j.FragmentID = fragID
		j.Result = out.blob
		j.Error = ""
		j.Finished = storage.Now()
		return nil
	})
	if err != nil {
		log.Error("failed to finish job", "error", err)
		return
	}

	log.Info("recognition succeeded", "fragment", fragID, "confidence", out.result.Confidence)
	if p.cfg.Notifier != nil {
		body := "No text was found in " + out.fileName
		if out.fragment != nil {
			body = "Text from " + out.fileName + " is ready: " + out.fragment.Title
		}
		p.cfg.Notifier.NotifyUser(job.UploaderID, "Text extraction finished", body)
	}
}

func (p *Pipeline) fail(job *Job, cause error, log *slog.Logger) {
	final := job.Attempts >= job.MaxAttempts

	_, err := p.jobs.Modify(job.ID, func(j *Job) error {
		j.Error = cause.Error()
		if final {
			j.State = JobStateFailed
			j.Finished = storage.Now()
		} else {
			j.State = JobStatePending
		}
		return nil
	})
	if err != nil {
		log.Error("failed to record job failure", "error", err)
		return
	}

	if !final {
		log.Warn("recognition attempt failed, will retry", "error", cause)
		return
	}

	log.Error("recognition failed", "error", cause)
	if _, err := p.cfg.Files.MarkOCRFailed(job.FileID, cause.Error()); err != nil {
		log.Warn("failed job but file row not updated", "error", err)
	}
	if p.cfg.Notifier != nil {
		p.cfg.Notifier.NotifyUser(job.UploaderID, "Text extraction failed", cause.Error())
	}
}

// release returns a job interrupted by shutdown to the queue without
// consuming an attempt.
func (p *Pipeline) release(job *Job) {
	_, err := p.jobs.Modify(job.ID, func(j *Job) error {
		j.State = JobStatePending
		j.Attempts--
		return nil
	})
	if err != nil {
		slog.Error("failed to release job", "job", job.ID, "error", err)
	}
}

func authorFor(u *identity.User) git.Author {
	name := u.Name
	if name == "" {
		name, _, _ = strings.Cut(u.Email, "@")
	}
	return git.Author{Name: name, Email: u.Email}
}

// fragmentTitle derives a fragment title from the uploaded file name.
func fragmentTitle(name string) string {
	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	title = strings.TrimSpace(title)
	if title == "" {
		return "Scanned text"
	}
	return title
}

func splitLanguages(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "+")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
