// Package content provides the stored knowledge of the iknow system: uploaded
// files with dual-path blob persistence and git-versioned knowledge fragments.
package content

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/git"
	"github.com/maruel/ksid"
	"gopkg.in/yaml.v3"
)

// Fragment is a markdown knowledge note. The canonical form on disk is
// fragments/<id>/index.md with YAML front matter, versioned in git.
type Fragment struct {
	ID       ksid.ID      `json:"id"`
	Title    string       `json:"title"`
	Content  string       `json:"content"`
	Tags     []string     `json:"tags,omitempty"`
	Language string       `json:"language,omitempty"`
	Created  storage.Time `json:"created"`
	Modified storage.Time `json:"modified"`
	// SourceFileID links a pipeline-created fragment back to the uploaded
	// file its text was recognized from.
	SourceFileID ksid.ID `json:"source_file_id,omitzero"`
}

// Clone returns a deep copy.
func (f *Fragment) Clone() *Fragment {
	c := *f
	if f.Tags != nil {
		c.Tags = slices.Clone(f.Tags)
	}
	return &c
}

// frontMatter is the YAML block at the top of index.md. Timestamps are unix
// seconds. The source file ID is kept as its string form so the encoding
// round-trips through YAML.
type frontMatter struct {
	Title      string       `yaml:"title"`
	Created    storage.Time `yaml:"created"`
	Modified   storage.Time `yaml:"modified"`
	Tags       []string     `yaml:"tags,omitempty"`
	SourceFile string       `yaml:"source_file,omitempty"`
	Language   string       `yaml:"language,omitempty"`
}

// FragmentStore is the versioned fragment library. Every mutation is exactly
// one git commit authored by the acting user.
type FragmentStore struct {
	dir  string    // Repo worktree, fragments live under dir/fragments.
	repo *git.Repo

	mu     sync.RWMutex
	cache  map[ksid.ID]*Fragment // Serves List without rescanning.
	loaded bool
}

// NewFragmentStore creates the fragment library inside the repo worktree.
func NewFragmentStore(repo *git.Repo) (*FragmentStore, error) {
	dir := repo.Dir()
	if err := os.MkdirAll(filepath.Join(dir, "fragments"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create fragments directory: %w", err)
	}
	return &FragmentStore{
		dir:   dir,
		repo:  repo,
		cache: make(map[ksid.ID]*Fragment),
	}, nil
}

func (fs *FragmentStore) fragmentDir(id ksid.ID) string {
	return filepath.Join(fs.dir, "fragments", id.String())
}

func (fs *FragmentStore) indexPath(id ksid.ID) string {
	return filepath.Join(fs.fragmentDir(id), "index.md")
}

// gitPath is the repo-relative path of a fragment's index.md. Deletion
// staging needs the file path, not the directory.
func (fs *FragmentStore) gitPath(id ksid.ID) string {
	return filepath.Join("fragments", id.String(), "index.md")
}

// Create writes a new fragment and commits it. The ID and timestamps are
// assigned here; maxFragments caps the library size when positive.
func (fs *FragmentStore) Create(ctx context.Context, author git.Author, f *Fragment, maxFragments int) (*Fragment, error) {
	if f.Title == "" {
		return nil, errFragmentTitleEmpty
	}
	if maxFragments > 0 {
		count, err := fs.Count()
		if err != nil {
			return nil, err
		}
		if count >= maxFragments {
			return nil, ErrQuotaExceeded
		}
	}

	created := f.Clone()
	created.ID = ksid.NewID()
	now := storage.Now()
	created.Created = now
	created.Modified = now

	err := fs.repo.CommitTx(ctx, author, func() (string, []string, error) {
		if err := fs.writeFragmentFile(created); err != nil {
			return "", nil, err
		}
		return "create: fragment " + created.ID.String(), []string{fs.gitPath(created.ID)}, nil
	})
	if err != nil {
		return nil, err
	}
	fs.cacheSet(created)
	return created.Clone(), nil
}

// Get reads a fragment from disk.
func (fs *FragmentStore) Get(id ksid.ID) (*Fragment, error) {
	if id.IsZero() {
		return nil, errIDRequired
	}
	data, err := os.ReadFile(fs.indexPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFragmentNotFound
		}
		return nil, fmt.Errorf("failed to read fragment: %w", err)
	}
	return parseFragment(id, data), nil
}

// Update applies fn to the stored fragment and commits the result. The ID
// and creation time are preserved; Modified is refreshed.
func (fs *FragmentStore) Update(ctx context.Context, author git.Author, id ksid.ID, fn func(f *Fragment) error) (*Fragment, error) {
	current, err := fs.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	if current.Title == "" {
		return nil, errFragmentTitleEmpty
	}
	current.ID = id
	current.Modified = storage.Now()

	err = fs.repo.CommitTx(ctx, author, func() (string, []string, error) {
		if err := fs.writeFragmentFile(current); err != nil {
			return "", nil, err
		}
		return "update: fragment " + id.String(), []string{fs.gitPath(id)}, nil
	})
	if err != nil {
		return nil, err
	}
	fs.cacheSet(current)
	return current.Clone(), nil
}

// Delete removes a fragment's directory and commits the removal.
func (fs *FragmentStore) Delete(ctx context.Context, author git.Author, id ksid.ID) error {
	if id.IsZero() {
		return ErrFragmentNotFound
	}
	gitFile := fs.gitPath(id)

	err := fs.repo.CommitTx(ctx, author, func() (string, []string, error) {
		dir := fs.fragmentDir(id)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return "", nil, ErrFragmentNotFound
		}
		if err := os.RemoveAll(dir); err != nil {
			return "", nil, fmt.Errorf("failed to delete fragment: %w", err)
		}
		return "delete: fragment " + id.String(), []string{gitFile}, nil
	})
	if err != nil {
		return err
	}
	fs.cacheDelete(id)
	return nil
}

// Exists reports whether a fragment exists on disk.
func (fs *FragmentStore) Exists(id ksid.ID) bool {
	if id.IsZero() {
		return false
	}
	_, err := os.Stat(fs.indexPath(id))
	return err == nil
}

// List returns fragments newest first. A non-empty tag keeps only fragments
// carrying it.
func (fs *FragmentStore) List(tag string) ([]*Fragment, error) {
	if err := fs.ensureCache(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]*Fragment, 0, len(fs.cache))
	for _, f := range fs.cache {
		if tag != "" && !slices.Contains(f.Tags, tag) {
			continue
		}
		out = append(out, f.Clone())
	}
	// ksid IDs are time-ordered, so descending ID is newest first.
	slices.SortFunc(out, func(a, b *Fragment) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

// Count returns the number of fragments in the library.
func (fs *FragmentStore) Count() (int, error) {
	if err := fs.ensureCache(); err != nil {
		return 0, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.cache), nil
}

// History returns the commit history for a fragment, newest first.
func (fs *FragmentStore) History(ctx context.Context, id ksid.ID, n int) ([]*git.Commit, error) {
	if id.IsZero() {
		return nil, errIDRequired
	}
	return fs.repo.GetHistory(ctx, fs.gitPath(id), n)
}

// GetVersion reads a fragment as it was at a specific commit.
func (fs *FragmentStore) GetVersion(ctx context.Context, id ksid.ID, commitHash string) (*Fragment, error) {
	if id.IsZero() {
		return nil, errIDRequired
	}
	data, err := fs.repo.GetFileAtCommit(ctx, commitHash, fs.gitPath(id))
	if err != nil {
		return nil, err
	}
	return parseFragment(id, data), nil
}

// writeFragmentFile writes index.md via a temp file plus rename, so a
// concurrent List never observes a half-written fragment.
func (fs *FragmentStore) writeFragmentFile(f *Fragment) error {
	data, err := formatFragment(f)
	if err != nil {
		return err
	}
	dir := fs.fragmentDir(f.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create fragment directory: %w", err)
	}
	tmp := filepath.Join(dir, "index.md.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write fragment: %w", err)
	}
	if err := os.Rename(tmp, fs.indexPath(f.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize fragment: %w", err)
	}
	return nil
}

// Cache plumbing. The cache is loaded lazily by scanning the fragments
// directory and kept current by mutations.

func (fs *FragmentStore) ensureCache() error {
	fs.mu.RLock()
	loaded := fs.loaded
	fs.mu.RUnlock()
	if loaded {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.loaded {
		return nil
	}
	cache := make(map[ksid.ID]*Fragment)
	entries, err := os.ReadDir(filepath.Join(fs.dir, "fragments"))
	if err != nil {
		if os.IsNotExist(err) {
			fs.cache = cache
			fs.loaded = true
			return nil
		}
		return fmt.Errorf("failed to scan fragments: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := ksid.Parse(entry.Name())
		if err != nil || id.IsZero() {
			continue
		}
		data, err := os.ReadFile(fs.indexPath(id))
		if err != nil {
			continue
		}
		cache[id] = parseFragment(id, data)
	}
	fs.cache = cache
	fs.loaded = true
	return nil
}

func (fs *FragmentStore) cacheSet(f *Fragment) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.loaded {
		fs.cache[f.ID] = f.Clone()
	}
}

func (fs *FragmentStore) cacheDelete(id ksid.ID) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.loaded {
		delete(fs.cache, id)
	}
}

// formatFragment renders front matter plus body.
func formatFragment(f *Fragment) ([]byte, error) {
	fm := frontMatter{
		Title:    f.Title,
		Created:  f.Created,
		Modified: f.Modified,
		Tags:     f.Tags,
		Language: f.Language,
	}
	if !f.SourceFileID.IsZero() {
		fm.SourceFile = f.SourceFileID.String()
	}
	meta, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(meta)
	b.WriteString("---\n\n")
	b.WriteString(f.Content)
	return []byte(b.String()), nil
}

// parseFragment splits front matter from body. Files without a parseable
// front matter block are treated as all body.
func parseFragment(id ksid.ID, data []byte) *Fragment {
	content := string(data)
	var fm frontMatter

	if rest, ok := strings.CutPrefix(content, "---\n"); ok {
		if meta, body, found := strings.Cut(rest, "\n---"); found {
			if err := yaml.Unmarshal([]byte(meta), &fm); err == nil {
				content = strings.TrimLeft(body, "\n")
			} else {
				fm = frontMatter{}
			}
		}
	}

	f := &Fragment{
		ID:       id,
		Title:    fm.Title,
		Content:  content,
		Tags:     fm.Tags,
		Language: fm.Language,
		Created:  fm.Created,
		Modified: fm.Modified,
	}
	if fm.SourceFile != "" {
		if sid, err := ksid.Parse(fm.SourceFile); err == nil {
			f.SourceFileID = sid
		}
	}
	if f.Created.IsZero() {
		f.Created = storage.Now()
	}
	if f.Modified.IsZero() {
		f.Modified = f.Created
	}
	return f
}
