// Package identity manages user accounts, sessions, and push subscriptions.
//
// All state lives in JSONL-backed tables:
//   - users: accounts, bcrypt credentials, linked OAuth identities, per-user
//     quota overrides
//   - sessions: active logins with expiry and revocation
//   - push_subscriptions: Web Push endpoints for notification delivery
package identity

import (
	"fmt"
	"iter"
	"sync"

	"github.com/NeverlandYao/iknow/internal/jsonldb"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/maruel/ksid"
	"golang.org/x/crypto/bcrypt"
)

// User represents a system user (persistent fields only).
type User struct {
	ID              ksid.ID                `json:"id" jsonschema:"description=Unique user identifier"`
	Email           string                 `json:"email" jsonschema:"description=User email address"`
	Name            string                 `json:"name" jsonschema:"description=User display name"`
	OAuthIdentities []OAuthIdentity        `json:"oauth_identities,omitempty" jsonschema:"description=Linked OAuth provider accounts"`
	Settings        UserSettings           `json:"settings" jsonschema:"description=User preferences"`
	Quotas          storage.ResourceQuotas `json:"quotas,omitzero" jsonschema:"description=Per-user quota overrides (0=inherit server default)"`
	Created         storage.Time           `json:"created" jsonschema:"description=Account creation timestamp"`
	Modified        storage.Time           `json:"modified" jsonschema:"description=Last modification timestamp"`
}

// GetID returns the User's ID.
func (u *User) GetID() ksid.ID {
	return u.ID
}

// UserSettings represents user preferences.
type UserSettings struct {
	Theme       string `json:"theme" jsonschema:"description=UI theme preference (light/dark/system)"`
	Language    string `json:"language" jsonschema:"description=Preferred language code (en/fr/etc)"`
	OCRLanguage string `json:"ocr_language,omitempty" jsonschema:"description=Default OCR language for uploads (eng/fra/etc)"`
}

// OAuthIdentity represents a link between a local user and an OAuth2 provider.
type OAuthIdentity struct {
	Provider   string       `json:"provider" jsonschema:"description=OAuth provider name (google/github)"`
	ProviderID string       `json:"provider_id" jsonschema:"description=User ID at the OAuth provider"`
	Email      string       `json:"email" jsonschema:"description=Email address from OAuth provider"`
	LastLogin  storage.Time `json:"last_login" jsonschema:"description=Last login timestamp via this provider"`
}

// userStorage is the persisted row. The credential hash never leaves this
// package; public APIs traffic in User.
type userStorage struct {
	User
	PasswordHash string `json:"password_hash,omitempty" jsonschema:"description=Bcrypt-hashed password (empty for OAuth-only accounts)"`
}

func (u *userStorage) Clone() *userStorage {
	c := *u
	if u.OAuthIdentities != nil {
		c.OAuthIdentities = make([]OAuthIdentity, len(u.OAuthIdentities))
		copy(c.OAuthIdentities, u.OAuthIdentities)
	}
	return &c
}

// GetID returns the userStorage's ID.
func (u *userStorage) GetID() ksid.ID {
	return u.ID
}

// Validate checks that the userStorage is valid.
func (u *userStorage) Validate() error {
	if u.ID.IsZero() {
		return errUserIDRequired
	}
	if u.Email == "" {
		return errEmailEmpty
	}
	if err := u.Quotas.Validate(); err != nil {
		return err
	}
	return nil
}

// UserService handles user management and authentication.
type UserService struct {
	table   *jsonldb.Table[*userStorage]
	byEmail *jsonldb.UniqueIndex[string, *userStorage]
	byOAuth *oauthIndex
}

// NewUserService creates a new user service.
func NewUserService(tablePath string) (*UserService, error) {
	table, err := jsonldb.NewTable[*userStorage](tablePath)
	if err != nil {
		return nil, err
	}
	byEmail := jsonldb.NewUniqueIndex(table, func(u *userStorage) string { return u.Email })
	byOAuth := newOAuthIndex(table)
	return &UserService{table: table, byEmail: byEmail, byOAuth: byOAuth}, nil
}

// Create creates a new user with a password credential.
func (s *UserService) Create(email, password, name string) (*User, error) {
	if email == "" || password == "" {
		return nil, errEmailPwdRequired
	}
	// Direct index check, no copy.
	if s.byEmail.Get(email) != nil {
		return nil, ErrUserExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	now := storage.Now()
	stored := &userStorage{
		User: User{
			ID:       ksid.NewID(),
			Email:    email,
			Name:     name,
			Created:  now,
			Modified: now,
		},
		PasswordHash: string(hash),
	}
	if err := s.table.Append(stored); err != nil {
		return nil, err
	}
	user := stored.User
	return &user, nil
}

// CreateOAuth creates a new user from an OAuth identity with no password.
func (s *UserService) CreateOAuth(email, name string, ident OAuthIdentity) (*User, error) {
	if email == "" {
		return nil, errEmailEmpty
	}
	if s.byEmail.Get(email) != nil {
		return nil, ErrUserExists
	}
	now := storage.Now()
	ident.LastLogin = now
	stored := &userStorage{
		User: User{
			ID:              ksid.NewID(),
			Email:           email,
			Name:            name,
			OAuthIdentities: []OAuthIdentity{ident},
			Created:         now,
			Modified:        now,
		},
	}
	if err := s.table.Append(stored); err != nil {
		return nil, err
	}
	user := stored.User
	return &user, nil
}

// Get retrieves a user by ID.
func (s *UserService) Get(id ksid.ID) (*User, error) {
	if id.IsZero() {
		return nil, errUserIDEmpty
	}
	stored := s.table.Get(id)
	if stored == nil {
		return nil, ErrUserNotFound
	}
	user := stored.User
	return &user, nil
}

// GetByEmail retrieves a user by email. O(1) via index.
func (s *UserService) GetByEmail(email string) (*User, error) {
	stored := s.byEmail.Get(email)
	if stored == nil {
		return nil, ErrUserNotFound
	}
	user := stored.User
	return &user, nil
}

// Authenticate verifies user credentials. O(1) lookup via index.
func (s *UserService) Authenticate(email, password string) (*User, error) {
	stored := s.byEmail.Get(email)
	if stored == nil || stored.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	user := stored.User
	return &user, nil
}

// GetByOAuth retrieves a user by their OAuth identity. O(1) via index.
func (s *UserService) GetByOAuth(provider, providerID string) (*User, error) {
	stored := s.byOAuth.Get(provider, providerID)
	if stored == nil {
		return nil, ErrUserNotFound
	}
	user := stored.User
	return &user, nil
}

// LinkOAuth links an OAuth identity to a user, or refreshes its last login
// if already linked.
func (s *UserService) LinkOAuth(userID ksid.ID, ident OAuthIdentity) error {
	if userID.IsZero() {
		return errUserIDEmpty
	}
	_, err := s.table.Modify(userID, func(row *userStorage) error {
		now := storage.Now()
		for i, existing := range row.OAuthIdentities {
			if existing.Provider == ident.Provider && existing.ProviderID == ident.ProviderID {
				row.OAuthIdentities[i].LastLogin = now
				row.Modified = now
				return nil
			}
		}
		ident.LastLogin = now
		row.OAuthIdentities = append(row.OAuthIdentities, ident)
		row.Modified = now
		return nil
	})
	return err
}

// Modify atomically modifies a user.
func (s *UserService) Modify(id ksid.ID, fn func(user *User) error) (*User, error) {
	if id.IsZero() {
		return nil, errUserIDEmpty
	}
	stored, err := s.table.Modify(id, func(row *userStorage) error {
		if err := fn(&row.User); err != nil {
			return err
		}
		row.Modified = storage.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	user := stored.User
	return &user, nil
}

// Iter iterates over users with ID greater than startID. Pass 0 to iterate
// from the beginning.
func (s *UserService) Iter(startID ksid.ID) iter.Seq[*User] {
	return func(yield func(*User) bool) {
		for stored := range s.table.Iter(startID) {
			user := stored.User
			if !yield(&user) {
				return
			}
		}
	}
}

// Count returns the number of users.
func (s *UserService) Count() int {
	return s.table.Len()
}

// oauthKey is a composite key for OAuth identity lookups.
type oauthKey struct {
	Provider   string
	ProviderID string
}

// oauthIndex indexes users by their OAuth identities (multi-valued).
type oauthIndex struct {
	table *jsonldb.Table[*userStorage]
	mu    sync.RWMutex
	byKey map[oauthKey]ksid.ID
}

func newOAuthIndex(table *jsonldb.Table[*userStorage]) *oauthIndex {
	idx := &oauthIndex{table: table, byKey: make(map[oauthKey]ksid.ID)}
	table.AddObserver(idx)
	return idx
}

func (idx *oauthIndex) Get(provider, providerID string) *userStorage {
	idx.mu.RLock()
	id, ok := idx.byKey[oauthKey{Provider: provider, ProviderID: providerID}]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	return idx.table.Get(id)
}

func (idx *oauthIndex) OnAppend(row *userStorage) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, ident := range row.OAuthIdentities {
		idx.byKey[oauthKey{Provider: ident.Provider, ProviderID: ident.ProviderID}] = row.ID
	}
}

func (idx *oauthIndex) OnUpdate(prev, curr *userStorage) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, ident := range prev.OAuthIdentities {
		delete(idx.byKey, oauthKey{Provider: ident.Provider, ProviderID: ident.ProviderID})
	}
	for _, ident := range curr.OAuthIdentities {
		idx.byKey[oauthKey{Provider: ident.Provider, ProviderID: ident.ProviderID}] = curr.ID
	}
}

func (idx *oauthIndex) OnDelete(row *userStorage) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, ident := range row.OAuthIdentities {
		delete(idx.byKey, oauthKey{Provider: ident.Provider, ProviderID: ident.ProviderID})
	}
}
