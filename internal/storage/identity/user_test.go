package identity

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/maruel/ksid"
)

func TestUserStorage(t *testing.T) {
	t.Run("Validate", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			valid := &userStorage{
				User:         User{ID: ksid.ID(1), Email: "test@example.com"},
				PasswordHash: "hash",
			}
			if err := valid.Validate(); err != nil {
				t.Errorf("Expected valid userStorage, got error: %v", err)
			}
		})

		t.Run("zero ID", func(t *testing.T) {
			zeroID := &userStorage{
				User:         User{ID: ksid.ID(0), Email: "test@example.com"},
				PasswordHash: "hash",
			}
			if err := zeroID.Validate(); err == nil {
				t.Error("Expected error for zero ID")
			}
		})

		t.Run("empty email", func(t *testing.T) {
			emptyEmail := &userStorage{
				User:         User{ID: ksid.ID(1), Email: ""},
				PasswordHash: "hash",
			}
			if err := emptyEmail.Validate(); err == nil {
				t.Error("Expected error for empty email")
			}
		})

		t.Run("negative quota override", func(t *testing.T) {
			bad := &userStorage{
				User: User{
					ID:     ksid.ID(1),
					Email:  "test@example.com",
					Quotas: storage.ResourceQuotas{MaxFiles: -1},
				},
			}
			if err := bad.Validate(); err == nil {
				t.Error("Expected error for negative quota override")
			}
		})
	})

	t.Run("Clone", func(t *testing.T) {
		t.Run("with OAuthIdentities", func(t *testing.T) {
			original := &userStorage{
				User: User{
					ID:    ksid.ID(1),
					Email: "test@example.com",
					OAuthIdentities: []OAuthIdentity{
						{Provider: "google", ProviderID: "123"},
					},
				},
				PasswordHash: "hash",
			}

			clone := original.Clone()

			clone.OAuthIdentities[0].Provider = "modified"
			if original.OAuthIdentities[0].Provider == "modified" {
				t.Error("Clone should not share OAuthIdentities slice")
			}
		})

		t.Run("nil OAuthIdentities", func(t *testing.T) {
			noOAuth := &userStorage{
				User:         User{ID: ksid.ID(1), Email: "test@example.com"},
				PasswordHash: "hash",
			}
			cloneNoOAuth := noOAuth.Clone()
			if cloneNoOAuth.OAuthIdentities != nil {
				t.Error("Clone of nil OAuthIdentities should be nil")
			}
		})
	})
}

func TestUserService(t *testing.T) {
	tablePath := filepath.Join(t.TempDir(), "users.jsonl")
	service, err := NewUserService(tablePath)
	if err != nil {
		t.Fatal(err)
	}

	var user *User

	t.Run("Create", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			var createErr error
			user, createErr = service.Create("test@example.com", "password123", "Test User")
			if createErr != nil {
				t.Fatalf("Failed to create user: %v", createErr)
			}
			if user.Email != "test@example.com" {
				t.Errorf("Expected email test@example.com, got %s", user.Email)
			}
			if user.GetID().IsZero() {
				t.Error("Expected non-zero user ID")
			}
			if user.Created.IsZero() {
				t.Error("Expected Created to be set")
			}
		})

		t.Run("empty email", func(t *testing.T) {
			if _, err := service.Create("", "password123", "Test"); err == nil {
				t.Error("Expected error for empty email")
			}
		})

		t.Run("empty password", func(t *testing.T) {
			if _, err := service.Create("test2@example.com", "", "Test"); err == nil {
				t.Error("Expected error for empty password")
			}
		})

		t.Run("duplicate", func(t *testing.T) {
			_, createErr := service.Create("test@example.com", "password456", "Another User")
			if !errors.Is(createErr, ErrUserExists) {
				t.Errorf("Expected ErrUserExists, got %v", createErr)
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		got, err := service.Get(user.ID)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got.Email != user.Email {
			t.Errorf("Expected email %s, got %s", user.Email, got.Email)
		}

		if _, err := service.Get(0); err == nil {
			t.Error("Expected error for zero ID")
		}
		if _, err := service.Get(ksid.ID(99999)); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("Expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("GetByEmail", func(t *testing.T) {
		got, err := service.GetByEmail("test@example.com")
		if err != nil {
			t.Fatalf("GetByEmail() failed: %v", err)
		}
		if got.ID != user.ID {
			t.Errorf("Expected ID %v, got %v", user.ID, got.ID)
		}

		if _, err := service.GetByEmail("missing@example.com"); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("Expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		got, err := service.Authenticate("test@example.com", "password123")
		if err != nil {
			t.Fatalf("Authenticate() failed: %v", err)
		}
		if got.ID != user.ID {
			t.Errorf("Expected ID %v, got %v", user.ID, got.ID)
		}

		if _, err := service.Authenticate("test@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Expected ErrInvalidCredentials, got %v", err)
		}
		if _, err := service.Authenticate("missing@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("OAuth", func(t *testing.T) {
		oauthUser, err := service.CreateOAuth("oauth@example.com", "OAuth User", OAuthIdentity{
			Provider:   "google",
			ProviderID: "g-123",
			Email:      "oauth@example.com",
		})
		if err != nil {
			t.Fatalf("CreateOAuth() failed: %v", err)
		}

		t.Run("lookup", func(t *testing.T) {
			got, err := service.GetByOAuth("google", "g-123")
			if err != nil {
				t.Fatalf("GetByOAuth() failed: %v", err)
			}
			if got.ID != oauthUser.ID {
				t.Errorf("Expected ID %v, got %v", oauthUser.ID, got.ID)
			}

			if _, err := service.GetByOAuth("google", "unknown"); !errors.Is(err, ErrUserNotFound) {
				t.Errorf("Expected ErrUserNotFound, got %v", err)
			}
		})

		t.Run("no password login", func(t *testing.T) {
			if _, err := service.Authenticate("oauth@example.com", ""); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("OAuth-only account should not authenticate by password, got %v", err)
			}
		})

		t.Run("link second provider", func(t *testing.T) {
			err := service.LinkOAuth(user.ID, OAuthIdentity{
				Provider:   "github",
				ProviderID: "gh-77",
				Email:      "test@example.com",
			})
			if err != nil {
				t.Fatalf("LinkOAuth() failed: %v", err)
			}

			got, err := service.GetByOAuth("github", "gh-77")
			if err != nil {
				t.Fatalf("GetByOAuth(github) failed: %v", err)
			}
			if got.ID != user.ID {
				t.Errorf("Expected ID %v, got %v", user.ID, got.ID)
			}
		})

		t.Run("relink does not duplicate", func(t *testing.T) {
			if err := service.LinkOAuth(user.ID, OAuthIdentity{Provider: "github", ProviderID: "gh-77"}); err != nil {
				t.Fatalf("LinkOAuth() relink failed: %v", err)
			}
			got, err := service.Get(user.ID)
			if err != nil {
				t.Fatal(err)
			}
			count := 0
			for _, ident := range got.OAuthIdentities {
				if ident.Provider == "github" {
					count++
				}
			}
			if count != 1 {
				t.Errorf("Expected 1 github identity, got %d", count)
			}
		})
	})

	t.Run("Modify", func(t *testing.T) {
		modified, err := service.Modify(user.ID, func(u *User) error {
			u.Settings.Theme = "dark"
			u.Quotas.MaxFiles = 5
			return nil
		})
		if err != nil {
			t.Fatalf("Modify() failed: %v", err)
		}
		if modified.Settings.Theme != "dark" {
			t.Errorf("Expected theme dark, got %s", modified.Settings.Theme)
		}
		if modified.Quotas.MaxFiles != 5 {
			t.Errorf("Expected MaxFiles 5, got %d", modified.Quotas.MaxFiles)
		}

		t.Run("callback error aborts", func(t *testing.T) {
			wantErr := errors.New("abort")
			if _, err := service.Modify(user.ID, func(u *User) error { return wantErr }); !errors.Is(err, wantErr) {
				t.Errorf("Expected abort error, got %v", err)
			}
		})
	})

	t.Run("IterAndCount", func(t *testing.T) {
		count := 0
		for range service.Iter(0) {
			count++
		}
		if count != 2 {
			t.Errorf("Expected 2 users, got %d", count)
		}
		if service.Count() != 2 {
			t.Errorf("Count() = %d, want 2", service.Count())
		}
	})

	t.Run("Reload", func(t *testing.T) {
		reloaded, err := NewUserService(tablePath)
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		got, err := reloaded.GetByEmail("test@example.com")
		if err != nil {
			t.Fatalf("GetByEmail() after reload failed: %v", err)
		}
		if got.Settings.Theme != "dark" {
			t.Errorf("Expected persisted theme dark, got %s", got.Settings.Theme)
		}
		if _, err := reloaded.GetByOAuth("google", "g-123"); err != nil {
			t.Errorf("OAuth index not rebuilt on reload: %v", err)
		}
		if _, err := reloaded.Authenticate("test@example.com", "password123"); err != nil {
			t.Errorf("Authenticate() after reload failed: %v", err)
		}
	})
}
