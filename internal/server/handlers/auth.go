// Handles user authentication, registration, and session management.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/NeverlandYao/iknow/internal/server/dto"
	"github.com/NeverlandYao/iknow/internal/server/reqctx"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	"github.com/NeverlandYao/iknow/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"
)

const tokenExpiration = 24 * time.Hour

// AuthHandler handles authentication requests.
type AuthHandler struct {
	Svc *Services
	Cfg *Config
}

// Login handles user login and returns a JWT token.
func (h *AuthHandler) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := h.Svc.User.Authenticate(req.Email, req.Password)
	if err != nil {
		return nil, dto.NewAPIError(401, dto.ErrorCodeUnauthorized, "Invalid credentials")
	}

	token, err := h.generateTokenWithSession(ctx, user)
	if err != nil {
		if errors.Is(err, identity.ErrSessionQuotaExceeded) {
			return nil, dto.QuotaExceeded("active sessions")
		}
		return nil, dto.InternalWithError("Failed to generate token", err)
	}

	return &dto.LoginResponse{
		Token: token,
		User:  h.userToResponse(user),
	}, nil
}

// Register handles user registration.
func (h *AuthHandler) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	if h.Cfg.Quotas.MaxUsers > 0 && h.Svc.User.Count() >= h.Cfg.Quotas.MaxUsers {
		return nil, dto.QuotaExceeded("users")
	}

	user, err := h.Svc.User.Create(req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, identity.ErrUserExists) {
			return nil, dto.Conflict("User already exists")
		}
		return nil, dto.InternalWithError("Failed to create user", err)
	}

	token, err := h.generateTokenWithSession(ctx, user)
	if err != nil {
		return nil, dto.InternalWithError("Failed to generate token", err)
	}

	return &dto.RegisterResponse{
		Token: token,
		User:  h.userToResponse(user),
	}, nil
}

// generateTokenWithSession creates a session and generates a JWT token
// carrying its ID, using request metadata from the context.
func (h *AuthHandler) generateTokenWithSession(ctx context.Context, user *identity.User) (string, error) {
	return createSessionToken(h.Svc, h.Cfg, user, reqctx.ClientIP(ctx), reqctx.UserAgent(ctx))
}

// createSessionToken creates a session row and a JWT referencing it.
// Every issued token carries a session so revocation always works.
func createSessionToken(svc *Services, cfg *Config, user *identity.User, clientIP, userAgent string) (string, error) {
	expiresAt := time.Now().Add(tokenExpiration)

	// Pre-generate the session ID so the JWT can reference it.
	sessionID := ksid.NewID()

	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"sid":   sessionID.String(),
		"exp":   expiresAt.Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.JWTSecret)
	if err != nil {
		return "", err
	}

	deviceInfo := userAgent
	if len(deviceInfo) > 200 {
		deviceInfo = deviceInfo[:200]
	}
	countryCode := svc.Geo.CountryCode(clientIP)
	_, err = svc.Session.Create(sessionID, user.ID, utils.HashToken(tokenString),
		deviceInfo, clientIP, countryCode, storage.ToTime(expiresAt), cfg.Quotas.MaxSessionsPerUser)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetMe returns the current user info.
func (h *AuthHandler) GetMe(_ context.Context, user *identity.User, _ *dto.GetMeRequest) (*dto.GetMeResponse, error) {
	return h.userToResponse(user), nil
}

// UpdateMe updates the current user's display name and settings.
func (h *AuthHandler) UpdateMe(_ context.Context, user *identity.User, req *dto.UpdateMeRequest) (*dto.UpdateMeResponse, error) {
	updated, err := h.Svc.User.Modify(user.ID, func(u *identity.User) error {
		if req.Name != "" {
			u.Name = req.Name
		}
		if req.Settings != nil {
			u.Settings = identity.UserSettings{
				Theme:       req.Settings.Theme,
				Language:    req.Settings.Language,
				OCRLanguage: req.Settings.OCRLanguage,
			}
		}
		return nil
	})
	if err != nil {
		return nil, dto.InternalWithError("Failed to update user", err)
	}
	return h.userToResponse(updated), nil
}

// Logout revokes the current session.
func (h *AuthHandler) Logout(ctx context.Context, _ *identity.User, _ *dto.LogoutRequest) (*dto.LogoutResponse, error) {
	sessionID := reqctx.SessionID(ctx)
	if sessionID.IsZero() {
		return &dto.LogoutResponse{Ok: true}, nil
	}

	if err := h.Svc.Session.Revoke(sessionID); err != nil {
		slog.ErrorContext(ctx, "Failed to revoke session", "error", err, "session_id", sessionID)
		return nil, dto.InternalWithError("Failed to logout", err)
	}

	return &dto.LogoutResponse{Ok: true}, nil
}

// ListSessions returns all active sessions for the current user.
func (h *AuthHandler) ListSessions(ctx context.Context, user *identity.User, _ *dto.ListSessionsRequest) (*dto.ListSessionsResponse, error) {
	currentSessionID := reqctx.SessionID(ctx)

	sessions := make([]dto.SessionResponse, 0, 8)
	for session := range h.Svc.Session.GetActiveByUserID(user.ID) {
		sessions = append(sessions, dto.SessionResponse{
			ID:          session.ID,
			DeviceInfo:  session.DeviceInfo,
			IPAddress:   session.IPAddress,
			CountryCode: session.CountryCode,
			Created:     session.Created,
			LastUsed:    session.LastUsed,
			IsCurrent:   session.ID == currentSessionID,
		})
	}

	return &dto.ListSessionsResponse{Sessions: sessions}, nil
}

// RevokeSession revokes a specific session owned by the current user.
func (h *AuthHandler) RevokeSession(_ context.Context, user *identity.User, req *dto.RevokeSessionRequest) (*dto.RevokeSessionResponse, error) {
	session, err := h.Svc.Session.Get(req.SessionID)
	if err != nil {
		return nil, dto.NotFound("session")
	}
	if session.UserID != user.ID {
		return nil, dto.Forbidden("Cannot revoke another user's session")
	}

	if err := h.Svc.Session.Revoke(req.SessionID); err != nil {
		return nil, dto.InternalWithError("Failed to revoke session", err)
	}

	return &dto.RevokeSessionResponse{Ok: true}, nil
}

// userToResponse builds the API representation of a user, with the
// effective quotas after applying server-wide caps.
func (h *AuthHandler) userToResponse(user *identity.User) *dto.UserResponse {
	effective := storage.EffectiveQuotas(h.Cfg.Quotas.ResourceQuotas, user.Quotas)
	resp := &dto.UserResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Settings: dto.UserSettings{
			Theme:       user.Settings.Theme,
			Language:    user.Settings.Language,
			OCRLanguage: user.Settings.OCRLanguage,
		},
		Quotas: dto.ResourceQuotas{
			MaxFragments:     effective.MaxFragments,
			MaxFiles:         effective.MaxFiles,
			MaxStorageBytes:  effective.MaxStorageBytes,
			MaxFileSizeBytes: effective.MaxFileSizeBytes,
		},
		Created:  user.Created,
		Modified: user.Modified,
	}
	for _, ident := range user.OAuthIdentities {
		resp.OAuthIdentities = append(resp.OAuthIdentities, dto.OAuthIdentity{
			Provider:  ident.Provider,
			Email:     ident.Email,
			LastLogin: ident.LastLogin,
		})
	}
	return resp
}
