// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"

	"github.com/NeverlandYao/iknow/internal/server/handlers"
	"github.com/NeverlandYao/iknow/internal/server/ratelimit"
	"github.com/NeverlandYao/iknow/internal/storage"
)

// OAuthConfig holds OAuth client credentials per provider. A provider is
// enabled when both its fields are set.
type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
}

// Config holds server-level configuration for the router.
type Config struct {
	ServerConfig *storage.ServerConfig
	DataDir      string
	BaseURL      string
	Version      string
	GoVersion    string
	Revision     string
	Dirty        bool
	OAuth        OAuthConfig
}

// NewRouter creates and configures the HTTP router.
// JSON API endpoints live under /api/*; signed file downloads under /files/*.
func NewRouter(svc *handlers.Services, cfg *Config) http.Handler {
	limiters := ratelimit.NewLimiters(cfg.ServerConfig.RateLimits)
	hcfg := &handlers.Config{
		JWTSecret:     cfg.ServerConfig.JWTSecret,
		ContentSecret: cfg.ServerConfig.ContentSecret,
		BaseURL:       cfg.BaseURL,
		Version:       cfg.Version,
		Quotas:        cfg.ServerConfig.Quotas,
		VAPID:         cfg.ServerConfig.VAPID,
	}

	hh := &handlers.HealthHandler{Version: cfg.Version, GoVersion: cfg.GoVersion, Revision: cfg.Revision, Dirty: cfg.Dirty}
	authh := &handlers.AuthHandler{Svc: svc, Cfg: hcfg}
	fragh := &handlers.FragmentHandler{Svc: svc, Cfg: hcfg}
	fileh := &handlers.FileHandler{Svc: svc, Cfg: hcfg}
	ocrh := &handlers.OCRHandler{Svc: svc, Cfg: hcfg}
	sh := &handlers.SearchHandler{Svc: svc, Cfg: hcfg}
	nh := &handlers.NotificationHandler{Svc: svc, Cfg: hcfg}

	mux := &http.ServeMux{}

	// Health check
	mux.Handle("GET /api/health", Wrap(hh.Health, hcfg, limiters))

	// Auth endpoints
	mux.Handle("POST /api/auth/register", Wrap(authh.Register, hcfg, limiters))
	mux.Handle("POST /api/auth/login", Wrap(authh.Login, hcfg, limiters))
	mux.Handle("POST /api/auth/logout", WrapAuth(authh.Logout, svc, hcfg, limiters))
	mux.Handle("GET /api/auth/me", WrapAuth(authh.GetMe, svc, hcfg, limiters))
	mux.Handle("PUT /api/auth/me", WrapAuth(authh.UpdateMe, svc, hcfg, limiters))
	mux.Handle("GET /api/auth/sessions", WrapAuth(authh.ListSessions, svc, hcfg, limiters))
	mux.Handle("DELETE /api/auth/sessions/{sessionID}", WrapAuth(authh.RevokeSession, svc, hcfg, limiters))

	// OAuth endpoints
	if cfg.OAuth.enabled() {
		oh := handlers.NewOAuthHandler(svc, hcfg)
		oh.AddProvider("google", cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret, cfg.BaseURL+"/api/auth/oauth/google/callback")
		oh.AddProvider("github", cfg.OAuth.GitHubClientID, cfg.OAuth.GitHubClientSecret, cfg.BaseURL+"/api/auth/oauth/github/callback")
		mux.Handle("GET /api/auth/oauth/{provider}", WrapRaw(oh.LoginRedirect, limiters))
		mux.Handle("GET /api/auth/oauth/{provider}/callback", WrapRaw(oh.Callback, limiters))
	}

	// Fragment endpoints
	mux.Handle("GET /api/fragments", WrapAuth(fragh.ListFragments, svc, hcfg, limiters))
	mux.Handle("POST /api/fragments", WrapAuth(fragh.CreateFragment, svc, hcfg, limiters))
	mux.Handle("GET /api/fragments/{fragmentID}", WrapAuth(fragh.GetFragment, svc, hcfg, limiters))
	mux.Handle("PUT /api/fragments/{fragmentID}", WrapAuth(fragh.UpdateFragment, svc, hcfg, limiters))
	mux.Handle("DELETE /api/fragments/{fragmentID}", WrapAuth(fragh.DeleteFragment, svc, hcfg, limiters))
	mux.Handle("GET /api/fragments/{fragmentID}/history", WrapAuth(fragh.GetFragmentHistory, svc, hcfg, limiters))
	mux.Handle("GET /api/fragments/{fragmentID}/history/{hash}", WrapAuth(fragh.GetFragmentVersion, svc, hcfg, limiters))

	// File endpoints
	mux.Handle("POST /api/files", WrapAuthRaw(fileh.UploadFile, svc, hcfg, limiters))
	mux.Handle("GET /api/files", WrapAuth(fileh.ListFiles, svc, hcfg, limiters))
	mux.Handle("GET /api/files/{fileID}", WrapAuth(fileh.GetFile, svc, hcfg, limiters))
	mux.Handle("DELETE /api/files/{fileID}", WrapAuth(fileh.DeleteFile, svc, hcfg, limiters))

	// Recognition endpoints
	mux.Handle("POST /api/files/{fileID}/ocr", WrapAuth(ocrh.RunOCR, svc, hcfg, limiters))
	mux.Handle("GET /api/ocr/jobs", WrapAuth(ocrh.ListOCRJobs, svc, hcfg, limiters))
	mux.Handle("GET /api/ocr/jobs/{jobID}", WrapAuth(ocrh.GetOCRJob, svc, hcfg, limiters))
	mux.Handle("GET /api/ocr/jobs/{jobID}/result", WrapAuth(ocrh.GetOCRResult, svc, hcfg, limiters))

	// Search endpoint
	mux.Handle("POST /api/search", WrapAuth(sh.Search, svc, hcfg, limiters))

	// Notification endpoints
	mux.Handle("GET /api/notifications/vapid-key", Wrap(nh.GetVAPIDKey, hcfg, limiters))
	mux.Handle("POST /api/notifications/subscriptions", WrapAuth(nh.SubscribePush, svc, hcfg, limiters))
	mux.Handle("DELETE /api/notifications/subscriptions/{subscriptionID}", WrapAuth(nh.UnsubscribePush, svc, hcfg, limiters))

	// File serving (raw bytes, signature is the capability)
	mux.Handle("GET /files/{fileID}/{name}", WrapRaw(fileh.ServeFileContent, limiters))

	return mux
}

func (o *OAuthConfig) enabled() bool {
	return (o.GoogleClientID != "" && o.GoogleClientSecret != "") ||
		(o.GitHubClientID != "" && o.GitHubClientSecret != "")
}
