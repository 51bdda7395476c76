// Handles OAuth2 login flows.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/NeverlandYao/iknow/internal/server/dto"
	"github.com/NeverlandYao/iknow/internal/server/reqctx"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	"github.com/NeverlandYao/iknow/internal/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// stateCookieName holds the CSRF state between redirect and callback.
const stateCookieName = "oauth_state"

// OAuthHandler handles OAuth2 authentication for multiple providers.
type OAuthHandler struct {
	Svc       *Services
	Cfg       *Config
	providers map[string]*oauth2.Config
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(svc *Services, cfg *Config) *OAuthHandler {
	return &OAuthHandler{
		Svc:       svc,
		Cfg:       cfg,
		providers: make(map[string]*oauth2.Config),
	}
}

// AddProvider adds an OAuth2 provider configuration. Unknown provider
// names and incomplete credentials are ignored.
func (h *OAuthHandler) AddProvider(name, clientID, clientSecret, redirectURL string) {
	if clientID == "" || clientSecret == "" {
		return
	}
	var endpoint oauth2.Endpoint
	var scopes []string

	switch name {
	case "google":
		endpoint = google.Endpoint
		scopes = []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		}
	case "github":
		endpoint = github.Endpoint
		scopes = []string{"read:user", "user:email"}
	default:
		return
	}

	h.providers[name] = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}

// LoginRedirect redirects the user to the OAuth provider.
func (h *OAuthHandler) LoginRedirect(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	config, ok := h.providers[provider]
	if !ok {
		writeErrorResponse(w, dto.InvalidProvider())
		return
	}

	state, err := utils.GenerateToken(16)
	if err != nil {
		writeErrorResponse(w, dto.InternalWithError("Failed to generate state", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/auth/oauth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth provider callback: it verifies the state,
// exchanges the code, resolves or creates the local user, and hands back
// a session token.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	config, ok := h.providers[provider]
	if !ok {
		writeErrorResponse(w, dto.InvalidProvider())
		return
	}

	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || state == "" || cookie.Value != state {
		writeErrorResponse(w, dto.BadRequest("OAuth state mismatch"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeErrorResponse(w, dto.MissingField("code"))
		return
	}

	token, err := config.Exchange(r.Context(), code)
	if err != nil {
		writeErrorResponse(w, dto.OAuthError("token_exchange"))
		return
	}

	client := config.Client(r.Context(), token)
	info, err := fetchUserInfo(client, provider)
	if err != nil {
		writeErrorResponse(w, dto.OAuthError("user_info"))
		return
	}
	if info.Email == "" {
		writeErrorResponse(w, dto.OAuthError("no_email"))
		return
	}

	user, err := h.resolveUser(provider, info)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}

	jwtToken, err := createSessionToken(h.Svc, h.Cfg, user, reqctx.GetClientIP(r), r.UserAgent())
	if err != nil {
		writeErrorResponse(w, dto.InternalWithError("Failed to generate token", err))
		return
	}

	http.Redirect(w, r, fmt.Sprintf("%s/?token=%s", h.Cfg.BaseURL, jwtToken), http.StatusTemporaryRedirect)
}

// oauthUserInfo is the provider-independent identity of the remote user.
type oauthUserInfo struct {
	ID    string
	Email string
	Name  string
}

// fetchUserInfo queries the provider's user info endpoint.
func fetchUserInfo(client *http.Client, provider string) (oauthUserInfo, error) {
	var info oauthUserInfo
	switch provider {
	case "google":
		resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
		if err != nil {
			return info, err
		}
		defer func() { _ = resp.Body.Close() }()
		var gUser struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&gUser); err != nil {
			return info, err
		}
		info.ID = gUser.ID
		info.Email = gUser.Email
		info.Name = gUser.Name

	case "github":
		resp, err := client.Get("https://api.github.com/user")
		if err != nil {
			return info, err
		}
		defer func() { _ = resp.Body.Close() }()
		var ghUser struct {
			ID    int64  `json:"id"` // numeric at GitHub
			Login string `json:"login"`
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&ghUser); err != nil {
			return info, err
		}
		info.ID = strconv.FormatInt(ghUser.ID, 10)
		info.Email = ghUser.Email
		info.Name = ghUser.Name
		if info.Name == "" {
			info.Name = ghUser.Login
		}
		if info.Email == "" {
			// The profile email is often private; ask the emails endpoint.
			info.Email = fetchGitHubPrimaryEmail(client)
		}
	}
	return info, nil
}

// fetchGitHubPrimaryEmail returns the primary verified email, or "".
func fetchGitHubPrimaryEmail(client *http.Client) string {
	resp, err := client.Get("https://api.github.com/user/emails")
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

// resolveUser finds the local account for a provider identity, linking or
// creating it as needed.
func (h *OAuthHandler) resolveUser(provider string, info oauthUserInfo) (*identity.User, error) {
	ident := identity.OAuthIdentity{
		Provider:   provider,
		ProviderID: info.ID,
		Email:      info.Email,
	}

	user, err := h.Svc.User.GetByOAuth(provider, info.ID)
	if err != nil {
		// Fall back to email matching, then to account creation.
		user, err = h.Svc.User.GetByEmail(info.Email)
		if err != nil {
			if h.Cfg.Quotas.MaxUsers > 0 && h.Svc.User.Count() >= h.Cfg.Quotas.MaxUsers {
				return nil, dto.QuotaExceeded("users")
			}
			user, err = h.Svc.User.CreateOAuth(info.Email, info.Name, ident)
			if err != nil {
				return nil, dto.InternalWithError("Failed to create user", err)
			}
			return user, nil
		}
	}

	// Link the identity, or refresh its last login when already linked.
	if err := h.Svc.User.LinkOAuth(user.ID, ident); err != nil {
		return nil, dto.InternalWithError("Failed to link OAuth identity", err)
	}
	return user, nil
}
