// Defines shared service dependencies for handlers.

package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/NeverlandYao/iknow/internal/enrich"
	"github.com/NeverlandYao/iknow/internal/notify"
	"github.com/NeverlandYao/iknow/internal/search"
	"github.com/NeverlandYao/iknow/internal/server/bandwidth"
	"github.com/NeverlandYao/iknow/internal/server/ipgeo"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/content"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	"github.com/maruel/ksid"
)

// Services holds all service dependencies for handlers.
type Services struct {
	User             *identity.UserService
	Session          *identity.SessionService
	PushSubscription *identity.PushSubscriptionService
	Files            *content.FileService
	Fragments        *content.FragmentStore
	Search           *search.Index
	Pipeline         *enrich.Pipeline
	Notify           *notify.Service    // may be nil
	Geo              *ipgeo.Checker     // may be nil
	Bandwidth        *bandwidth.Limiter // may be nil
}

// Config holds configuration values needed by handlers.
type Config struct {
	JWTSecret     []byte
	ContentSecret []byte
	BaseURL       string
	Version       string
	Quotas        storage.ServerQuotas
	VAPID         storage.VAPIDKeys
}

// signedFileURLTTL is how long generated download links stay valid.
const signedFileURLTTL = time.Hour

// GenerateSignedFileURL returns a time-limited download URL for a file.
// The signature covers the file ID, name and expiry so the link cannot be
// redirected to another file.
func (c *Config) GenerateSignedFileURL(fileID ksid.ID, name string) string {
	exp := time.Now().Add(signedFileURLTTL).Unix()
	sig := c.fileSignature(fileID, name, exp)
	return fmt.Sprintf("%s/files/%s/%s?exp=%d&sig=%s",
		c.BaseURL, fileID, url.PathEscape(name), exp, sig)
}

// VerifyFileSignature reports whether sig is valid for the file and not
// yet expired at exp (unix seconds).
func (c *Config) VerifyFileSignature(fileID ksid.ID, name string, exp int64, sig string) bool {
	if time.Now().Unix() > exp {
		return false
	}
	want := c.fileSignature(fileID, name, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (c *Config) fileSignature(fileID ksid.ID, name string, exp int64) string {
	mac := hmac.New(sha256.New, c.ContentSecret)
	fmt.Fprintf(mac, "%s/%s:%d", fileID, name, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
