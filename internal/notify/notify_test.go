package notify

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/maruel/ksid"
)

func testVAPID(t *testing.T) storage.VAPIDKeys {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("failed to generate VAPID keys: %v", err)
	}
	return storage.VAPIDKeys{PublicKey: pub, PrivateKey: priv}
}

// subscriberKeys builds the browser-side key material a real
// PushManager subscription would carry.
func subscriberKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate subscriber key: %v", err)
	}
	authBytes := make([]byte, 16)
	if _, err := rand.Read(authBytes); err != nil {
		t.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(authBytes)
}

func testSubs(t *testing.T) *identity.PushSubscriptionService {
	t.Helper()
	subs, err := identity.NewPushSubscriptionService(filepath.Join(t.TempDir(), "subs.jsonl"))
	if err != nil {
		t.Fatalf("failed to create subscription service: %v", err)
	}
	return subs
}

func TestPush(t *testing.T) {
	received := make(chan *http.Request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	subs := testSubs(t)
	userID := ksid.NewID()
	p256dh, auth := subscriberKeys(t)
	if _, err := subs.Create(userID, srv.URL+"/push/abc", p256dh, auth); err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	svc := NewService(subs, testVAPID(t))
	svc.push(userID, "Text extraction finished", "Text from scan.png is ready")

	select {
	case r := <-received:
		if got := r.Header.Get("Content-Encoding"); got != "aes128gcm" {
			t.Errorf("Content-Encoding = %q, want aes128gcm", got)
		}
		if got := r.Header.Get("TTL"); got != "86400" {
			t.Errorf("TTL = %q, want 86400", got)
		}
	default:
		t.Fatal("Push service received nothing")
	}

	// Other users' subscriptions are untouched.
	svc.push(ksid.NewID(), "nope", "nope")
	select {
	case <-received:
		t.Error("Unexpected push for a user without subscriptions")
	default:
	}
}

func TestPushGoneDeletesSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	subs := testSubs(t)
	userID := ksid.NewID()
	p256dh, auth := subscriberKeys(t)
	sub, err := subs.Create(userID, srv.URL+"/push/dead", p256dh, auth)
	if err != nil {
		t.Fatal(err)
	}

	svc := NewService(subs, testVAPID(t))
	svc.push(userID, "title", "body")

	if _, err := subs.Get(sub.ID); !errors.Is(err, identity.ErrPushSubscriptionNotFound) {
		t.Errorf("Expected the dead subscription to be deleted, got %v", err)
	}
}

func TestNotifyUserAsync(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	subs := testSubs(t)
	userID := ksid.NewID()
	p256dh, auth := subscriberKeys(t)
	if _, err := subs.Create(userID, srv.URL+"/push/async", p256dh, auth); err != nil {
		t.Fatal(err)
	}

	svc := NewService(subs, testVAPID(t))
	svc.NotifyUser(userID, "title", "body")

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("Async push never arrived")
	}
}

func TestDisabled(t *testing.T) {
	svc := NewService(testSubs(t), storage.VAPIDKeys{})
	if svc.Enabled() {
		t.Error("Expected Enabled() == false without keys")
	}
	// Must be a silent no-op.
	svc.NotifyUser(ksid.NewID(), "title", "body")
}
