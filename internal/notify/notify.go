// Package notify delivers web push messages for finished pipeline work.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/NeverlandYao/iknow/internal/enrich"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/maruel/ksid"
)

// Service pushes to a user's registered subscriptions.
type Service struct {
	subs  *identity.PushSubscriptionService
	vapid storage.VAPIDKeys
}

var _ enrich.Notifier = (*Service)(nil)

func NewService(subs *identity.PushSubscriptionService, vapid storage.VAPIDKeys) *Service {
	return &Service{subs: subs, vapid: vapid}
}

// Enabled reports whether the VAPID key pair is configured.
func (s *Service) Enabled() bool {
	return s.vapid.Enabled()
}

// NotifyUser pushes title and body to every subscription of the user.
// Fire and forget: delivery runs on a goroutine, failures are logged,
// and an HTTP 410 from the push service deletes the subscription.
func (s *Service) NotifyUser(userID ksid.ID, title, body string) {
	if !s.Enabled() {
		return
	}
	go s.push(userID, title, body)
}

func (s *Service) push(userID ksid.ID, title, body string) {
	payload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		slog.Error("failed to marshal push payload", "error", err)
		return
	}

	for sub := range s.subs.ListByUser(userID) {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}, &webpush.Options{
			VAPIDPublicKey:  s.vapid.PublicKey,
			VAPIDPrivateKey: s.vapid.PrivateKey,
			TTL:             86400,
		})
		if err != nil {
			slog.Error("web push send failed", "endpoint", sub.Endpoint, "error", err)
			continue
		}
		_ = resp.Body.Close()
		// 410 Gone means the subscription is dead at the push service.
		if resp.StatusCode == http.StatusGone {
			if err := s.subs.Delete(sub.ID); err != nil {
				slog.Error("failed to delete expired push subscription", "id", sub.ID, "error", err)
			}
		}
	}
}
