// Handles web push subscription endpoints.

package handlers

import (
	"context"

	"github.com/NeverlandYao/iknow/internal/server/dto"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
)

// NotificationHandler handles push subscription HTTP requests.
type NotificationHandler struct {
	Svc *Services
	Cfg *Config
}

// GetVAPIDKey returns the server's public VAPID key. Empty when push is
// not configured; clients skip subscribing in that case.
func (h *NotificationHandler) GetVAPIDKey(_ context.Context, _ *dto.GetVAPIDKeyRequest) (*dto.GetVAPIDKeyResponse, error) {
	return &dto.GetVAPIDKeyResponse{PublicKey: h.Cfg.VAPID.PublicKey}, nil
}

// SubscribePush registers a browser push subscription for the user.
func (h *NotificationHandler) SubscribePush(_ context.Context, user *identity.User, req *dto.SubscribePushRequest) (*dto.SubscribePushResponse, error) {
	if !h.Cfg.VAPID.Enabled() {
		return nil, dto.BadRequest("Push notifications are not configured")
	}
	sub, err := h.Svc.PushSubscription.Create(user.ID, req.Endpoint, req.P256dh, req.Auth)
	if err != nil {
		return nil, dto.InternalWithError("Failed to store push subscription", err)
	}
	return &dto.SubscribePushResponse{ID: sub.ID}, nil
}

// UnsubscribePush removes one of the user's push subscriptions.
func (h *NotificationHandler) UnsubscribePush(_ context.Context, user *identity.User, req *dto.UnsubscribePushRequest) (*dto.UnsubscribePushResponse, error) {
	sub, err := h.Svc.PushSubscription.Get(req.SubscriptionID)
	if err != nil || sub.UserID != user.ID {
		return nil, dto.NotFound("push subscription")
	}
	if err := h.Svc.PushSubscription.Delete(req.SubscriptionID); err != nil {
		return nil, dto.InternalWithError("Failed to delete push subscription", err)
	}
	return &dto.UnsubscribePushResponse{Ok: true}, nil
}
