package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
)

// PushPayload is the notification body handed to the browser's service worker.
type PushPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Icon  string                 `json:"icon,omitempty"`
	Tag   string                 `json:"tag,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Pusher sends web push notifications to every subscription a user has
// registered, dropping subscriptions the push service reports as dead.
type Pusher struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewPusher(db *sql.DB, log zerolog.Logger) *Pusher {
	return &Pusher{db: db, log: log}
}

// Configured reports whether VAPID keys are present in the environment.
func (p *Pusher) Configured() bool {
	return os.Getenv("VAPID_PUBLIC_KEY") != "" &&
		os.Getenv("VAPID_PRIVATE_KEY") != "" &&
		os.Getenv("VAPID_SUBJECT") != ""
}

func vapidOptions() *webpush.Options {
	return &webpush.Options{
		Subscriber:      os.Getenv("VAPID_SUBJECT"),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		TTL:             30,
	}
}

// Send pushes the payload to all of the user's subscriptions. It errors when
// the user has subscriptions and none of them accepted the push.
func (p *Pusher) Send(ctx context.Context, userID int, payload PushPayload) error {
	rows, err := p.db.QueryContext(ctx,
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ?",
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	defer rows.Close()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	options := vapidOptions()
	total, sent := 0, 0
	for rows.Next() {
		total++
		var endpoint, p256dh, auth string
		if err := rows.Scan(&endpoint, &p256dh, &auth); err != nil {
			p.log.Warn().Err(err).Msg("scanning push subscription failed")
			continue
		}

		sub := &webpush.Subscription{
			Endpoint: endpoint,
			Keys:     webpush.Keys{P256dh: p256dh, Auth: auth},
		}

		resp, err := webpush.SendNotification(payloadJSON, sub, options)
		if err != nil {
			p.log.Warn().Err(err).Str("endpoint", endpoint).Msg("push send failed")
			if resp != nil && (resp.StatusCode == 404 || resp.StatusCode == 410) {
				p.dropSubscription(endpoint)
			}
			continue
		}
		if resp != nil {
			resp.Body.Close()
			// 403 means the VAPID keys no longer match this subscription; drop
			// it so the client re-subscribes with current keys.
			if resp.StatusCode == 403 || resp.StatusCode == 404 || resp.StatusCode == 410 {
				p.dropSubscription(endpoint)
				continue
			}
			if resp.StatusCode >= 400 {
				p.log.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("push service rejected notification")
				continue
			}
		}
		sent++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if total == 0 {
		return fmt.Errorf("no push subscriptions for user %d", userID)
	}
	if sent == 0 {
		return fmt.Errorf("all %d push sends failed for user %d", total, userID)
	}
	return nil
}

func (p *Pusher) dropSubscription(endpoint string) {
	if _, err := p.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint); err != nil {
		p.log.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to drop dead subscription")
		return
	}
	p.log.Info().Str("endpoint", endpoint).Msg("dropped dead push subscription")
}
