// Package alert implements the Alert Store & Publisher (C10): a per-user
// append-indexed log of RiskAlerts with a TTL, paginated listing, and an
// out-of-band webhook publish, grounded on
// original_source/.../services/alert_service.py (create_alert/list_alerts/
// acknowledge_alert/_send_webhook_notification/clear_old_alerts) and the
// teacher's postSlack bounded-timeout webhook POST shape.
package alert

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/algotrade/tradecore/internal/cache"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultTTL = 7 * 24 * time.Hour

// Page is one paginated slice of a user's alert history.
type Page struct {
	Alerts   []domain.RiskAlert
	Total    int64
	Page     int
	PageSize int
}

// Store persists alerts in Redis (hot path, TTL-bounded), publishes new
// alerts to a configured webhook sink, and optionally archives them to
// Postgres via a gorm-backed Archiver for retention beyond the Redis TTL
// horizon, per spec.md §4.9.
type Store struct {
	cache      *cache.Client
	webhookURL string
	httpClient *http.Client
	archiver   *Archiver
}

// New builds a Store. webhookURL may be empty to disable publishing.
func New(c *cache.Client, webhookURL string) *Store {
	return &Store{
		cache:      c,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// WithArchiver attaches a durable Archiver; every Create afterward archives
// a copy to Postgres in the background, best-effort. Returns s for chaining.
func (s *Store) WithArchiver(a *Archiver) *Store {
	s.archiver = a
	return s
}

func alertKey(userID, alertID string) string {
	return fmt.Sprintf("alerts:%s:%s", userID, alertID)
}

func alertListKey(userID string) string {
	return "alerts:list:" + userID
}

// Create persists a new RiskAlert, indexes it in the user's sorted-set
// alert list, and fires an out-of-band webhook publish (best effort — a
// publish failure is logged but never returned to the caller, per
// spec.md §4.9's "publish failure logs but never blocks caller").
func (s *Store) Create(ctx context.Context, userID string, typ domain.AlertType, level domain.RiskLevel, message string, details map[string]string) (domain.RiskAlert, error) {
	a := domain.RiskAlert{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Level:     level,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	if err := s.cache.SetJSON(ctx, alertKey(userID, a.ID), a, defaultTTL); err != nil {
		return domain.RiskAlert{}, fmt.Errorf("alert: persist: %w", err)
	}
	if err := s.cache.ZAdd(ctx, alertListKey(userID), a.ID, float64(a.Timestamp.UnixNano())); err != nil {
		return domain.RiskAlert{}, fmt.Errorf("alert: index: %w", err)
	}
	if err := s.cache.Expire(ctx, alertListKey(userID), defaultTTL); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("alert: failed to refresh list TTL")
	}

	log.Info().
		Str("alert_id", a.ID).
		Str("user_id", userID).
		Str("type", string(typ)).
		Str("level", string(level)).
		Msg("alert created")

	go s.publish(context.Background(), a)
	if s.archiver != nil {
		go func() {
			if err := s.archiver.Archive(context.Background(), a); err != nil {
				log.Warn().Err(err).Str("alert_id", a.ID).Msg("alert: archive to postgres failed")
			}
		}()
	}

	return a, nil
}

// Get fetches a single alert by ID; ok=false on a miss.
func (s *Store) Get(ctx context.Context, userID, alertID string) (domain.RiskAlert, bool, error) {
	var a domain.RiskAlert
	ok, err := s.cache.GetJSON(ctx, alertKey(userID, alertID), &a)
	return a, ok, err
}

// List returns one page of a user's alerts ordered newest-first, optionally
// filtered by acknowledgment status.
func (s *Store) List(ctx context.Context, userID string, page, pageSize int, acknowledged *bool) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	total, err := s.cache.ZCard(ctx, alertListKey(userID))
	if err != nil {
		return Page{}, err
	}

	start := int64((page - 1) * pageSize)
	stop := start + int64(pageSize) - 1
	ids, err := s.cache.ZRevRange(ctx, alertListKey(userID), start, stop)
	if err != nil {
		return Page{}, err
	}

	out := make([]domain.RiskAlert, 0, len(ids))
	for _, id := range ids {
		a, ok, err := s.Get(ctx, userID, id)
		if err != nil {
			log.Warn().Err(err).Str("alert_id", id).Msg("alert: failed to fetch entry during list")
			continue
		}
		if !ok {
			continue // expired since the index entry was written
		}
		if acknowledged != nil && a.Acknowledged != *acknowledged {
			continue
		}
		out = append(out, a)
	}

	return Page{Alerts: out, Total: total, Page: page, PageSize: pageSize}, nil
}

// Acknowledge marks an alert acknowledged. Returns ok=false if the alert
// does not exist (or has expired).
func (s *Store) Acknowledge(ctx context.Context, userID, alertID string) (bool, error) {
	a, ok, err := s.Get(ctx, userID, alertID)
	if err != nil || !ok {
		return false, err
	}
	a.Acknowledged = true
	now := time.Now().UTC()
	a.AcknowledgedAt = &now
	if err := s.cache.SetJSON(ctx, alertKey(userID, alertID), a, defaultTTL); err != nil {
		return false, err
	}
	return true, nil
}

// ClearOld trims index entries older than the given retention window,
// mirroring clear_old_alerts.
func (s *Store) ClearOld(ctx context.Context, userID string, retention time.Duration) (int64, error) {
	cutoff := float64(time.Now().Add(-retention).UnixNano())
	return s.cache.ZRemRangeByScore(ctx, alertListKey(userID), cutoff)
}

func (s *Store) publish(ctx context.Context, a domain.RiskAlert) {
	if err := s.cache.Publish(ctx, "alerts:"+a.UserID, a); err != nil {
		log.Warn().Err(err).Str("alert_id", a.ID).Msg("alert: redis publish failed")
	}
	if s.webhookURL == "" {
		return
	}
	if err := s.sendWebhook(ctx, a); err != nil {
		log.Warn().Err(err).Str("alert_id", a.ID).Msg("alert: webhook publish failed")
	} else {
		log.Info().Str("alert_id", a.ID).Msg("webhook notification sent")
	}
}

func (s *Store) sendWebhook(ctx context.Context, a domain.RiskAlert) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body := fmt.Sprintf(
		`{"alert_id":%q,"user_id":%q,"alert_type":%q,"risk_level":%q,"message":%q,"timestamp":%q}`,
		a.ID, a.UserID, a.Type, a.Level, a.Message, a.Timestamp.Format(time.RFC3339),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %s", strconv.Itoa(resp.StatusCode))
	}
	return nil
}
