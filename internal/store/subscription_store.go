package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mfreeman/visatrack/internal/model"
)

// Subscription upsert outcomes.
const (
	SubscriptionCreated      = "created"
	SubscriptionUpdated      = "updated"
	SubscriptionResubscribed = "resubscribed"
)

// UpsertResult reports what an upsert did. PreviousCategories is nil for
// newly created subscriptions.
type UpsertResult struct {
	Status             string
	Subscription       *model.Subscription
	PreviousCategories []string
}

// SubscriptionStore handles database operations for subscriptions.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a new SubscriptionStore.
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Upsert creates or updates a subscription for an email address. A new
// email gets a fresh unsubscribe token; an existing one keeps its token
// and has its categories replaced. A previously unsubscribed email is
// reactivated.
func (s *SubscriptionStore) Upsert(ctx context.Context, email string, categories []string, ipAddress, userAgent string) (*UpsertResult, error) {
	catJSON, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal categories: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := getByEmailTx(ctx, tx, email)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if existing == nil {
		sub := &model.Subscription{
			Email:            email,
			Categories:       categories,
			UnsubscribeToken: uuid.NewString(),
			IsActive:         true,
			SubscribedAt:     now,
			IPAddress:        nullString(ipAddress),
			UserAgent:        nullString(userAgent),
		}

		query := `
			INSERT INTO subscriptions (email, categories, unsubscribe_token, is_active,
			                           subscribed_at, ip_address, user_agent)
			VALUES ($1, $2, $3, TRUE, $4, $5, $6)
			RETURNING id
		`
		err = tx.QueryRowContext(ctx, query,
			sub.Email, catJSON, sub.UnsubscribeToken, sub.SubscribedAt,
			sub.IPAddress, sub.UserAgent,
		).Scan(&sub.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert subscription for %s: %w", email, err)
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return &UpsertResult{Status: SubscriptionCreated, Subscription: sub}, nil
	}

	status := SubscriptionUpdated
	if !existing.IsActive {
		status = SubscriptionResubscribed
	}
	previous := existing.Categories

	query := `
		UPDATE subscriptions
		SET categories = $2, is_active = TRUE, updated_at = $3,
		    ip_address = COALESCE($4, ip_address),
		    user_agent = COALESCE($5, user_agent)
		WHERE email = $1
	`
	_, err = tx.ExecContext(ctx, query, email, catJSON, now,
		nullString(ipAddress), nullString(userAgent))
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription for %s: %w", email, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	existing.Categories = categories
	existing.IsActive = true
	existing.UpdatedAt = sql.NullTime{Time: now, Valid: true}
	return &UpsertResult{
		Status:             status,
		Subscription:       existing,
		PreviousCategories: previous,
	}, nil
}

// GetByEmail retrieves a subscription regardless of active state.
// Returns nil when no subscription exists.
func (s *SubscriptionStore) GetByEmail(ctx context.Context, email string) (*model.Subscription, error) {
	return getByEmail(ctx, s.db, email)
}

// DeactivateByToken marks the subscription holding the token inactive
// and returns it. Returns nil when the token is unknown or the
// subscription was already inactive.
func (s *SubscriptionStore) DeactivateByToken(ctx context.Context, token string) (*model.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET is_active = FALSE, updated_at = $2
		WHERE unsubscribe_token = $1 AND is_active = TRUE
		RETURNING id, email, categories, unsubscribe_token, is_active,
		          subscribed_at, updated_at, ip_address, user_agent
	`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, token, time.Now().UTC()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return sub, nil
}

// ListActive retrieves all active subscriptions.
func (s *SubscriptionStore) ListActive(ctx context.Context) ([]model.Subscription, error) {
	query := `
		SELECT id, email, categories, unsubscribe_token, is_active,
		       subscribed_at, updated_at, ip_address, user_agent
		FROM subscriptions
		WHERE is_active = TRUE
		ORDER BY email
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

// ListActiveForCategory retrieves active subscriptions that include the
// given category code.
func (s *SubscriptionStore) ListActiveForCategory(ctx context.Context, category string) ([]model.Subscription, error) {
	query := `
		SELECT id, email, categories, unsubscribe_token, is_active,
		       subscribed_at, updated_at, ip_address, user_agent
		FROM subscriptions
		WHERE is_active = TRUE AND categories ? $1
		ORDER BY email
	`

	rows, err := s.db.QueryContext(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for %s: %w", category, err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

// CountActive returns the number of active subscriptions.
func (s *SubscriptionStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscriptions WHERE is_active = TRUE").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return count, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getByEmail(ctx context.Context, q queryRower, email string) (*model.Subscription, error) {
	query := `
		SELECT id, email, categories, unsubscribe_token, is_active,
		       subscribed_at, updated_at, ip_address, user_agent
		FROM subscriptions
		WHERE email = $1
	`

	sub, err := scanSubscription(q.QueryRowContext(ctx, query, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription for %s: %w", email, err)
	}
	return sub, nil
}

func getByEmailTx(ctx context.Context, tx *sql.Tx, email string) (*model.Subscription, error) {
	return getByEmail(ctx, tx, email)
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	var sub model.Subscription
	var catJSON []byte

	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&catJSON,
		&sub.UnsubscribeToken,
		&sub.IsActive,
		&sub.SubscribedAt,
		&sub.UpdatedAt,
		&sub.IPAddress,
		&sub.UserAgent,
	)
	if err != nil {
		return nil, err
	}

	if len(catJSON) > 0 {
		if err := json.Unmarshal(catJSON, &sub.Categories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
		}
	}

	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
