package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/duobill/internal/billing/model"
)

// SubscriptionLinkStore persists approved subscriptions. A provider
// subscription id is recorded at most once per provider.
type SubscriptionLinkStore struct {
	db *sql.DB
}

func NewSubscriptionLinkStore(db *sql.DB) *SubscriptionLinkStore {
	return &SubscriptionLinkStore{db: db}
}

func scanSubscriptionLink(scanner interface{ Scan(...any) error }) (*model.SubscriptionLink, error) {
	var l model.SubscriptionLink
	err := scanner.Scan(&l.ID, &l.UserID, &l.Provider, &l.ProviderSubscriptionID, &l.PlanID, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

const subscriptionLinkCols = `id, user_id, provider, provider_subscription_id, plan_id, created_at`

// Create records l. If the provider subscription id is already recorded the
// existing row is returned with created false.
func (s *SubscriptionLinkStore) Create(l model.SubscriptionLink) (*model.SubscriptionLink, bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO subscription_links (user_id, provider, provider_subscription_id, plan_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, provider_subscription_id) DO NOTHING`,
		l.UserID, l.Provider, l.ProviderSubscriptionID, l.PlanID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert subscription link: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	link, err := s.GetByProviderID(l.Provider, l.ProviderSubscriptionID)
	if err != nil {
		return nil, false, err
	}
	if link == nil {
		return nil, false, fmt.Errorf("subscription link %s/%s vanished after insert", l.Provider, l.ProviderSubscriptionID)
	}
	return link, n > 0, nil
}

func (s *SubscriptionLinkStore) GetByProviderID(provider, subscriptionID string) (*model.SubscriptionLink, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionLinkCols+` FROM subscription_links WHERE provider = ? AND provider_subscription_id = ?`,
		provider, subscriptionID,
	)
	l, err := scanSubscriptionLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription link by provider id: %w", err)
	}
	return l, nil
}
