package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"domamart/pkg/platform/sentinel"
	"domamart/pkg/platform/tx"
)

// PostgresStore persists the projection in the domains and offers tables.
// Writes join a transaction carried in ctx.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// upsertDomain guarantees the row exists and refreshes its identifiers.
const upsertDomain = `
	INSERT INTO domains (domain_key, token_id, name, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (domain_key) DO UPDATE SET
		token_id = CASE WHEN EXCLUDED.token_id <> '' THEN EXCLUDED.token_id ELSE domains.token_id END,
		name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE domains.name END,
		updated_at = now()
`

const tokenizedByName = `
	SELECT domain_key FROM domains
	WHERE name = $1 AND token_id <> ''
	ORDER BY updated_at DESC
	LIMIT 1
`

// resolve returns the row key addressed by key. A name-only key addresses the
// tokenized row carrying that name when one exists.
func (s *PostgresStore) resolve(ctx context.Context, key Key) (string, error) {
	if key.TokenID != "" || key.Name == "" {
		return key.String(), nil
	}
	var rowKey string
	err := tx.Pick(ctx, s.db).GetContext(ctx, &rowKey, tokenizedByName, key.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return key.String(), nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve domain key: %w", err)
	}
	return rowKey, nil
}

func (s *PostgresStore) ensure(ctx context.Context, rowKey string, key Key) error {
	if _, err := tx.Pick(ctx, s.db).ExecContext(ctx, upsertDomain, rowKey, key.TokenID, key.Name); err != nil {
		return fmt.Errorf("upsert domain: %w", err)
	}
	return nil
}

// update ensures the row and applies a single-statement update keyed by $1.
func (s *PostgresStore) update(ctx context.Context, key Key, op, query string, args ...any) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		rowKey, err := s.resolve(ctx, key)
		if err != nil {
			return err
		}
		if err := s.ensure(ctx, rowKey, key); err != nil {
			return err
		}
		args = append([]any{rowKey}, args...)
		if _, err := tx.Pick(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

func (s *PostgresStore) RegisterName(ctx context.Context, reg Registration) error {
	return s.update(ctx, reg.Key, "register name",
		`UPDATE domains SET owner = $2, expires_at = $3 WHERE domain_key = $1`,
		reg.Owner, reg.ExpiresAt)
}

func (s *PostgresStore) MarkClaimed(ctx context.Context, key Key, claimedBy string) error {
	return s.update(ctx, key, "mark claimed",
		`UPDATE domains SET claimed = true, claimed_by = $2 WHERE domain_key = $1`,
		claimedBy)
}

func (s *PostgresStore) UpdateOwner(ctx context.Context, key Key, owner string) error {
	return s.update(ctx, key, "update owner",
		`UPDATE domains SET owner = $2 WHERE domain_key = $1`,
		owner)
}

func (s *PostgresStore) SetListing(ctx context.Context, key Key, listing Listing) error {
	return s.update(ctx, key, "set listing",
		`UPDATE domains SET for_sale = true, price = $2, currency = $3 WHERE domain_key = $1`,
		listing.Price, listing.Currency)
}

func (s *PostgresStore) ClearListing(ctx context.Context, key Key) (bool, error) {
	// The subquery reads the pre-update row, so wasListed reflects prior state.
	query := `
		UPDATE domains d
		SET for_sale = false, price = NULL, updated_at = now()
		FROM (SELECT domain_key, for_sale FROM domains WHERE domain_key = $1 FOR UPDATE) prev
		WHERE d.domain_key = prev.domain_key
		RETURNING prev.for_sale
	`
	rowKey, err := s.resolve(ctx, key)
	if err != nil {
		return false, err
	}
	var wasListed bool
	err = tx.Pick(ctx, s.db).GetContext(ctx, &wasListed, query, rowKey)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("clear listing: %w", err)
	}
	return wasListed, nil
}

func (s *PostgresStore) AddOffer(ctx context.Context, key Key, offer Offer) error {
	return s.update(ctx, key, "add offer", `
		INSERT INTO offers (id, domain_key, buyer, amount, currency, expires_at, status)
		VALUES ($2, $1, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, offer.ID, offer.Buyer, offer.Amount, offer.Currency, offer.ExpiresAt, string(OfferPending))
}

func (s *PostgresStore) CancelPendingOffers(ctx context.Context, key Key) (int, error) {
	rowKey, err := s.resolve(ctx, key)
	if err != nil {
		return 0, err
	}
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx,
		`UPDATE offers SET status = $2 WHERE domain_key = $1 AND status = $3`,
		rowKey, string(OfferRejected), string(OfferPending))
	if err != nil {
		return 0, fmt.Errorf("cancel pending offers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending offers: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Domain, error) {
	db := tx.Pick(ctx, s.db)

	var d Domain
	err := db.GetContext(ctx, &d, `
		SELECT domain_key, token_id, name, owner, claimed, claimed_by,
			   for_sale, price, currency, expires_at, updated_at
		FROM domains
		WHERE domain_key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		var rowKey string
		if rerr := db.GetContext(ctx, &rowKey, tokenizedByName, key); rerr != nil {
			if errors.Is(rerr, sql.ErrNoRows) {
				return nil, sentinel.ErrNotFound
			}
			return nil, fmt.Errorf("get domain: %w", rerr)
		}
		return s.Get(ctx, rowKey)
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}

	d.Offers = []Offer{}
	err = db.SelectContext(ctx, &d.Offers, `
		SELECT id, domain_key, buyer, amount, currency, expires_at, status, created_at
		FROM offers
		WHERE domain_key = $1
		ORDER BY id
	`, d.Key)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, s.db, fn)
}
