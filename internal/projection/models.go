// Package projection holds the local read model of domain, listing and offer
// state derived from the feed. Only sync handlers write to it.
package projection

import (
	"context"
	"time"
)

// OfferStatus is the lifecycle state of an offer.
type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
	OfferExpired  OfferStatus = "EXPIRED"
)

// Key identifies a domain row. The token id is authoritative; names are used
// for events emitted before tokenization.
type Key struct {
	TokenID string
	Name    string
}

// String is the primary key of the row: the token id, else the name.
func (k Key) String() string {
	if k.TokenID != "" {
		return k.TokenID
	}
	return k.Name
}

// Domain is the projected state of one name.
type Domain struct {
	Key       string     `json:"key" db:"domain_key"`
	TokenID   string     `json:"tokenId" db:"token_id"`
	Name      string     `json:"name" db:"name"`
	Owner     string     `json:"owner" db:"owner"`
	Claimed   bool       `json:"claimed" db:"claimed"`
	ClaimedBy string     `json:"claimedBy,omitempty" db:"claimed_by"`
	ForSale   bool       `json:"forSale" db:"for_sale"`
	Price     *string    `json:"price" db:"price"`
	Currency  string     `json:"currency,omitempty" db:"currency"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
	Offers    []Offer    `json:"offers" db:"-"`
}

// Offer is a bid on a domain. ID is the id of the feed event that created it.
type Offer struct {
	ID        int64       `json:"id" db:"id"`
	DomainKey string      `json:"-" db:"domain_key"`
	Buyer     string      `json:"buyer" db:"buyer"`
	Amount    string      `json:"amount" db:"amount"`
	Currency  string      `json:"currency,omitempty" db:"currency"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty" db:"expires_at"`
	Status    OfferStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
}

// Registration is the data recorded when a name is tokenized.
type Registration struct {
	Key       Key
	Owner     string
	ExpiresAt *time.Time
}

// Listing is an active sale order.
type Listing struct {
	Price    string
	Currency string
}

// Store is the persisted projection. Every write sets absolute values, so
// applying the same event twice leaves the same state as applying it once.
// Writes against a missing row create it, except ClearListing. A key without
// a token id addresses the tokenized row carrying its name when one exists.
type Store interface {
	RegisterName(ctx context.Context, reg Registration) error
	MarkClaimed(ctx context.Context, key Key, claimedBy string) error
	UpdateOwner(ctx context.Context, key Key, owner string) error
	SetListing(ctx context.Context, key Key, listing Listing) error
	// ClearListing takes the domain off sale and reports whether it was listed.
	ClearListing(ctx context.Context, key Key) (bool, error)
	// AddOffer records a PENDING offer. An offer id that already exists is left as is.
	AddOffer(ctx context.Context, key Key, offer Offer) error
	// CancelPendingOffers marks every PENDING offer REJECTED and returns how many changed.
	CancelPendingOffers(ctx context.Context, key Key) (int, error)
	// Get looks key up as a row key, then as the name of a tokenized row.
	// It returns sentinel.ErrNotFound when neither matches.
	Get(ctx context.Context, key string) (*Domain, error)
	// RunInTx applies fn atomically.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
