package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPayload marks a payload that decoded but is missing required fields.
var ErrInvalidPayload = errors.New("invalid event payload")

// Payload is the type-specific body of an event. The set of implementations is
// closed to this package.
type Payload interface {
	Type() Type
	ref() Ref
	validate() error
	accept(ctx context.Context, evt Event, h Handler) error
}

// Ref is the domain reference every payload carries.
type Ref struct {
	TokenID string `json:"tokenId"`
	Name    string `json:"name"`
}

func (r Ref) ref() Ref { return r }

func (r Ref) requireKey() error {
	if r.TokenID == "" && r.Name == "" {
		return fmt.Errorf("%w: tokenId or name required", ErrInvalidPayload)
	}
	return nil
}

// Amount is an on-chain quantity in the smallest currency unit. The feed sends it
// either as a JSON string or a JSON number; both decode to the same decimal text.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

func (a Amount) String() string { return string(a) }

// NameTokenized registers a new name on chain.
type NameTokenized struct {
	Ref
	Owner     string     `json:"owner"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (NameTokenized) Type() Type { return NameTokenizedType }

func (p NameTokenized) validate() error { return p.requireKey() }

func (p NameTokenized) accept(ctx context.Context, evt Event, h Handler) error {
	return h.NameTokenized(ctx, evt, p)
}

// NameClaimed marks a tokenized name as claimed by its holder.
type NameClaimed struct {
	Ref
	ClaimedBy string `json:"claimedBy"`
}

func (NameClaimed) Type() Type { return NameClaimedType }

func (p NameClaimed) validate() error { return p.requireKey() }

func (p NameClaimed) accept(ctx context.Context, evt Event, h Handler) error {
	return h.NameClaimed(ctx, evt, p)
}

// NameTransferred moves ownership of a token.
type NameTransferred struct {
	Ref
	PreviousOwner string `json:"previousOwner,omitempty"`
	NewOwner      string `json:"newOwner"`
}

func (NameTransferred) Type() Type { return NameTransferredType }

func (p NameTransferred) validate() error {
	if err := p.requireKey(); err != nil {
		return err
	}
	if p.NewOwner == "" {
		return fmt.Errorf("%w: newOwner required", ErrInvalidPayload)
	}
	return nil
}

func (p NameTransferred) accept(ctx context.Context, evt Event, h Handler) error {
	return h.NameTransferred(ctx, evt, p)
}

// NameListed puts a token up for sale.
type NameListed struct {
	Ref
	Seller   string `json:"seller,omitempty"`
	Price    Amount `json:"price"`
	Currency string `json:"currency,omitempty"`
}

func (NameListed) Type() Type { return NameListedType }

func (p NameListed) validate() error {
	if err := p.requireKey(); err != nil {
		return err
	}
	if p.Price == "" {
		return fmt.Errorf("%w: price required", ErrInvalidPayload)
	}
	return nil
}

func (p NameListed) accept(ctx context.Context, evt Event, h Handler) error {
	return h.NameListed(ctx, evt, p)
}

// NameOfferMade records a buyer's offer on a token.
type NameOfferMade struct {
	Ref
	Buyer    string     `json:"buyer"`
	Amount   Amount     `json:"amount"`
	Currency string     `json:"currency,omitempty"`
	Expiry   *time.Time `json:"expiry,omitempty"`
}

func (NameOfferMade) Type() Type { return NameOfferMadeType }

func (p NameOfferMade) validate() error {
	if err := p.requireKey(); err != nil {
		return err
	}
	if p.Buyer == "" {
		return fmt.Errorf("%w: buyer required", ErrInvalidPayload)
	}
	return nil
}

func (p NameOfferMade) accept(ctx context.Context, evt Event, h Handler) error {
	return h.NameOfferMade(ctx, evt, p)
}

// NamePurchased settles a sale to a buyer.
type NamePurchased struct {
	Ref
	Buyer  string `json:"buyer"`
	Seller string `json:"seller,omitempty"`
	Price  Amount `json:"price,omitempty"`
}

func (NamePurchased) Type() Type { return NamePurchasedType }

func (p NamePurchased) validate() error {
	if err := p.requireKey(); err != nil {
		return err
	}
	if p.Buyer == "" {
		return fmt.Errorf("%w: buyer required", ErrInvalidPayload)
	}
	return nil
}

func (p NamePurchased) accept(ctx context.Context, evt Event, h Handler) error {
	return h.NamePurchased(ctx, evt, p)
}

// NameCancelled withdraws a listing or an offer.
type NameCancelled struct {
	Ref
	Maker string `json:"maker,omitempty"`
}

func (NameCancelled) Type() Type { return NameCancelledType }

func (p NameCancelled) validate() error { return p.requireKey() }

func (p NameCancelled) accept(ctx context.Context, evt Event, h Handler) error {
	return h.NameCancelled(ctx, evt, p)
}

// NameExpired ends the registration of a name.
type NameExpired struct {
	Ref
}

func (NameExpired) Type() Type { return NameExpiredType }

func (p NameExpired) validate() error { return p.requireKey() }

func (p NameExpired) accept(ctx context.Context, evt Event, h Handler) error {
	return h.NameExpired(ctx, evt, p)
}

// Unknown is any event type without a dedicated variant. The feed may add types
// at any time; they must pass through without error.
type Unknown struct {
	Ref
	EventType Type
}

func (p Unknown) Type() Type { return p.EventType }

func (Unknown) validate() error { return nil }

func (p Unknown) accept(ctx context.Context, evt Event, h Handler) error {
	return h.Unknown(ctx, evt, p)
}
