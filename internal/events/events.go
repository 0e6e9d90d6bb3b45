// Package events models the upstream ledger-event feed.
//
// Each event carries a typed payload. Payload is a closed set of variants, one per
// event type the feed emits, plus Unknown for types this build does not recognise.
// Consumers handle events through the Handler interface, which has one method per
// variant, so adding a variant breaks every handler that does not cover it.
package events

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"
)

// Type is the upstream event type name.
type Type string

const (
	NameTokenizedType   Type = "NAME_TOKENIZED"
	NameClaimedType     Type = "NAME_CLAIMED"
	NameTransferredType Type = "NAME_TRANSFERRED"
	NameListedType      Type = "NAME_LISTED"
	NameOfferMadeType   Type = "NAME_OFFER_MADE"
	NamePurchasedType   Type = "NAME_PURCHASED"
	NameCancelledType   Type = "NAME_CANCELLED"
	NameExpiredType     Type = "NAME_EXPIRED"
)

// KnownTypes lists every type with a dedicated payload variant.
var KnownTypes = []Type{
	NameTokenizedType,
	NameClaimedType,
	NameTransferredType,
	NameListedType,
	NameOfferMadeType,
	NamePurchasedType,
	NameCancelledType,
	NameExpiredType,
}

// NotificationTypes is the subset relevant to live notifications.
var NotificationTypes = []Type{
	NameOfferMadeType,
	NamePurchasedType,
	NameCancelledType,
}

// IsKnown reports whether t has a dedicated payload variant.
func (t Type) IsKnown() bool {
	return slices.Contains(KnownTypes, t)
}

func (t Type) String() string { return string(t) }

// AuditName is the analytics event type recorded for a handled event.
func (t Type) AuditName() string { return "DOMA_" + string(t) }

// Event is one entry of the feed. IDs increase strictly in emission order, but the
// feed is at-least-once so the same ID may be seen again.
type Event struct {
	ID        int64
	Type      Type
	Timestamp time.Time
	Data      Payload
	// Raw is the payload exactly as received, kept for the analytics sink.
	Raw json.RawMessage
	// Err is set when the type, timestamp or payload could not be decoded.
	Err error
}

// TokenID returns the token identifier carried by the payload, if any.
func (e Event) TokenID() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.ref().TokenID
}

// Name returns the domain name carried by the payload, if any.
func (e Event) Name() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.ref().Name
}

// DomainKey identifies the domain an event is about: the token ID when present,
// otherwise the name.
func (e Event) DomainKey() string {
	if tokenID := e.TokenID(); tokenID != "" {
		return tokenID
	}
	return e.Name()
}

// SortByID orders events ascending by ID in place. Events sharing an ID keep
// their relative order.
func SortByID(evts []Event) {
	slices.SortStableFunc(evts, func(a, b Event) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
