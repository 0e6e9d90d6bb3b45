package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"domamart/internal/events"
	"domamart/internal/projection"
)

// projector applies each event variant to the projection store. Every write is
// an absolute-value upsert, so replaying an event is harmless.
type projector struct {
	store  projection.Store
	logger *slog.Logger
}

var _ events.Handler = (*projector)(nil)

func keyOf(r events.Ref) projection.Key {
	return projection.Key{TokenID: r.TokenID, Name: r.Name}
}

func (p *projector) NameTokenized(ctx context.Context, _ events.Event, e events.NameTokenized) error {
	return p.store.RegisterName(ctx, projection.Registration{
		Key:       keyOf(e.Ref),
		Owner:     e.Owner,
		ExpiresAt: e.ExpiresAt,
	})
}

func (p *projector) NameClaimed(ctx context.Context, _ events.Event, e events.NameClaimed) error {
	return p.store.MarkClaimed(ctx, keyOf(e.Ref), e.ClaimedBy)
}

func (p *projector) NameTransferred(ctx context.Context, _ events.Event, e events.NameTransferred) error {
	return p.store.UpdateOwner(ctx, keyOf(e.Ref), e.NewOwner)
}

func (p *projector) NameListed(ctx context.Context, _ events.Event, e events.NameListed) error {
	return p.store.SetListing(ctx, keyOf(e.Ref), projection.Listing{
		Price:    e.Price.String(),
		Currency: e.Currency,
	})
}

func (p *projector) NameOfferMade(ctx context.Context, evt events.Event, e events.NameOfferMade) error {
	return p.store.AddOffer(ctx, keyOf(e.Ref), projection.Offer{
		ID:        evt.ID,
		Buyer:     e.Buyer,
		Amount:    e.Amount.String(),
		Currency:  e.Currency,
		ExpiresAt: e.Expiry,
	})
}

func (p *projector) NamePurchased(ctx context.Context, _ events.Event, e events.NamePurchased) error {
	key := keyOf(e.Ref)
	return p.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := p.store.UpdateOwner(ctx, key, e.Buyer); err != nil {
			return err
		}
		if _, err := p.store.ClearListing(ctx, key); err != nil {
			return err
		}
		return nil
	})
}

// NameCancelled withdraws the listing when there is one; otherwise the
// cancellation refers to offers, and every pending offer is rejected.
func (p *projector) NameCancelled(ctx context.Context, _ events.Event, e events.NameCancelled) error {
	key := keyOf(e.Ref)
	listed, err := p.store.ClearListing(ctx, key)
	if err != nil {
		return err
	}
	if listed {
		return nil
	}
	n, err := p.store.CancelPendingOffers(ctx, key)
	if err != nil {
		return fmt.Errorf("cancel pending offers: %w", err)
	}
	p.logger.DebugContext(ctx, "rejected pending offers", "domain", key.String(), "count", n)
	return nil
}

func (p *projector) NameExpired(ctx context.Context, _ events.Event, e events.NameExpired) error {
	_, err := p.store.ClearListing(ctx, keyOf(e.Ref))
	return err
}

func (p *projector) Unknown(ctx context.Context, evt events.Event, _ events.Unknown) error {
	p.logger.WarnContext(ctx, "ignoring unknown event type",
		"event_id", evt.ID,
		"event_type", evt.Type.String(),
	)
	return nil
}
