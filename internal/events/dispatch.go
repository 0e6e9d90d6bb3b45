package events

import "context"

// Handler reacts to each payload variant. Implementations must cover every
// variant; Unknown receives anything the feed sends that this build does not model.
type Handler interface {
	NameTokenized(ctx context.Context, evt Event, p NameTokenized) error
	NameClaimed(ctx context.Context, evt Event, p NameClaimed) error
	NameTransferred(ctx context.Context, evt Event, p NameTransferred) error
	NameListed(ctx context.Context, evt Event, p NameListed) error
	NameOfferMade(ctx context.Context, evt Event, p NameOfferMade) error
	NamePurchased(ctx context.Context, evt Event, p NamePurchased) error
	NameCancelled(ctx context.Context, evt Event, p NameCancelled) error
	NameExpired(ctx context.Context, evt Event, p NameExpired) error
	Unknown(ctx context.Context, evt Event, p Unknown) error
}

// Dispatch routes evt to the handler method for its payload variant. A payload
// that failed to decode is reported as an error without reaching the handler.
func Dispatch(ctx context.Context, h Handler, evt Event) error {
	if evt.Err != nil {
		return evt.Err
	}
	if evt.Data == nil {
		return h.Unknown(ctx, evt, Unknown{EventType: evt.Type})
	}
	return evt.Data.accept(ctx, evt, h)
}
