package projection

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"domamart/pkg/platform/sentinel"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	domains map[string]*Domain
	clock   func() time.Time

	txMu sync.Mutex
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the source of UpdatedAt timestamps.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{domains: make(map[string]*Domain), clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolve returns the row key addressed by key. A name-only key addresses the
// tokenized row carrying that name when one exists. Caller holds mu.
func (s *MemoryStore) resolve(key Key) string {
	if key.TokenID != "" || key.Name == "" {
		return key.String()
	}
	var match *Domain
	for _, d := range s.domains {
		if d.TokenID == "" || d.Name != key.Name {
			continue
		}
		if match == nil || d.UpdatedAt.After(match.UpdatedAt) {
			match = d
		}
	}
	if match == nil {
		return key.String()
	}
	return match.Key
}

// row returns the domain for key, creating it when missing. Caller holds mu.
func (s *MemoryStore) row(key Key) *Domain {
	k := s.resolve(key)
	d, ok := s.domains[k]
	if !ok {
		d = &Domain{Key: k}
		s.domains[k] = d
	}
	if key.TokenID != "" {
		d.TokenID = key.TokenID
	}
	if key.Name != "" {
		d.Name = key.Name
	}
	d.UpdatedAt = s.clock()
	return d
}

func (s *MemoryStore) RegisterName(_ context.Context, reg Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.row(reg.Key)
	d.Owner = reg.Owner
	d.ExpiresAt = reg.ExpiresAt
	return nil
}

func (s *MemoryStore) MarkClaimed(_ context.Context, key Key, claimedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.row(key)
	d.Claimed = true
	d.ClaimedBy = claimedBy
	return nil
}

func (s *MemoryStore) UpdateOwner(_ context.Context, key Key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.row(key).Owner = owner
	return nil
}

func (s *MemoryStore) SetListing(_ context.Context, key Key, listing Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.row(key)
	price := listing.Price
	d.ForSale = true
	d.Price = &price
	d.Currency = listing.Currency
	return nil
}

func (s *MemoryStore) ClearListing(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[s.resolve(key)]
	if !ok {
		return false, nil
	}
	wasListed := d.ForSale
	d.ForSale = false
	d.Price = nil
	d.UpdatedAt = s.clock()
	return wasListed, nil
}

func (s *MemoryStore) AddOffer(_ context.Context, key Key, offer Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.row(key)
	for _, o := range d.Offers {
		if o.ID == offer.ID {
			return nil
		}
	}
	offer.DomainKey = d.Key
	offer.Status = OfferPending
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = s.clock()
	}
	d.Offers = append(d.Offers, offer)
	return nil
}

func (s *MemoryStore) CancelPendingOffers(_ context.Context, key Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[s.resolve(key)]
	if !ok {
		return 0, nil
	}
	n := 0
	for i := range d.Offers {
		if d.Offers[i].Status == OfferPending {
			d.Offers[i].Status = OfferRejected
			n++
		}
	}
	if n > 0 {
		d.UpdatedAt = s.clock()
	}
	return n, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[key]
	if !ok {
		d, ok = s.domains[s.resolve(Key{Name: key})]
	}
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneDomain(d), nil
}

// RunInTx serializes transactions and restores the previous state when fn fails.
// Writes made outside RunInTx while fn runs are not isolated.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[string]*Domain, len(s.domains))
	for k, d := range s.domains {
		snapshot[k] = cloneDomain(d)
	}
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.domains = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Keys returns every stored domain key in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.domains))
}

func cloneDomain(d *Domain) *Domain {
	c := *d
	if d.Price != nil {
		p := *d.Price
		c.Price = &p
	}
	c.Offers = append([]Offer{}, d.Offers...)
	return &c
}
