package projection

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/suite"

	"domamart/pkg/platform/sentinel"
)

// storeBehaviour is run against every Store implementation.
type storeBehaviour struct {
	suite.Suite
	newStore func() Store
	store    Store
}

func (s *storeBehaviour) SetupTest() {
	s.store = s.newStore()
}

func (s *storeBehaviour) get(key string) *Domain {
	d, err := s.store.Get(context.Background(), key)
	s.Require().NoError(err)
	return d
}

var t1 = Key{TokenID: "T1", Name: "alpha.doma"}

// =============================================================================
// Upserts
// =============================================================================

func (s *storeBehaviour) TestGetUnknown() {
	_, err := s.store.Get(context.Background(), "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *storeBehaviour) TestRegisterAndClaim() {
	ctx := context.Background()
	exp := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.RegisterName(ctx, Registration{Key: t1, Owner: "0xowner", ExpiresAt: &exp}))
	s.Require().NoError(s.store.MarkClaimed(ctx, t1, "0xclaimer"))

	d := s.get("T1")
	s.Equal("alpha.doma", d.Name)
	s.Equal("0xowner", d.Owner)
	s.True(d.Claimed)
	s.Equal("0xclaimer", d.ClaimedBy)
	s.Require().NotNil(d.ExpiresAt)
	s.True(exp.Equal(*d.ExpiresAt))
}

func (s *storeBehaviour) TestWritesCreateMissingRows() {
	s.Require().NoError(s.store.UpdateOwner(context.Background(), Key{TokenID: "T9"}, "0xabc"))
	s.Equal("0xabc", s.get("T9").Owner)
}

func (s *storeBehaviour) TestNameOnlyKey() {
	s.Require().NoError(s.store.UpdateOwner(context.Background(), Key{Name: "pre.doma"}, "0xabc"))
	d := s.get("pre.doma")
	s.Equal("pre.doma", d.Name)
	s.Empty(d.TokenID)
}

func (s *storeBehaviour) TestNameOnlyKeyAddressesTokenizedRow() {
	ctx := context.Background()
	byName := Key{Name: t1.Name}

	s.Run("given a tokenized name", func() {
		s.Require().NoError(s.store.RegisterName(ctx, Registration{Key: t1, Owner: "0xowner"}))
	})

	s.Run("when a name-only listing arrives then the tokenized row is listed", func() {
		s.Require().NoError(s.store.SetListing(ctx, byName, Listing{Price: "10", Currency: "USDC"}))
		d := s.get("T1")
		s.True(d.ForSale)
		s.Equal("0xowner", d.Owner)
	})

	s.Run("then no separate row is created for the name", func() {
		d := s.get(t1.Name)
		s.Equal("T1", d.Key)
		s.Equal("T1", d.TokenID)
	})

	s.Run("when a name-only offer and delisting arrive they land on the same row", func() {
		s.Require().NoError(s.store.AddOffer(ctx, byName, Offer{ID: 7, Buyer: "0xb", Amount: "5"}))
		had, err := s.store.ClearListing(ctx, byName)
		s.Require().NoError(err)
		s.True(had)
		n, err := s.store.CancelPendingOffers(ctx, byName)
		s.Require().NoError(err)
		s.Equal(1, n)

		d := s.get("T1")
		s.False(d.ForSale)
		s.Require().Len(d.Offers, 1)
		s.Equal(OfferRejected, d.Offers[0].Status)
	})
}

// =============================================================================
// Listings
// =============================================================================

func (s *storeBehaviour) TestListing() {
	ctx := context.Background()

	s.Run("clear on unknown domain reports no listing", func() {
		had, err := s.store.ClearListing(ctx, Key{TokenID: "ghost"})
		s.Require().NoError(err)
		s.False(had)
	})

	s.Run("set then clear", func() {
		s.Require().NoError(s.store.SetListing(ctx, t1, Listing{Price: "1000", Currency: "USDC"}))
		d := s.get("T1")
		s.True(d.ForSale)
		s.Require().NotNil(d.Price)
		s.Equal("1000", *d.Price)

		had, err := s.store.ClearListing(ctx, t1)
		s.Require().NoError(err)
		s.True(had)

		d = s.get("T1")
		s.False(d.ForSale)
		s.Nil(d.Price)

		had, err = s.store.ClearListing(ctx, t1)
		s.Require().NoError(err)
		s.False(had, "second clear finds no listing")
	})
}

// =============================================================================
// Offers
// =============================================================================

func (s *storeBehaviour) TestOffers() {
	ctx := context.Background()

	s.Require().NoError(s.store.AddOffer(ctx, t1, Offer{ID: 300, Buyer: "0xb1", Amount: "5"}))
	s.Require().NoError(s.store.AddOffer(ctx, t1, Offer{ID: 301, Buyer: "0xb2", Amount: "6"}))
	s.Require().NoError(s.store.AddOffer(ctx, t1, Offer{ID: 300, Buyer: "0xb1", Amount: "5"}))

	d := s.get("T1")
	s.Require().Len(d.Offers, 2, "replayed offer is not duplicated")
	s.Equal(OfferPending, d.Offers[0].Status)

	n, err := s.store.CancelPendingOffers(ctx, t1)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = s.store.CancelPendingOffers(ctx, t1)
	s.Require().NoError(err)
	s.Zero(n)

	s.Require().NoError(s.store.AddOffer(ctx, t1, Offer{ID: 300, Buyer: "0xb1", Amount: "5"}))
	for _, o := range s.get("T1").Offers {
		s.Equal(OfferRejected, o.Status, "replay does not revive a rejected offer")
	}
}

// =============================================================================
// Transactions
// =============================================================================

func (s *storeBehaviour) TestRunInTx() {
	ctx := context.Background()
	s.Require().NoError(s.store.SetListing(ctx, t1, Listing{Price: "10"}))

	s.Run("failure rolls back every write", func() {
		boom := errors.New("boom")
		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.UpdateOwner(ctx, t1, "0xbuyer"); err != nil {
				return err
			}
			if _, err := s.store.ClearListing(ctx, t1); err != nil {
				return err
			}
			return boom
		})
		s.ErrorIs(err, boom)

		d := s.get("T1")
		s.Empty(d.Owner)
		s.True(d.ForSale)
	})

	s.Run("success commits", func() {
		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.UpdateOwner(ctx, t1, "0xbuyer"); err != nil {
				return err
			}
			_, err := s.store.ClearListing(ctx, t1)
			return err
		})
		s.Require().NoError(err)

		d := s.get("T1")
		s.Equal("0xbuyer", d.Owner)
		s.False(d.ForSale)
	})
}
