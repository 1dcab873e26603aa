package ledger

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	ds "github.com/ipfs/go-datastore"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/dshelper"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/dshelper/txndswrap"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/logging"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/collab"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	golog "github.com/textileio/go-log/v2"
)

const (
	seller = auction.Principal("ST1SELLER")
	escrow = auction.Principal("ST2ESCROW")
	bidder = auction.Principal("ST3BIDDER")
	oracle = auction.Principal("ST4ORACLE")
)

func init() {
	if err := logging.SetLogLevels(map[string]golog.LogLevel{
		"bidledger/ledger": golog.LevelDebug,
		"bidledger/collab": golog.LevelDebug,
	}); err != nil {
		panic(err)
	}
}

func TestCreateAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)

	id, err := l.CreateAuction(ctx, at(seller, 100), artPiece(101, 200))
	require.NoError(t, err)
	assert.Equal(t, auction.ID(0), id)

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, seller, a.Seller)
	assert.Equal(t, uint64(101), a.StartTime)
	assert.Equal(t, uint64(200), a.EndTime)
	assert.Equal(t, uint64(1000), a.ReservePrice)
	assert.Equal(t, uint64(100), a.MinIncrement)
	assert.Equal(t, uint64(0), a.HighestBid)
	assert.Empty(t, a.HighestBidder)
	assert.Empty(t, a.Winner)
	assert.True(t, a.Status)
	assert.Equal(t, "Rare Art Piece", a.ItemDescription)
	assert.Equal(t, auction.TokenNFT, a.TokenType)
	assert.Equal(t, "GalleryX", a.Location)
	assert.Equal(t, auction.CurrencySTX, a.Currency)

	id2, err := l.CreateAuction(ctx, at(seller, 100), artPiece(150, 300))
	require.NoError(t, err)
	assert.Equal(t, auction.ID(1), id2)

	count, err := l.AuctionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	ids, err := l.GetSellerAuctions(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, []auction.ID{0, 1}, ids)

	ids, err = l.GetSellerAuctions(ctx, bidder)
	require.NoError(t, err)
	assert.Empty(t, ids)

	history, err := l.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)

	// Creating emits nothing
	assert.Empty(t, rec.Calls())
	receipts, err := l.ListReceipts(ctx, store.Query{})
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestCreateAuction_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, rep := newLedger(t, DefaultConfig(seller))

	// Without escrow every otherwise valid auction is refused
	_, err := l.CreateAuction(ctx, at(seller, 100), artPiece(101, 200))
	require.ErrorIs(t, err, auction.ErrNotAuthorized)

	setCollaborators(t, l)

	tests := []struct {
		name   string
		height uint64
		modify func(p *CreateParams)
		caller auction.Principal
		err    error
	}{
		{"start in the past", 100, func(p *CreateParams) { p.StartTime = 99 }, seller, auction.ErrInvalidStartTime},
		{"start at height", 100, func(p *CreateParams) { p.StartTime = 100 }, seller, nil},
		{"end equals start", 100, func(p *CreateParams) { p.EndTime = 101 }, seller, auction.ErrInvalidEndTime},
		{"end before start", 100, func(p *CreateParams) { p.EndTime = 50 }, seller, auction.ErrInvalidEndTime},
		{"zero reserve", 100, func(p *CreateParams) { p.ReservePrice = 0 }, seller, auction.ErrInvalidReservePrice},
		{"zero increment", 100, func(p *CreateParams) { p.MinIncrement = 0 }, seller, auction.ErrInvalidMinIncrement},
		{"empty description", 100, func(p *CreateParams) { p.ItemDescription = "" }, seller,
			auction.ErrInvalidItemDescription},
		{"long description", 100, func(p *CreateParams) { p.ItemDescription = strings.Repeat("a", 501) }, seller,
			auction.ErrInvalidItemDescription},
		{"max description", 100, func(p *CreateParams) { p.ItemDescription = strings.Repeat("é", 500) }, seller, nil},
		{"bad token", 100, func(p *CreateParams) { p.TokenType = "ERC20" }, seller, auction.ErrInvalidToken},
		{"empty location", 100, func(p *CreateParams) { p.Location = "" }, seller, auction.ErrInvalidLocation},
		{"long location", 100, func(p *CreateParams) { p.Location = strings.Repeat("x", 101) }, seller,
			auction.ErrInvalidLocation},
		{"bad currency", 100, func(p *CreateParams) { p.Currency = "EUR" }, seller, auction.ErrInvalidCurrency},
		{"empty seller", 100, func(p *CreateParams) {}, "", auction.ErrInvalidSeller},
		{"first failing check wins", 100, func(p *CreateParams) {
			p.StartTime = 1
			p.ReservePrice = 0
			p.Currency = "EUR"
		}, seller, auction.ErrInvalidStartTime},
	}
	for _, tc := range tests {
		p := artPiece(101, 200)
		tc.modify(&p)
		_, err := l.CreateAuction(ctx, at(tc.caller, tc.height), p)
		if tc.err == nil {
			require.NoError(t, err, tc.name)
			continue
		}
		require.ErrorIs(t, err, tc.err, tc.name)
	}

	count, err := l.AuctionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
	assert.Equal(t, auction.ErrInvalidStartTime, rep.rejections()[1])
}

func TestCreateAuction_MaxAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conf := DefaultConfig(seller)
	conf.MaxAuctions = 1
	l, _, _ := newLedger(t, conf)
	setCollaborators(t, l)

	_, err := l.CreateAuction(ctx, at(seller, 100), artPiece(101, 200))
	require.NoError(t, err)
	_, err = l.CreateAuction(ctx, at(seller, 100), artPiece(101, 200))
	require.ErrorIs(t, err, auction.ErrMaxAuctionsExceeded)

	// Even an otherwise invalid request reports the cap first
	_, err = l.CreateAuction(ctx, at(seller, 100), artPiece(1, 1))
	require.ErrorIs(t, err, auction.ErrMaxAuctionsExceeded)
}

func TestNew_RaisesMaxAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, err := dshelper.NewBadgerTxnDatastore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	s := store.NewStore(d)

	conf := DefaultConfig(seller)
	conf.MaxAuctions = 1
	l, err := New(ctx, s, collab.NewRecorder(), conf, nil)
	require.NoError(t, err)
	setCollaborators(t, l)
	_, err = l.CreateAuction(ctx, at(seller, 100), artPiece(101, 200))
	require.NoError(t, err)

	// Reopening keeps contracts and the counter, but applies the new cap
	conf.MaxAuctions = 2
	conf.PlatformFeeRate = 9
	l, err = New(ctx, s, collab.NewRecorder(), conf, nil)
	require.NoError(t, err)
	set, err := l.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), set.MaxAuctions)
	assert.Equal(t, uint64(1), set.NextAuctionID)
	assert.Equal(t, auction.DefaultPlatformFeeRate, set.PlatformFeeRate)
	assert.Equal(t, escrow, set.EscrowContract)
	_, err = l.CreateAuction(ctx, at(seller, 100), artPiece(101, 200))
	require.NoError(t, err)

	_, err = New(ctx, s, collab.NewRecorder(), Config{}, nil)
	require.Error(t, err)
}

func TestPlaceBid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, rep := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id := createArtPiece(t, l)

	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1100))

	assert.Equal(t, []auction.Instruction{{
		Contract:  escrow,
		Kind:      auction.KindLockFunds,
		Principal: bidder,
		Amount:    1100,
		AuctionID: id,
	}}, rec.Calls())
	assert.Equal(t, "lock-funds(ST3BIDDER, 1100, 0)", rec.Calls()[0].String())

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1100), a.HighestBid)
	assert.Equal(t, bidder, a.HighestBidder)
	assert.Equal(t, uint64(200), a.EndTime)
	assert.Equal(t, uint64(0), a.ExtensionCount)

	b, err := l.GetBid(ctx, id, bidder)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, auction.Bid{AuctionID: id, Bidder: bidder, Amount: 1100, Timestamp: 150}, *b)

	// A second bidder outbids, then the first raises again
	other := auction.Principal("ST5OTHER")
	require.NoError(t, l.PlaceBid(ctx, at(other, 160), id, 1200))
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 170), id, 1300))

	b, err = l.GetBid(ctx, id, bidder)
	require.NoError(t, err)
	assert.Equal(t, uint64(1300), b.Amount)
	assert.Equal(t, uint64(170), b.Timestamp)

	history, err := l.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []auction.HistoryEntry{
		{Bidder: bidder, Amount: 1100, Time: 150},
		{Bidder: other, Amount: 1200, Time: 160},
		{Bidder: bidder, Amount: 1300, Time: 170},
	}, history)

	none, err := l.GetBid(ctx, id, "ST9NOBODY")
	require.NoError(t, err)
	assert.Nil(t, none)

	receipts, err := l.ListReceipts(ctx, store.Query{Order: store.OrderAscending})
	require.NoError(t, err)
	require.Len(t, receipts, 3)
	assert.Equal(t, auction.OperationPlaceBid, receipts[0].Operation)
	assert.Equal(t, bidder, receipts[0].Caller)
	assert.Equal(t, uint64(150), receipts[0].BlockHeight)
	assert.Equal(t, rec.Calls()[:1], receipts[0].Instructions)
	assert.True(t, receipts[0].Cid.Defined())

	require.Len(t, rep.bids, 3)
}

func TestPlaceBid_AntiSniping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, rep := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id, err := l.CreateAuction(ctx, at(seller, 100), artPiece(101, 110))
	require.NoError(t, err)

	require.NoError(t, l.PlaceBid(ctx, at(bidder, 105), id, 1100))
	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), a.EndTime)
	assert.Equal(t, uint64(1), a.ExtensionCount)
	assert.True(t, rep.bids[0])

	// Outside the window nothing moves
	require.NoError(t, l.SetAntiSnipingDuration(ctx, at(seller, 106), 5))
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 106), id, 1200))
	a, err = l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), a.EndTime)
	assert.Equal(t, uint64(1), a.ExtensionCount)

	// Exactly at the window boundary it extends again
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 115), id, 1300))
	a, err = l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(125), a.EndTime)
	assert.Equal(t, uint64(2), a.ExtensionCount)

	// The extended end time is what decides the auction has ended
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 124), id, 1400))
	err = l.PlaceBid(ctx, at(bidder, 130), id, 1500)
	require.ErrorIs(t, err, auction.ErrAuctionEnded)
}

func TestPlaceBid_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id := createArtPiece(t, l)

	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1100))
	rec.Reset()

	tests := []struct {
		name   string
		caller auction.Principal
		height uint64
		id     auction.ID
		amount uint64
		err    error
	}{
		{"missing auction", bidder, 150, 99, 5000, auction.ErrAuctionNotFound},
		{"not started", bidder, 100, id, 5000, auction.ErrAuctionNotActive},
		{"at end", bidder, 200, id, 5000, auction.ErrAuctionEnded},
		{"after end", bidder, 250, id, 5000, auction.ErrAuctionEnded},
		{"below increment", bidder, 150, id, 1150, auction.ErrBidBelowIncrement},
		{"below current", bidder, 150, id, 100, auction.ErrBidBelowIncrement},
		{"empty bidder", "", 150, id, 1200, auction.ErrInvalidBidder},
	}
	for _, tc := range tests {
		err := l.PlaceBid(ctx, at(tc.caller, tc.height), tc.id, tc.amount)
		require.ErrorIs(t, err, tc.err, tc.name)
	}
	assert.Empty(t, rec.Calls())

	// Reserve is checked after the increment
	id2, err := l.CreateAuction(ctx, at(seller, 100), artPiece(101, 200))
	require.NoError(t, err)
	err = l.PlaceBid(ctx, at(bidder, 150), id2, 999)
	require.ErrorIs(t, err, auction.ErrBidBelowReserve)
	err = l.PlaceBid(ctx, at(bidder, 150), id2, 50)
	require.ErrorIs(t, err, auction.ErrBidBelowIncrement)

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1100), a.HighestBid)
}

func TestPlaceBid_EscrowRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id, err := l.CreateAuction(ctx, at(seller, 100), artPiece(101, 110))
	require.NoError(t, err)

	rec.FailOn(auction.KindLockFunds, errors.New("insufficient balance"))
	err = l.PlaceBid(ctx, at(bidder, 105), id, 1100)
	require.ErrorIs(t, err, auction.ErrEscrowRejected)
	code, ok := auction.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, auction.ErrEscrowRejected, code)

	// Nothing changed, not even the anti-sniping extension
	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.HighestBid)
	assert.Empty(t, a.HighestBidder)
	assert.Equal(t, uint64(110), a.EndTime)
	assert.Equal(t, uint64(0), a.ExtensionCount)
	b, err := l.GetBid(ctx, id, bidder)
	require.NoError(t, err)
	assert.Nil(t, b)
	history, err := l.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
	receipts, err := l.ListReceipts(ctx, store.Query{})
	require.NoError(t, err)
	assert.Empty(t, receipts)

	rec.FailOn(auction.KindLockFunds, nil)
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 105), id, 1100))
}

func TestPlaceBid_CommitFailureUnlocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fds := newFlakyDatastore(t)
	l, rec, rep := newLedgerOn(t, DefaultConfig(seller), fds)
	setCollaborators(t, l)
	id := createArtPiece(t, l)

	fds.failCommit(0)
	err := l.PlaceBid(ctx, at(bidder, 150), id, 1100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "lock-funds(ST3BIDDER, 1100, 0)", calls[0].String())
	assert.Equal(t, "unlock-funds(ST3BIDDER, 1100, 0)", calls[1].String())
	assert.Empty(t, rep.bids)

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.HighestBid)
	b, err := l.GetBid(ctx, id, bidder)
	require.NoError(t, err)
	assert.Nil(t, b)

	receipts, err := l.ListReceipts(ctx, store.Query{})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, auction.OperationAbortBid, receipts[0].Operation)
	assert.Equal(t, calls, receipts[0].Instructions)

	// A failed unlock is reported along with the lost bid
	rec.Reset()
	rec.FailOn(auction.KindUnlockFunds, errors.New("escrow offline"))
	fds.failCommit(0)
	err = l.PlaceBid(ctx, at(bidder, 150), id, 1100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escrow offline")
	require.Len(t, rec.Calls(), 1)

	rec.FailOn(auction.KindUnlockFunds, nil)
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1100))
}

func TestPlaceBid_ExtensionOverflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, rep := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	end := uint64(math.MaxUint64 - 5)
	id, err := l.CreateAuction(ctx, at(seller, 100), artPiece(101, end))
	require.NoError(t, err)

	// Far from the end no extension is needed
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1100))
	rec.Reset()

	err = l.PlaceBid(ctx, at(bidder, end-3), id, 1200)
	require.ErrorIs(t, err, auction.ErrInvalidExtension)
	assert.Contains(t, rep.rejections(), auction.ErrInvalidExtension)
	assert.Empty(t, rec.Calls())

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, end, a.EndTime)
	assert.Equal(t, uint64(0), a.ExtensionCount)
	assert.Equal(t, uint64(1100), a.HighestBid)
}

func TestPlaceBid_HeightReadUnderLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id, err := l.CreateAuction(ctx, at(seller, 100), artPiece(101, 110))
	require.NoError(t, err)

	var reads int
	ec := ExecContext{Caller: bidder, Height: func(context.Context) (uint64, error) {
		if !assert.False(t, l.sem.TryAcquire(1), "writer lock not held") {
			l.sem.Release(1)
		}
		reads++
		return 105, nil
	}}
	require.NoError(t, l.PlaceBid(ctx, ec, id, 1100))
	assert.Equal(t, 1, reads)

	b, err := l.GetBid(ctx, id, bidder)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), b.Timestamp)
	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), a.EndTime)

	// A failing clock releases the lock and changes nothing
	ec.Height = func(context.Context) (uint64, error) {
		return 0, errors.New("gateway unreachable")
	}
	err = l.PlaceBid(ctx, ec, id, 1200)
	require.Error(t, err)
	_, err = l.EndAuction(ctx, ec, id)
	require.Error(t, err)
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 106), id, 1200))
}

func TestEndAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, rep := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id := createArtPiece(t, l)
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1100))
	rec.Reset()

	_, err := l.EndAuction(ctx, at(seller, 199), id)
	require.ErrorIs(t, err, auction.ErrAuctionNotEnded)

	winner, err := l.EndAuction(ctx, at(bidder, 201), id)
	require.NoError(t, err)
	assert.Equal(t, bidder, winner)

	calls := rec.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "release-to-seller(ST1SELLER, 1045, 0)", calls[0].String())
	assert.Equal(t, escrow, calls[0].Contract)
	assert.Equal(t, "release-fee(55, 0)", calls[1].String())
	assert.Equal(t, escrow, calls[1].Contract)
	assert.Equal(t, "verify-asset(0)", calls[2].String())
	assert.Equal(t, oracle, calls[2].Contract)

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.False(t, a.Status)
	assert.Equal(t, bidder, a.Winner)
	active, err := l.IsAuctionActive(ctx, id)
	require.NoError(t, err)
	assert.False(t, active)

	assert.Equal(t, []uint64{1045, 55}, rep.settled)

	// Closed auctions accept nothing further
	_, err = l.EndAuction(ctx, at(seller, 300), id)
	require.ErrorIs(t, err, auction.ErrAuctionNotActive)
	err = l.PlaceBid(ctx, at(bidder, 150), id, 5000)
	require.ErrorIs(t, err, auction.ErrAuctionNotActive)

	_, err = l.EndAuction(ctx, at(seller, 300), 42)
	require.ErrorIs(t, err, auction.ErrAuctionNotFound)

	receipts, err := l.ListReceipts(ctx, store.Query{})
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, auction.OperationEndAuction, receipts[0].Operation)
	assert.Equal(t, calls, receipts[0].Instructions)
}

func TestEndAuction_NoBids(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id := createArtPiece(t, l)

	winner, err := l.EndAuction(ctx, at(seller, 201), id)
	require.NoError(t, err)
	assert.Empty(t, winner)
	require.Len(t, rec.Calls(), 1)
	assert.Equal(t, "refund-all(0)", rec.Calls()[0].String())

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.False(t, a.Status)
	assert.Empty(t, a.Winner)
}

func TestEndAuction_WithoutOracle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, _ := newLedger(t, DefaultConfig(seller))
	require.NoError(t, l.SetEscrowContract(ctx, at(seller, 1), escrow))
	require.NoError(t, l.SetPlatformFeeRate(ctx, at(seller, 1), 7))
	id := createArtPiece(t, l)
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1999))
	rec.Reset()

	_, err := l.EndAuction(ctx, at(seller, 200), id)
	require.NoError(t, err)
	calls := rec.Calls()
	require.Len(t, calls, 2)
	// 7% of 1999 is 139.93, floored
	assert.Equal(t, "release-to-seller(ST1SELLER, 1860, 0)", calls[0].String())
	assert.Equal(t, "release-fee(139, 0)", calls[1].String())
}

func TestEndAuction_CollaboratorRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, rep := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id := createArtPiece(t, l)
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1100))
	rec.Reset()

	rec.FailOn(auction.KindVerifyAsset, errors.New("provenance unknown"))
	_, err := l.EndAuction(ctx, at(seller, 201), id)
	require.ErrorIs(t, err, auction.ErrOracleRejected)
	assert.Equal(t, []auction.Code{auction.ErrOracleRejected}, rep.rejections())

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.True(t, a.Status)
	assert.Empty(t, a.Winner)
	receipts, err := l.ListReceipts(ctx, store.Query{})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, auction.OperationPlaceBid, receipts[0].Operation)

	// The fee rate changing in between doesn't alter the settlement
	require.NoError(t, l.SetPlatformFeeRate(ctx, at(seller, 201), 10))

	rec.FailOn(auction.KindVerifyAsset, nil)
	winner, err := l.EndAuction(ctx, at(seller, 202), id)
	require.NoError(t, err)
	assert.Equal(t, bidder, winner)

	// Across both attempts each instruction was accepted exactly once
	assert.Equal(t, map[auction.InstructionKind]int{
		auction.KindReleaseToSeller: 1,
		auction.KindReleaseFee:      1,
		auction.KindVerifyAsset:     1,
	}, countKinds(rec.Calls()))
	assert.Equal(t, []uint64{1045, 55}, rep.settled)

	receipts, err = l.ListReceipts(ctx, store.Query{})
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, auction.OperationEndAuction, receipts[0].Operation)
	require.Len(t, receipts[0].Instructions, 3)
	assert.Equal(t, "release-to-seller(ST1SELLER, 1045, 0)", receipts[0].Instructions[0].String())
}

func TestEndAuction_ResumesAfterEscrowFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id := createArtPiece(t, l)
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1100))
	rec.Reset()

	// The seller is paid, then the fee transfer fails
	rec.FailOn(auction.KindReleaseFee, errors.New("treasury paused"))
	_, err := l.EndAuction(ctx, at(seller, 201), id)
	require.ErrorIs(t, err, auction.ErrEscrowRejected)
	require.Len(t, rec.Calls(), 1)
	assert.Equal(t, auction.KindReleaseToSeller, rec.Calls()[0].Kind)

	_, err = l.EndAuction(ctx, at(seller, 202), id)
	require.ErrorIs(t, err, auction.ErrEscrowRejected)
	require.Len(t, rec.Calls(), 1)

	active, err := l.IsAuctionActive(ctx, id)
	require.NoError(t, err)
	assert.True(t, active)

	rec.FailOn(auction.KindReleaseFee, nil)
	winner, err := l.EndAuction(ctx, at(seller, 203), id)
	require.NoError(t, err)
	assert.Equal(t, bidder, winner)

	calls := rec.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "release-to-seller(ST1SELLER, 1045, 0)", calls[0].String())
	assert.Equal(t, "release-fee(55, 0)", calls[1].String())
	assert.Equal(t, "verify-asset(0)", calls[2].String())
}

func TestEndAuction_CommitFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fds := newFlakyDatastore(t)
	l, rec, rep := newLedgerOn(t, DefaultConfig(seller), fds)
	setCollaborators(t, l)
	id := createArtPiece(t, l)
	require.NoError(t, l.PlaceBid(ctx, at(bidder, 150), id, 1100))
	rec.Reset()

	// Settlement record and three progress updates succeed, closing the auction fails
	fds.failCommit(4)
	_, err := l.EndAuction(ctx, at(seller, 201), id)
	require.Error(t, err)
	_, ok := auction.CodeOf(err)
	assert.False(t, ok)
	require.Len(t, rec.Calls(), 3)
	active, err := l.IsAuctionActive(ctx, id)
	require.NoError(t, err)
	assert.True(t, active)

	winner, err := l.EndAuction(ctx, at(seller, 201), id)
	require.NoError(t, err)
	assert.Equal(t, bidder, winner)
	assert.Len(t, rec.Calls(), 3)
	assert.Equal(t, []uint64{1045, 55}, rep.settled)
}

func TestAdminSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, _ := newLedger(t, DefaultConfig(seller))

	require.NoError(t, l.SetPlatformFeeRate(ctx, at(seller, 1), 7))
	require.NoError(t, l.SetPlatformFeeRate(ctx, at(seller, 1), 0))
	require.NoError(t, l.SetPlatformFeeRate(ctx, at(seller, 1), 10))
	err := l.SetPlatformFeeRate(ctx, at(seller, 1), 11)
	require.ErrorIs(t, err, auction.ErrInvalidFeeRate)
	// Validity is checked before the caller
	err = l.SetPlatformFeeRate(ctx, at(bidder, 1), 11)
	require.ErrorIs(t, err, auction.ErrInvalidFeeRate)
	err = l.SetPlatformFeeRate(ctx, at(bidder, 1), 3)
	require.ErrorIs(t, err, auction.ErrNotAuthorized)

	require.NoError(t, l.SetAntiSnipingDuration(ctx, at(seller, 1), 20))
	err = l.SetAntiSnipingDuration(ctx, at(seller, 1), 0)
	require.ErrorIs(t, err, auction.ErrInvalidAntiSniping)
	err = l.SetAntiSnipingDuration(ctx, at(bidder, 1), 0)
	require.ErrorIs(t, err, auction.ErrInvalidAntiSniping)
	err = l.SetAntiSnipingDuration(ctx, at(bidder, 1), 5)
	require.ErrorIs(t, err, auction.ErrNotAuthorized)

	set, err := l.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), set.PlatformFeeRate)
	assert.Equal(t, uint64(20), set.AntiSnipingDuration)
	assert.Equal(t, seller, l.Admin())
}

func TestContractSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, _ := newLedger(t, DefaultConfig(seller))

	err := l.SetEscrowContract(ctx, at(bidder, 1), auction.BurnPrincipal)
	require.ErrorIs(t, err, auction.ErrInvalidOracle)
	err = l.SetEscrowContract(ctx, at(bidder, 1), "")
	require.ErrorIs(t, err, auction.ErrInvalidOracle)

	// Anyone may set them, but only once
	require.NoError(t, l.SetEscrowContract(ctx, at(bidder, 1), escrow))
	err = l.SetEscrowContract(ctx, at(seller, 1), "ST9OTHER")
	require.ErrorIs(t, err, auction.ErrNotAuthorized)
	err = l.SetEscrowContract(ctx, at(seller, 1), auction.BurnPrincipal)
	require.ErrorIs(t, err, auction.ErrInvalidOracle)

	err = l.SetOracleContract(ctx, at(seller, 1), auction.BurnPrincipal)
	require.ErrorIs(t, err, auction.ErrInvalidOracle)
	require.NoError(t, l.SetOracleContract(ctx, at(seller, 1), oracle))
	err = l.SetOracleContract(ctx, at(seller, 1), oracle)
	require.ErrorIs(t, err, auction.ErrNotAuthorized)

	set, err := l.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, escrow, set.EscrowContract)
	assert.Equal(t, oracle, set.OracleContract)
}

func TestIsAuctionActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)

	active, err := l.IsAuctionActive(ctx, 99)
	require.NoError(t, err)
	assert.False(t, active)
	a, err := l.GetAuction(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, a)

	id := createArtPiece(t, l)
	active, err = l.IsAuctionActive(ctx, id)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestListAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	for i := 0; i < 5; i++ {
		createArtPiece(t, l)
	}

	list, err := l.ListAuctions(ctx, store.Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, auction.ID(4), list[0].ID)
	assert.Equal(t, auction.ID(3), list[1].ID)

	list, err = l.ListAuctions(ctx, store.Query{Offset: "3", Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, auction.ID(2), list[0].ID)
}

func TestConcurrentBids(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, rec, _ := newLedger(t, DefaultConfig(seller))
	setCollaborators(t, l)
	id := createArtPiece(t, l)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(amount uint64) {
			defer wg.Done()
			_ = l.PlaceBid(ctx, at(bidder, 150), id, amount)
		}(uint64(1000 + i*100))
	}
	wg.Wait()

	a, err := l.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2900), a.HighestBid)

	// Every accepted bid is in the timeline and strictly increasing
	history, err := l.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, len(rec.Calls()))
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i].Amount, history[i-1].Amount+100)
	}
}

func newLedger(t *testing.T, conf Config) (*Ledger, *collab.Recorder, *recordingReporter) {
	d, err := dshelper.NewBadgerTxnDatastore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	return newLedgerOn(t, conf, d)
}

func newLedgerOn(
	t *testing.T,
	conf Config,
	d txndswrap.TxnDatastore,
) (*Ledger, *collab.Recorder, *recordingReporter) {
	rec := collab.NewRecorder()
	rep := &recordingReporter{}
	l, err := New(context.Background(), store.NewStore(d), rec, conf, rep)
	require.NoError(t, err)
	return l, rec, rep
}

func countKinds(calls []auction.Instruction) map[auction.InstructionKind]int {
	counts := make(map[auction.InstructionKind]int)
	for _, c := range calls {
		counts[c.Kind]++
	}
	return counts
}

// flakyDatastore fails one transaction commit once armed.
type flakyDatastore struct {
	txndswrap.TxnDatastore

	lk    sync.Mutex
	armed bool
	skip  int
}

func newFlakyDatastore(t *testing.T) *flakyDatastore {
	d, err := dshelper.NewBadgerTxnDatastore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	return &flakyDatastore{TxnDatastore: d}
}

// failCommit lets the next skip commits through and fails the one after.
func (d *flakyDatastore) failCommit(skip int) {
	d.lk.Lock()
	defer d.lk.Unlock()
	d.armed = true
	d.skip = skip
}

func (d *flakyDatastore) NewTransaction(ctx context.Context, readOnly bool) (ds.Txn, error) {
	txn, err := d.TxnDatastore.NewTransaction(ctx, readOnly)
	if err != nil {
		return nil, err
	}
	return &flakyTxn{Txn: txn, d: d}, nil
}

type flakyTxn struct {
	ds.Txn
	d *flakyDatastore
}

func (t *flakyTxn) Commit(ctx context.Context) error {
	t.d.lk.Lock()
	fail := false
	if t.d.armed {
		if t.d.skip == 0 {
			t.d.armed = false
			fail = true
		} else {
			t.d.skip--
		}
	}
	t.d.lk.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return t.Txn.Commit(ctx)
}

func setCollaborators(t *testing.T, l *Ledger) {
	ctx := context.Background()
	require.NoError(t, l.SetEscrowContract(ctx, at(seller, 1), escrow))
	require.NoError(t, l.SetOracleContract(ctx, at(seller, 1), oracle))
}

func createArtPiece(t *testing.T, l *Ledger) auction.ID {
	id, err := l.CreateAuction(context.Background(), at(seller, 100), artPiece(101, 200))
	require.NoError(t, err)
	return id
}

func at(caller auction.Principal, height uint64) ExecContext {
	return ExecContext{Caller: caller, BlockHeight: height}
}

func artPiece(start, end uint64) CreateParams {
	return CreateParams{
		StartTime:       start,
		EndTime:         end,
		ReservePrice:    1000,
		MinIncrement:    100,
		ItemDescription: "Rare Art Piece",
		TokenType:       auction.TokenNFT,
		Location:        "GalleryX",
		Currency:        auction.CurrencySTX,
	}
}

type recordingReporter struct {
	lk       sync.Mutex
	bids     []bool
	settled  []uint64
	rejected []auction.Code
}

func (r *recordingReporter) AuctionCreated(a *auction.Auction) {}

func (r *recordingReporter) BidPlaced(a *auction.Auction, bidder auction.Principal, amount uint64, extended bool) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.bids = append(r.bids, extended)
}

func (r *recordingReporter) AuctionSettled(a *auction.Auction, net, fee uint64) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.settled = append(r.settled, net, fee)
}

func (r *recordingReporter) Rejected(op string, code auction.Code) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.rejected = append(r.rejected, code)
}

func (r *recordingReporter) rejections() []auction.Code {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([]auction.Code(nil), r.rejected...)
}
