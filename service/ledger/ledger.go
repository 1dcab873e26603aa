package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/collab"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/store"
	golog "github.com/textileio/go-log/v2"
	"golang.org/x/sync/semaphore"
)

var log = golog.Logger("bidledger/ledger")

// unlockTimeout bounds the delivery of an unlock-funds instruction.
const unlockTimeout = 30 * time.Second

// Operation names used in logs and rejection reports.
const (
	OpSetEscrowContract      = "set-escrow-contract"
	OpSetOracleContract      = "set-oracle-contract"
	OpSetPlatformFeeRate     = "set-platform-fee-rate"
	OpSetAntiSnipingDuration = "set-anti-sniping-duration"
	OpCreateAuction          = "create-auction"
	OpPlaceBid               = "place-bid"
	OpEndAuction             = "end-auction"
)

// HeightFunc returns the current block height.
type HeightFunc func(ctx context.Context) (uint64, error)

// ExecContext carries the host-supplied facts of a call: who is acting and
// at which block height.
type ExecContext struct {
	Caller      auction.Principal
	BlockHeight uint64
	// Height, if set, is read after the writer lock is acquired and replaces BlockHeight.
	Height HeightFunc
}

// Config defines params for Ledger configuration.
type Config struct {
	// Admin is the only principal allowed to change fee rate and anti-sniping duration.
	Admin auction.Principal
	// MaxAuctions caps the number of auctions ever created. Zero keeps the stored value.
	MaxAuctions uint64
	// PlatformFeeRate is the initial fee rate in percent, used on first open only.
	PlatformFeeRate uint64
	// AntiSnipingDuration is the initial extension window, used on first open only.
	AntiSnipingDuration uint64
}

// DefaultConfig returns a Config with default settings for admin.
func DefaultConfig(admin auction.Principal) Config {
	return Config{
		Admin:               admin,
		MaxAuctions:         auction.DefaultMaxAuctions,
		PlatformFeeRate:     auction.DefaultPlatformFeeRate,
		AntiSnipingDuration: auction.DefaultAntiSnipingDuration,
	}
}

// CreateParams are the seller-supplied fields of a new auction.
type CreateParams struct {
	StartTime       uint64            `json:"startTime"`
	EndTime         uint64            `json:"endTime"`
	ReservePrice    uint64            `json:"reservePrice"`
	MinIncrement    uint64            `json:"minIncrement"`
	ItemDescription string            `json:"itemDescription"`
	TokenType       auction.TokenType `json:"tokenType"`
	Location        string            `json:"location"`
	Currency        auction.Currency  `json:"currency"`
}

// Ledger is the auction state machine. Mutations are serialized and a rejected
// call leaves no trace. Settlement progress survives failures so that a retried
// EndAuction never repeats an accepted instruction.
type Ledger struct {
	store    *store.Store
	resolver collab.Resolver
	reporter EventReporter
	admin    auction.Principal

	sem *semaphore.Weighted
}

// New returns a new Ledger, initializing settings on first use.
func New(
	ctx context.Context,
	s *store.Store,
	resolver collab.Resolver,
	conf Config,
	reporter EventReporter,
) (*Ledger, error) {
	if conf.Admin == "" {
		return nil, errors.New("admin principal is required")
	}
	if resolver == nil {
		return nil, errors.New("collaborator resolver is required")
	}

	defaults := auction.DefaultSettings()
	if conf.MaxAuctions != 0 {
		defaults.MaxAuctions = conf.MaxAuctions
	}
	if conf.PlatformFeeRate != 0 {
		defaults.PlatformFeeRate = conf.PlatformFeeRate
	}
	if conf.AntiSnipingDuration != 0 {
		defaults.AntiSnipingDuration = conf.AntiSnipingDuration
	}
	set, err := s.InitSettings(ctx, defaults)
	if err != nil {
		return nil, fmt.Errorf("initializing settings: %w", err)
	}

	l := &Ledger{
		store:    s,
		resolver: resolver,
		reporter: reporter,
		admin:    conf.Admin,
		sem:      semaphore.NewWeighted(1),
	}
	if l.reporter == nil {
		l.reporter = nullEventReporter{}
	}

	if conf.MaxAuctions != 0 && conf.MaxAuctions != set.MaxAuctions {
		err := l.update(ctx, "set-max-auctions", nil, func(txn *store.Txn) error {
			set, err := txn.GetSettings()
			if err != nil {
				return err
			}
			set.MaxAuctions = conf.MaxAuctions
			return txn.PutSettings(set)
		})
		if err != nil {
			return nil, fmt.Errorf("updating max auctions: %w", err)
		}
		log.Infof("max auctions changed from %d to %d", set.MaxAuctions, conf.MaxAuctions)
	}
	return l, nil
}

// Admin returns the administrator principal.
func (l *Ledger) Admin() auction.Principal {
	return l.admin
}

// SetEscrowContract sets the escrow contract identity. It can be set only once.
func (l *Ledger) SetEscrowContract(ctx context.Context, ec ExecContext, contract auction.Principal) error {
	return l.setContract(ctx, OpSetEscrowContract, ec, contract, func(set *auction.Settings) *auction.Principal {
		return &set.EscrowContract
	})
}

// SetOracleContract sets the oracle contract identity. It can be set only once.
func (l *Ledger) SetOracleContract(ctx context.Context, ec ExecContext, contract auction.Principal) error {
	return l.setContract(ctx, OpSetOracleContract, ec, contract, func(set *auction.Settings) *auction.Principal {
		return &set.OracleContract
	})
}

func (l *Ledger) setContract(
	ctx context.Context,
	op string,
	ec ExecContext,
	contract auction.Principal,
	field func(*auction.Settings) *auction.Principal,
) error {
	err := l.update(ctx, op, &ec, func(txn *store.Txn) error {
		if contract == "" || contract == auction.BurnPrincipal {
			return auction.ErrInvalidOracle
		}
		set, err := txn.GetSettings()
		if err != nil {
			return err
		}
		f := field(&set)
		if *f != "" {
			return auction.ErrNotAuthorized
		}
		*f = contract
		return txn.PutSettings(set)
	})
	if err != nil {
		return err
	}
	log.Infof("%s: %s set by %s", op, contract, ec.Caller)
	return nil
}

// SetPlatformFeeRate sets the fee rate in percent. Only the admin can call it.
func (l *Ledger) SetPlatformFeeRate(ctx context.Context, ec ExecContext, rate uint64) error {
	err := l.update(ctx, OpSetPlatformFeeRate, &ec, func(txn *store.Txn) error {
		if rate > auction.MaxPlatformFeeRate {
			return auction.ErrInvalidFeeRate
		}
		if ec.Caller != l.admin {
			return auction.ErrNotAuthorized
		}
		set, err := txn.GetSettings()
		if err != nil {
			return err
		}
		set.PlatformFeeRate = rate
		return txn.PutSettings(set)
	})
	if err != nil {
		return err
	}
	log.Infof("platform fee rate set to %d%%", rate)
	return nil
}

// SetAntiSnipingDuration sets the anti-sniping window in blocks. Only the admin can call it.
func (l *Ledger) SetAntiSnipingDuration(ctx context.Context, ec ExecContext, duration uint64) error {
	err := l.update(ctx, OpSetAntiSnipingDuration, &ec, func(txn *store.Txn) error {
		if duration == 0 {
			return auction.ErrInvalidAntiSniping
		}
		if ec.Caller != l.admin {
			return auction.ErrNotAuthorized
		}
		set, err := txn.GetSettings()
		if err != nil {
			return err
		}
		set.AntiSnipingDuration = duration
		return txn.PutSettings(set)
	})
	if err != nil {
		return err
	}
	log.Infof("anti-sniping duration set to %d", duration)
	return nil
}

// CreateAuction opens a new auction sold by the caller and returns its id.
func (l *Ledger) CreateAuction(ctx context.Context, ec ExecContext, p CreateParams) (auction.ID, error) {
	var created *auction.Auction
	err := l.update(ctx, OpCreateAuction, &ec, func(txn *store.Txn) error {
		set, err := txn.GetSettings()
		if err != nil {
			return err
		}
		if err := validateCreate(set, ec, p); err != nil {
			return err
		}

		a := &auction.Auction{
			ID:              auction.ID(set.NextAuctionID),
			Seller:          ec.Caller,
			StartTime:       p.StartTime,
			EndTime:         p.EndTime,
			ReservePrice:    p.ReservePrice,
			MinIncrement:    p.MinIncrement,
			ItemDescription: p.ItemDescription,
			TokenType:       p.TokenType,
			Status:          true,
			Location:        p.Location,
			Currency:        p.Currency,
		}
		if err := txn.PutAuction(a); err != nil {
			return err
		}
		if err := txn.AddSellerAuction(a.Seller, a.ID); err != nil {
			return err
		}
		set.NextAuctionID++
		if err := txn.PutSettings(set); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Infof("auction %d created by %s: %q ends at %d", created.ID, created.Seller, created.ItemDescription,
		created.EndTime)
	l.reporter.AuctionCreated(created)
	return created.ID, nil
}

func validateCreate(set auction.Settings, ec ExecContext, p CreateParams) error {
	if set.NextAuctionID >= set.MaxAuctions {
		return auction.ErrMaxAuctionsExceeded
	}
	if p.StartTime < ec.BlockHeight {
		return auction.ErrInvalidStartTime
	}
	if p.EndTime <= p.StartTime {
		return auction.ErrInvalidEndTime
	}
	if p.ReservePrice == 0 {
		return auction.ErrInvalidReservePrice
	}
	if p.MinIncrement == 0 {
		return auction.ErrInvalidMinIncrement
	}
	if !auction.ValidDescription(p.ItemDescription) {
		return auction.ErrInvalidItemDescription
	}
	if !p.TokenType.Valid() {
		return auction.ErrInvalidToken
	}
	if !auction.ValidLocation(p.Location) {
		return auction.ErrInvalidLocation
	}
	if !p.Currency.Valid() {
		return auction.ErrInvalidCurrency
	}
	if set.EscrowContract == "" {
		return auction.ErrNotAuthorized
	}
	if ec.Caller == "" {
		return auction.ErrInvalidSeller
	}
	return nil
}

// PlaceBid places a bid of amount by the caller. Escrow must lock the funds
// before the bid is recorded. If the bid can't be saved after the lock was
// accepted, the funds are unlocked again.
func (l *Ledger) PlaceBid(ctx context.Context, ec ExecContext, id auction.ID, amount uint64) error {
	var (
		updated  *auction.Auction
		extended bool
		locked   *auction.Instruction
	)
	if err := l.acquire(ctx, &ec); err != nil {
		return err
	}
	defer l.sem.Release(1)

	err := l.write(ctx, OpPlaceBid, func(txn *store.Txn) error {
		a, err := getAuction(txn, id)
		if err != nil {
			return err
		}
		if !a.Status {
			return auction.ErrAuctionNotActive
		}
		if ec.BlockHeight < a.StartTime {
			return auction.ErrAuctionNotActive
		}
		if ec.BlockHeight >= a.EndTime {
			return auction.ErrAuctionEnded
		}
		if next, ok := a.MinNextBid(); !ok || amount < next {
			return auction.ErrBidBelowIncrement
		}
		if amount < a.ReservePrice {
			return auction.ErrBidBelowReserve
		}
		set, err := txn.GetSettings()
		if err != nil {
			return err
		}
		if set.EscrowContract == "" {
			return auction.ErrNotAuthorized
		}
		if ec.Caller == "" {
			return auction.ErrInvalidBidder
		}

		// The window is measured against the end time before this bid.
		if a.EndTime-ec.BlockHeight <= set.AntiSnipingDuration {
			if a.EndTime > math.MaxUint64-set.AntiSnipingDuration {
				return auction.ErrInvalidExtension
			}
			a.EndTime += set.AntiSnipingDuration
			a.ExtensionCount++
			extended = true
		}

		lock := auction.Instruction{
			Contract:  set.EscrowContract,
			Kind:      auction.KindLockFunds,
			Principal: ec.Caller,
			Amount:    amount,
			AuctionID: id,
		}
		if err := collab.Dispatch(ctx, l.resolver, lock); err != nil {
			return err
		}
		locked = &lock

		a.HighestBid = amount
		a.HighestBidder = ec.Caller

		if err := txn.PutAuction(a); err != nil {
			return err
		}
		if err := txn.PutBid(auction.Bid{
			AuctionID: id,
			Bidder:    ec.Caller,
			Amount:    amount,
			Timestamp: ec.BlockHeight,
		}); err != nil {
			return err
		}
		if err := txn.AppendHistory(id, auction.HistoryEntry{
			Bidder: ec.Caller,
			Amount: amount,
			Time:   ec.BlockHeight,
		}); err != nil {
			return err
		}
		if err := l.journal(txn, auction.OperationPlaceBid, id, ec, []auction.Instruction{lock}); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		if locked != nil {
			if uerr := l.unlock(ec, *locked, err); uerr != nil {
				return fmt.Errorf("%w (unlocking funds: %v)", err, uerr)
			}
		}
		return err
	}
	if extended {
		log.Infof("auction %d extended to %d (extension %d)", id, updated.EndTime, updated.ExtensionCount)
	}
	log.Infof("bid of %d by %s accepted in auction %d", amount, ec.Caller, id)
	l.reporter.BidPlaced(updated, ec.Caller, amount, extended)
	return nil
}

// unlock returns the funds of a lock whose bid was not recorded, and journals
// both instructions under OperationAbortBid.
func (l *Ledger) unlock(ec ExecContext, lock auction.Instruction, cause error) error {
	// The caller's context may be the reason the bid was lost.
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	undo := lock
	undo.Kind = auction.KindUnlockFunds
	if err := collab.Dispatch(ctx, l.resolver, undo); err != nil {
		log.Errorf("%s left in place after %v: %v", lock, cause, err)
		return err
	}
	log.Warnf("bid of %d by %s in auction %d not recorded, funds unlocked: %v",
		lock.Amount, lock.Principal, lock.AuctionID, cause)

	txn, err := l.store.NewTxn(ctx, false)
	if err != nil {
		log.Errorf("journaling %s: %v", undo, err)
		return nil
	}
	defer txn.Discard()
	instructions := []auction.Instruction{lock, undo}
	if err := l.journal(txn, auction.OperationAbortBid, lock.AuctionID, ec, instructions); err != nil {
		log.Errorf("journaling %s: %v", undo, err)
		return nil
	}
	if err := txn.Commit(); err != nil {
		log.Errorf("journaling %s: %v", undo, err)
	}
	return nil
}

// EndAuction closes an auction whose end time has passed and settles it.
// It returns the winner, or an empty principal if there were no bids.
//
// Settlement instructions are fixed on the first attempt and delivered in
// order. The auction stays open until all of them were accepted; a later call
// resumes with the first instruction that wasn't.
func (l *Ledger) EndAuction(ctx context.Context, ec ExecContext, id auction.ID) (auction.Principal, error) {
	if err := l.acquire(ctx, &ec); err != nil {
		return "", err
	}
	defer l.sem.Release(1)

	var st *auction.Settlement
	err := l.write(ctx, OpEndAuction, func(txn *store.Txn) error {
		a, err := getAuction(txn, id)
		if err != nil {
			return err
		}
		if !a.Status {
			return auction.ErrAuctionNotActive
		}
		if ec.BlockHeight < a.EndTime {
			return auction.ErrAuctionNotEnded
		}
		set, err := txn.GetSettings()
		if err != nil {
			return err
		}
		if set.EscrowContract == "" {
			return auction.ErrNotAuthorized
		}

		st, err = txn.GetSettlement(id)
		if err == nil {
			log.Infof("resuming settlement of auction %d at instruction %d of %d", id, st.Delivered,
				len(st.Instructions))
			return nil
		} else if !errors.Is(err, store.ErrSettlementNotFound) {
			return err
		}
		st = &auction.Settlement{AuctionID: id, Instructions: settlementInstructions(a, set)}
		return txn.PutSettlement(st)
	})
	if err != nil {
		return "", err
	}

	for _, i := range st.Pending() {
		if err := collab.Dispatch(ctx, l.resolver, i); err != nil {
			l.rejected(OpEndAuction, err)
			return "", err
		}
		st.Delivered++
		if err := l.store.PutSettlement(ctx, st); err != nil {
			return "", fmt.Errorf("saving settlement progress: %w", err)
		}
	}

	var closed *auction.Auction
	err = l.write(ctx, OpEndAuction, func(txn *store.Txn) error {
		a, err := getAuction(txn, id)
		if err != nil {
			return err
		}
		a.Status = false
		a.Winner = a.HighestBidder
		if err := txn.PutAuction(a); err != nil {
			return err
		}
		if err := txn.DeleteSettlement(id); err != nil {
			return err
		}
		if err := l.journal(txn, auction.OperationEndAuction, id, ec, st.Instructions); err != nil {
			return err
		}
		closed = a
		return nil
	})
	if err != nil {
		return "", err
	}

	net, fee := settledAmounts(st.Instructions)
	if closed.Winner != "" {
		log.Infof("auction %d won by %s for %d (net %d, fee %d)", id, closed.Winner, closed.HighestBid, net, fee)
	} else {
		log.Infof("auction %d ended without bids", id)
	}
	l.reporter.AuctionSettled(closed, net, fee)
	return closed.Winner, nil
}

func settlementInstructions(a *auction.Auction, set auction.Settings) []auction.Instruction {
	if a.HighestBidder == "" {
		return []auction.Instruction{{
			Contract:  set.EscrowContract,
			Kind:      auction.KindRefundAll,
			AuctionID: a.ID,
		}}
	}
	net, fee := auction.SplitFee(a.HighestBid, set.PlatformFeeRate)
	instructions := []auction.Instruction{
		{
			Contract:  set.EscrowContract,
			Kind:      auction.KindReleaseToSeller,
			Principal: a.Seller,
			Amount:    net,
			AuctionID: a.ID,
		},
		{
			Contract:  set.EscrowContract,
			Kind:      auction.KindReleaseFee,
			Amount:    fee,
			AuctionID: a.ID,
		},
	}
	if set.OracleContract != "" {
		instructions = append(instructions, auction.Instruction{
			Contract:  set.OracleContract,
			Kind:      auction.KindVerifyAsset,
			AuctionID: a.ID,
		})
	}
	return instructions
}

func settledAmounts(instructions []auction.Instruction) (net, fee uint64) {
	for _, i := range instructions {
		switch i.Kind {
		case auction.KindReleaseToSeller:
			net = i.Amount
		case auction.KindReleaseFee:
			fee = i.Amount
		}
	}
	return net, fee
}

// GetAuction returns an auction, or nil if it doesn't exist.
func (l *Ledger) GetAuction(ctx context.Context, id auction.ID) (*auction.Auction, error) {
	a, err := l.store.GetAuction(ctx, id)
	if errors.Is(err, store.ErrAuctionNotFound) {
		return nil, nil
	}
	return a, err
}

// GetBid returns the latest bid of bidder in an auction, or nil if there is none.
func (l *Ledger) GetBid(ctx context.Context, id auction.ID, bidder auction.Principal) (*auction.Bid, error) {
	if bidder == "" {
		return nil, nil
	}
	b, err := l.store.GetBid(ctx, id, bidder)
	if errors.Is(err, store.ErrBidNotFound) {
		return nil, nil
	}
	return b, err
}

// GetHistory returns the bid timeline of an auction, oldest first.
func (l *Ledger) GetHistory(ctx context.Context, id auction.ID) ([]auction.HistoryEntry, error) {
	return l.store.GetHistory(ctx, id)
}

// GetSellerAuctions returns the ids of auctions created by seller, in creation order.
func (l *Ledger) GetSellerAuctions(ctx context.Context, seller auction.Principal) ([]auction.ID, error) {
	if seller == "" {
		return []auction.ID{}, nil
	}
	return l.store.GetSellerAuctions(ctx, seller)
}

// AuctionCount returns the number of auctions ever created.
func (l *Ledger) AuctionCount(ctx context.Context) (uint64, error) {
	set, err := l.store.GetSettings(ctx)
	if err != nil {
		return 0, err
	}
	return set.NextAuctionID, nil
}

// IsAuctionActive returns whether an auction exists and is open.
func (l *Ledger) IsAuctionActive(ctx context.Context, id auction.ID) (bool, error) {
	a, err := l.GetAuction(ctx, id)
	if err != nil {
		return false, err
	}
	return a != nil && a.Status, nil
}

// Settings returns the current ledger settings.
func (l *Ledger) Settings(ctx context.Context) (auction.Settings, error) {
	return l.store.GetSettings(ctx)
}

// ListAuctions lists auctions by applying a store.Query.
func (l *Ledger) ListAuctions(ctx context.Context, query store.Query) ([]*auction.Auction, error) {
	return l.store.ListAuctions(ctx, query)
}

// GetReceipt returns an instruction receipt, or nil if it doesn't exist.
func (l *Ledger) GetReceipt(ctx context.Context, id string) (*auction.Receipt, error) {
	r, err := l.store.GetReceipt(ctx, id)
	if errors.Is(err, store.ErrReceiptNotFound) {
		return nil, nil
	}
	return r, err
}

// ListReceipts lists instruction receipts by applying a store.Query.
func (l *Ledger) ListReceipts(ctx context.Context, query store.Query) ([]*auction.Receipt, error) {
	return l.store.ListReceipts(ctx, query)
}

// update runs f in a write transaction while holding the writer lock.
func (l *Ledger) update(ctx context.Context, op string, ec *ExecContext, f func(txn *store.Txn) error) error {
	if err := l.acquire(ctx, ec); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return l.write(ctx, op, f)
}

// acquire takes the writer lock and then resolves the block height of ec.
// The lock is held only if acquire succeeds.
func (l *Ledger) acquire(ctx context.Context, ec *ExecContext) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring writer lock: %w", err)
	}
	if ec == nil || ec.Height == nil {
		return nil
	}
	h, err := ec.Height(ctx)
	if err != nil {
		l.sem.Release(1)
		return fmt.Errorf("reading block height: %w", err)
	}
	ec.BlockHeight = h
	return nil
}

// write runs f in a write transaction. The writer lock must be held.
// The transaction is committed only if f succeeds.
func (l *Ledger) write(ctx context.Context, op string, f func(txn *store.Txn) error) error {
	txn, err := l.store.NewTxn(ctx, false)
	if err != nil {
		return err
	}
	defer txn.Discard()

	if err := f(txn); err != nil {
		l.rejected(op, err)
		return err
	}
	return txn.Commit()
}

func (l *Ledger) rejected(op string, err error) {
	if code, ok := auction.CodeOf(err); ok {
		log.Debugf("%s rejected: %v", op, err)
		l.reporter.Rejected(op, code)
	}
}

func (l *Ledger) journal(
	txn *store.Txn,
	op auction.Operation,
	id auction.ID,
	ec ExecContext,
	instructions []auction.Instruction,
) error {
	r, err := auction.NewReceipt(op, id, ec.Caller, ec.BlockHeight, instructions)
	if err != nil {
		return fmt.Errorf("creating receipt: %v", err)
	}
	if err := txn.PutReceipt(r); err != nil {
		return fmt.Errorf("saving receipt: %v", err)
	}
	return nil
}

func getAuction(txn *store.Txn, id auction.ID) (*auction.Auction, error) {
	a, err := txn.GetAuction(id)
	if errors.Is(err, store.ErrAuctionNotFound) {
		return nil, auction.ErrAuctionNotFound
	}
	return a, err
}
