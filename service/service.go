package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/chainclock"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/dshelper/txndswrap"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/collab"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/comm"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/ledger"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/store"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	"github.com/textileio/go-libp2p-pubsub-rpc/peer"
	golog "github.com/textileio/go-log/v2"
)

var (
	log = golog.Logger("bidledger/service")

	// ErrNoPeer indicates the service runs without a libp2p peer.
	ErrNoPeer = errors.New("collaborators are not reached over libp2p")
)

// CollaboratorsMode selects how escrow and oracle instructions are delivered.
type CollaboratorsMode string

const (
	// CollaboratorsLibp2p publishes instructions over libp2p pubsub and waits for acks.
	CollaboratorsLibp2p CollaboratorsMode = "libp2p"
	// CollaboratorsLog accepts every instruction and only logs it.
	CollaboratorsLog CollaboratorsMode = "log"
)

// Config defines params for Service configuration.
type Config struct {
	Ledger        ledger.Config
	Collaborators CollaboratorsMode
	// Peer and the fields below only apply to CollaboratorsLibp2p.
	Peer       peer.Config
	AckTimeout time.Duration
	Bootstrap  bool
}

// Validate ensures the Config is usable.
func (c *Config) Validate() error {
	if c.Ledger.Admin == "" {
		return errors.New("admin principal is required")
	}
	switch c.Collaborators {
	case CollaboratorsLibp2p:
		if c.Peer.PrivKey == nil {
			return errors.New("peer private key is required for libp2p collaborators")
		}
	case CollaboratorsLog:
	default:
		return fmt.Errorf("unknown collaborators mode %q", c.Collaborators)
	}
	return nil
}

// Service runs the auction ledger against a block clock and a set of collaborators.
type Service struct {
	ledger   *ledger.Ledger
	clock    chainclock.Clock
	comm     *comm.Libp2pPubsub
	recorder *collab.Recorder

	finalizer *finalizer.Finalizer
}

// New returns a new Service.
func New(conf Config, ds txndswrap.TxnDatastore, clock chainclock.Clock) (*Service, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %v", err)
	}
	fin := finalizer.NewFinalizer()
	ctx, cancel := context.WithCancel(context.Background())
	fin.Add(finalizer.NewContextCloser(cancel))

	s := &Service{
		clock:     clock,
		finalizer: fin,
	}

	var resolver collab.Resolver
	switch conf.Collaborators {
	case CollaboratorsLibp2p:
		c, err := comm.NewLibp2pPubsub(ctx, conf.Peer, conf.AckTimeout)
		if err != nil {
			return nil, fin.Cleanupf("creating libp2p comm: %v", err)
		}
		fin.Add(c)
		if conf.Bootstrap {
			c.Bootstrap()
		}
		s.comm = c
		resolver = c
	case CollaboratorsLog:
		s.recorder = collab.NewRecorder()
		resolver = s.recorder
	}

	l, err := ledger.New(ctx, store.NewStore(ds), resolver, conf.Ledger, newProgressReporter(ctx))
	if err != nil {
		return nil, fin.Cleanupf("creating ledger: %v", err)
	}
	s.ledger = l

	log.Infof("service started with %s collaborators", conf.Collaborators)
	return s, nil
}

// Close the service.
func (s *Service) Close() error {
	log.Info("service was shutdown")
	return s.finalizer.Cleanup(nil)
}

// PeerInfo returns the public information of the libp2p peer.
func (s *Service) PeerInfo() (*peer.Info, error) {
	if s.comm == nil {
		return nil, ErrNoPeer
	}
	return s.comm.Info()
}

// Height returns the current block height.
func (s *Service) Height(ctx context.Context) (uint64, error) {
	h, err := s.clock.BlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting block height: %v", err)
	}
	return h, nil
}

// Admin returns the ledger administrator.
func (s *Service) Admin() auction.Principal {
	return s.ledger.Admin()
}

// execContext defers reading the height until the ledger holds its writer lock.
func (s *Service) execContext(caller auction.Principal) ledger.ExecContext {
	return ledger.ExecContext{Caller: caller, Height: s.Height}
}

// SetEscrowContract sets the escrow contract identity once.
func (s *Service) SetEscrowContract(ctx context.Context, caller, contract auction.Principal) error {
	return s.ledger.SetEscrowContract(ctx, s.execContext(caller), contract)
}

// SetOracleContract sets the oracle contract identity once.
func (s *Service) SetOracleContract(ctx context.Context, caller, contract auction.Principal) error {
	return s.ledger.SetOracleContract(ctx, s.execContext(caller), contract)
}

// SetPlatformFeeRate sets the platform fee rate in percent.
func (s *Service) SetPlatformFeeRate(ctx context.Context, caller auction.Principal, rate uint64) error {
	return s.ledger.SetPlatformFeeRate(ctx, s.execContext(caller), rate)
}

// SetAntiSnipingDuration sets the anti-sniping window in blocks.
func (s *Service) SetAntiSnipingDuration(ctx context.Context, caller auction.Principal, duration uint64) error {
	return s.ledger.SetAntiSnipingDuration(ctx, s.execContext(caller), duration)
}

// CreateAuction creates an auction sold by caller.
func (s *Service) CreateAuction(
	ctx context.Context,
	caller auction.Principal,
	params ledger.CreateParams,
) (auction.ID, error) {
	return s.ledger.CreateAuction(ctx, s.execContext(caller), params)
}

// PlaceBid places a bid by caller.
func (s *Service) PlaceBid(ctx context.Context, caller auction.Principal, id auction.ID, amount uint64) error {
	return s.ledger.PlaceBid(ctx, s.execContext(caller), id, amount)
}

// EndAuction settles an auction and returns its winner, if any.
func (s *Service) EndAuction(ctx context.Context, caller auction.Principal, id auction.ID) (auction.Principal, error) {
	return s.ledger.EndAuction(ctx, s.execContext(caller), id)
}

// GetAuction returns an auction, or nil if it doesn't exist.
func (s *Service) GetAuction(ctx context.Context, id auction.ID) (*auction.Auction, error) {
	return s.ledger.GetAuction(ctx, id)
}

// GetBid returns the latest bid of bidder in an auction, or nil.
func (s *Service) GetBid(ctx context.Context, id auction.ID, bidder auction.Principal) (*auction.Bid, error) {
	return s.ledger.GetBid(ctx, id, bidder)
}

// GetHistory returns the bid timeline of an auction.
func (s *Service) GetHistory(ctx context.Context, id auction.ID) ([]auction.HistoryEntry, error) {
	return s.ledger.GetHistory(ctx, id)
}

// GetReceipt returns an instruction receipt, or nil if it doesn't exist.
func (s *Service) GetReceipt(ctx context.Context, id string) (*auction.Receipt, error) {
	return s.ledger.GetReceipt(ctx, id)
}

// GetSellerAuctions returns the ids of auctions created by seller.
func (s *Service) GetSellerAuctions(ctx context.Context, seller auction.Principal) ([]auction.ID, error) {
	return s.ledger.GetSellerAuctions(ctx, seller)
}

// AuctionCount returns the number of auctions ever created.
func (s *Service) AuctionCount(ctx context.Context) (uint64, error) {
	return s.ledger.AuctionCount(ctx)
}

// IsAuctionActive returns whether an auction exists and is open.
func (s *Service) IsAuctionActive(ctx context.Context, id auction.ID) (bool, error) {
	return s.ledger.IsAuctionActive(ctx, id)
}

// Settings returns the ledger settings.
func (s *Service) Settings(ctx context.Context) (auction.Settings, error) {
	return s.ledger.Settings(ctx)
}

// ListAuctions lists auctions by applying a store.Query.
func (s *Service) ListAuctions(ctx context.Context, query store.Query) ([]*auction.Auction, error) {
	return s.ledger.ListAuctions(ctx, query)
}

// ListReceipts lists instruction receipts by applying a store.Query.
func (s *Service) ListReceipts(ctx context.Context, query store.Query) ([]*auction.Receipt, error) {
	return s.ledger.ListReceipts(ctx, query)
}
