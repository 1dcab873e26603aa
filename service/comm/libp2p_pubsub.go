package comm

import (
	"context"
	"errors"
	"fmt"
	"time"

	core "github.com/libp2p/go-libp2p-core/peer"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/collab"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	"github.com/textileio/go-libp2p-pubsub-rpc/peer"
	golog "github.com/textileio/go-log/v2"
)

var (
	log = golog.Logger("bidledger/comm")

	// ErrAckMismatch indicates a collaborator acknowledged a different message.
	ErrAckMismatch = errors.New("ack does not match message")
)

// DefaultAckTimeout is how long to wait for a collaborator to acknowledge an instruction.
const DefaultAckTimeout = time.Second * 30

// Libp2pPubsub delivers instructions to escrow and oracle contracts over
// libp2p pubsub and waits for their acknowledgement. It implements collab.Resolver.
type Libp2pPubsub struct {
	peer       *peer.Peer
	ctx        context.Context
	ackTimeout time.Duration
	finalizer  *finalizer.Finalizer
}

var _ collab.Resolver = (*Libp2pPubsub)(nil)

// NewLibp2pPubsub creates a Libp2pPubsub backed by a new libp2p peer.
func NewLibp2pPubsub(ctx context.Context, conf peer.Config, ackTimeout time.Duration) (*Libp2pPubsub, error) {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	fin := finalizer.NewFinalizer()
	ctx, cancel := context.WithCancel(ctx)
	fin.Add(finalizer.NewContextCloser(cancel))

	p, err := peer.New(conf)
	if err != nil {
		return nil, fin.Cleanupf("creating peer: %v", err)
	}
	fin.Add(p)

	return &Libp2pPubsub{
		peer:       p,
		ctx:        ctx,
		ackTimeout: ackTimeout,
		finalizer:  fin,
	}, nil
}

// Bootstrap connects to the configured bootstrap addresses.
func (ps *Libp2pPubsub) Bootstrap() {
	ps.peer.Bootstrap()
}

// Close closes the communication channel.
func (ps *Libp2pPubsub) Close() error {
	log.Info("Libp2pPubsub was shutdown")
	return ps.finalizer.Cleanup(nil)
}

// ID returns the peer ID of the channel.
func (ps *Libp2pPubsub) ID() core.ID {
	return ps.peer.Host().ID()
}

// Info returns the peer Info of the channel.
func (ps *Libp2pPubsub) Info() (*peer.Info, error) {
	return ps.peer.Info()
}

// Escrow implements collab.Resolver.
func (ps *Libp2pPubsub) Escrow(contract auction.Principal) (collab.Escrow, error) {
	if contract == "" {
		return nil, errors.New("escrow contract is not set")
	}
	return &remoteEscrow{ps: ps, contract: contract}, nil
}

// Oracle implements collab.Resolver.
func (ps *Libp2pPubsub) Oracle(contract auction.Principal) (collab.Oracle, error) {
	if contract == "" {
		return nil, errors.New("oracle contract is not set")
	}
	return &remoteOracle{ps: ps, contract: contract}, nil
}

// publish sends the instruction to its contract topic and blocks until the
// contract acknowledges it, rejects it, or the ack timeout passes.
func (ps *Libp2pPubsub) publish(ctx context.Context, i auction.Instruction) error {
	m, err := newMessage(i)
	if err != nil {
		return err
	}
	msg, err := m.marshal()
	if err != nil {
		return err
	}

	topicName := auction.InstructionTopic(i)
	topic, err := ps.peer.NewTopic(ps.ctx, topicName, false)
	if err != nil {
		return fmt.Errorf("creating instruction topic: %v", err)
	}
	defer func() {
		if err := topic.Close(); err != nil {
			log.Errorf("closing instruction topic: %v", err)
		}
	}()
	topic.SetEventHandler(ps.eventHandler)

	ctx, cancel := context.WithTimeout(ctx, ps.ackTimeout)
	defer cancel()
	res, err := topic.Publish(ctx, msg)
	if err != nil {
		return fmt.Errorf("publishing instruction: %v", err)
	}
	r, ok := <-res
	if !ok {
		return fmt.Errorf("publishing instruction; no ack from %s within %s", i.Contract, ps.ackTimeout)
	}
	if r.Err != nil {
		return fmt.Errorf("publishing instruction; %s returned error: %v", i.Contract, r.Err)
	}
	if string(r.Data) != m.ID {
		return fmt.Errorf("%w: %s", ErrAckMismatch, r.Data)
	}
	log.Debugf("%s acknowledged %s by %s", topicName, i, r.From)
	return nil
}

func (ps *Libp2pPubsub) eventHandler(from core.ID, topic string, msg []byte) {
	log.Debugf("%s peer event: %s %s", topic, from, msg)
}

type remoteEscrow struct {
	ps       *Libp2pPubsub
	contract auction.Principal
}

func (e *remoteEscrow) LockFunds(ctx context.Context, from auction.Principal, amount uint64, id auction.ID) error {
	return e.ps.publish(ctx, auction.Instruction{
		Contract:  e.contract,
		Kind:      auction.KindLockFunds,
		Principal: from,
		Amount:    amount,
		AuctionID: id,
	})
}

func (e *remoteEscrow) UnlockFunds(ctx context.Context, to auction.Principal, amount uint64, id auction.ID) error {
	return e.ps.publish(ctx, auction.Instruction{
		Contract:  e.contract,
		Kind:      auction.KindUnlockFunds,
		Principal: to,
		Amount:    amount,
		AuctionID: id,
	})
}

func (e *remoteEscrow) ReleaseToSeller(
	ctx context.Context,
	seller auction.Principal,
	amount uint64,
	id auction.ID,
) error {
	return e.ps.publish(ctx, auction.Instruction{
		Contract:  e.contract,
		Kind:      auction.KindReleaseToSeller,
		Principal: seller,
		Amount:    amount,
		AuctionID: id,
	})
}

func (e *remoteEscrow) ReleaseFee(ctx context.Context, amount uint64, id auction.ID) error {
	return e.ps.publish(ctx, auction.Instruction{
		Contract:  e.contract,
		Kind:      auction.KindReleaseFee,
		Amount:    amount,
		AuctionID: id,
	})
}

func (e *remoteEscrow) RefundAll(ctx context.Context, id auction.ID) error {
	return e.ps.publish(ctx, auction.Instruction{Contract: e.contract, Kind: auction.KindRefundAll, AuctionID: id})
}

type remoteOracle struct {
	ps       *Libp2pPubsub
	contract auction.Principal
}

func (o *remoteOracle) VerifyAsset(ctx context.Context, id auction.ID) error {
	return o.ps.publish(ctx, auction.Instruction{Contract: o.contract, Kind: auction.KindVerifyAsset, AuctionID: id})
}
