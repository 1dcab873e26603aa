package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	golog "github.com/textileio/go-log/v2"
)

var (
	log = golog.Logger("bidledger/collab")

	// ErrUnknownInstruction indicates an instruction kind no collaborator handles.
	ErrUnknownInstruction = errors.New("unknown instruction kind")
)

// Escrow holds bid funds and releases them on instruction.
type Escrow interface {
	LockFunds(ctx context.Context, from auction.Principal, amount uint64, id auction.ID) error
	UnlockFunds(ctx context.Context, to auction.Principal, amount uint64, id auction.ID) error
	ReleaseToSeller(ctx context.Context, seller auction.Principal, amount uint64, id auction.ID) error
	ReleaseFee(ctx context.Context, amount uint64, id auction.ID) error
	RefundAll(ctx context.Context, id auction.ID) error
}

// Oracle verifies sold assets.
type Oracle interface {
	VerifyAsset(ctx context.Context, id auction.ID) error
}

// Resolver finds the collaborator behind a contract identity.
type Resolver interface {
	Escrow(contract auction.Principal) (Escrow, error)
	Oracle(contract auction.Principal) (Oracle, error)
}

// Dispatch delivers one instruction through r. Collaborator failures are
// wrapped with auction.ErrEscrowRejected or auction.ErrOracleRejected.
func Dispatch(ctx context.Context, r Resolver, i auction.Instruction) error {
	if i.Kind.Oracle() {
		o, err := r.Oracle(i.Contract)
		if err != nil {
			return fmt.Errorf("%w: resolving oracle %s: %v", auction.ErrOracleRejected, i.Contract, err)
		}
		if err := o.VerifyAsset(ctx, i.AuctionID); err != nil {
			return fmt.Errorf("%w: %s: %v", auction.ErrOracleRejected, i, err)
		}
		log.Debugf("oracle %s accepted %s", i.Contract, i)
		return nil
	}

	e, err := r.Escrow(i.Contract)
	if err != nil {
		return fmt.Errorf("%w: resolving escrow %s: %v", auction.ErrEscrowRejected, i.Contract, err)
	}
	if err := ApplyEscrow(ctx, e, i); err != nil {
		if errors.Is(err, ErrUnknownInstruction) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", auction.ErrEscrowRejected, i, err)
	}
	log.Debugf("escrow %s accepted %s", i.Contract, i)
	return nil
}

// ApplyEscrow calls the Escrow method matching the instruction kind.
func ApplyEscrow(ctx context.Context, e Escrow, i auction.Instruction) error {
	switch i.Kind {
	case auction.KindLockFunds:
		return e.LockFunds(ctx, i.Principal, i.Amount, i.AuctionID)
	case auction.KindUnlockFunds:
		return e.UnlockFunds(ctx, i.Principal, i.Amount, i.AuctionID)
	case auction.KindReleaseToSeller:
		return e.ReleaseToSeller(ctx, i.Principal, i.Amount, i.AuctionID)
	case auction.KindReleaseFee:
		return e.ReleaseFee(ctx, i.Amount, i.AuctionID)
	case auction.KindRefundAll:
		return e.RefundAll(ctx, i.AuctionID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownInstruction, i.Kind)
	}
}
