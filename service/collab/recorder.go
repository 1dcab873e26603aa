package collab

import (
	"context"
	"sync"

	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
)

// Recorder is an in-process Escrow, Oracle and Resolver that keeps every
// accepted instruction. It backs tests and the daemon's log-only mode.
type Recorder struct {
	lk    sync.Mutex
	calls []auction.Instruction
	fail  map[auction.InstructionKind]error
}

var (
	_ Resolver = (*Recorder)(nil)
	_ Escrow   = (*contractRecorder)(nil)
	_ Oracle   = (*contractRecorder)(nil)
)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[auction.InstructionKind]error)}
}

// FailOn makes every instruction of kind fail with err. A nil err clears it.
func (r *Recorder) FailOn(kind auction.InstructionKind, err error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if err == nil {
		delete(r.fail, kind)
		return
	}
	r.fail[kind] = err
}

// Calls returns the accepted instructions in arrival order.
func (r *Recorder) Calls() []auction.Instruction {
	r.lk.Lock()
	defer r.lk.Unlock()
	out := make([]auction.Instruction, len(r.calls))
	copy(out, r.calls)
	return out
}

// Reset forgets accepted instructions.
func (r *Recorder) Reset() {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.calls = nil
}

// Escrow implements Resolver.
func (r *Recorder) Escrow(contract auction.Principal) (Escrow, error) {
	return &contractRecorder{r: r, contract: contract}, nil
}

// Oracle implements Resolver.
func (r *Recorder) Oracle(contract auction.Principal) (Oracle, error) {
	return &contractRecorder{r: r, contract: contract}, nil
}

func (r *Recorder) record(i auction.Instruction) error {
	r.lk.Lock()
	defer r.lk.Unlock()
	if err := r.fail[i.Kind]; err != nil {
		log.Debugf("recorder rejecting %s: %v", i, err)
		return err
	}
	r.calls = append(r.calls, i)
	log.Infof("%s: %s", i.Contract, i)
	return nil
}

type contractRecorder struct {
	r        *Recorder
	contract auction.Principal
}

func (c *contractRecorder) LockFunds(_ context.Context, from auction.Principal, amount uint64, id auction.ID) error {
	return c.r.record(auction.Instruction{
		Contract:  c.contract,
		Kind:      auction.KindLockFunds,
		Principal: from,
		Amount:    amount,
		AuctionID: id,
	})
}

func (c *contractRecorder) UnlockFunds(_ context.Context, to auction.Principal, amount uint64, id auction.ID) error {
	return c.r.record(auction.Instruction{
		Contract:  c.contract,
		Kind:      auction.KindUnlockFunds,
		Principal: to,
		Amount:    amount,
		AuctionID: id,
	})
}

func (c *contractRecorder) ReleaseToSeller(
	_ context.Context,
	seller auction.Principal,
	amount uint64,
	id auction.ID,
) error {
	return c.r.record(auction.Instruction{
		Contract:  c.contract,
		Kind:      auction.KindReleaseToSeller,
		Principal: seller,
		Amount:    amount,
		AuctionID: id,
	})
}

func (c *contractRecorder) ReleaseFee(_ context.Context, amount uint64, id auction.ID) error {
	return c.r.record(auction.Instruction{
		Contract:  c.contract,
		Kind:      auction.KindReleaseFee,
		Amount:    amount,
		AuctionID: id,
	})
}

func (c *contractRecorder) RefundAll(_ context.Context, id auction.ID) error {
	return c.r.record(auction.Instruction{Contract: c.contract, Kind: auction.KindRefundAll, AuctionID: id})
}

func (c *contractRecorder) VerifyAsset(_ context.Context, id auction.ID) error {
	return c.r.record(auction.Instruction{Contract: c.contract, Kind: auction.KindVerifyAsset, AuctionID: id})
}
