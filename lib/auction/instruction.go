package auction

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/multiformats/go-multihash"
	"github.com/oklog/ulid/v2"
)

var (
	entropyLk sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func init() {
	cbor.RegisterCborType(Instruction{})
}

// InstructionKind names a collaborator call.
type InstructionKind string

const (
	// KindLockFunds asks escrow to lock a bid amount from the bidder.
	KindLockFunds InstructionKind = "lock-funds"
	// KindUnlockFunds returns a lock to its bidder when the bid could not be recorded.
	KindUnlockFunds InstructionKind = "unlock-funds"
	// KindReleaseToSeller asks escrow to release net proceeds to the seller.
	KindReleaseToSeller InstructionKind = "release-to-seller"
	// KindReleaseFee asks escrow to release the platform fee.
	KindReleaseFee InstructionKind = "release-fee"
	// KindRefundAll asks escrow to refund every locked bid.
	KindRefundAll InstructionKind = "refund-all"
	// KindVerifyAsset asks the oracle to verify the sold asset.
	KindVerifyAsset InstructionKind = "verify-asset"
)

// Oracle returns whether the instruction is addressed to an oracle rather than escrow.
func (k InstructionKind) Oracle() bool {
	return k == KindVerifyAsset
}

// Instruction is one ordered call to an escrow or oracle collaborator.
// Principal is the bidder for lock-funds and unlock-funds, and the seller for
// release-to-seller.
type Instruction struct {
	Contract  Principal       `json:"contract"`
	Kind      InstructionKind `json:"kind"`
	Principal Principal       `json:"principal,omitempty"`
	Amount    uint64          `json:"amount,omitempty"`
	AuctionID ID              `json:"auctionId"`
}

// String returns a compact representation, e.g. "lock-funds(ST3BIDDER, 1100, 0)".
func (i Instruction) String() string {
	switch i.Kind {
	case KindLockFunds, KindUnlockFunds, KindReleaseToSeller:
		return fmt.Sprintf("%s(%s, %d, %d)", i.Kind, i.Principal, i.Amount, i.AuctionID)
	case KindReleaseFee:
		return fmt.Sprintf("%s(%d, %d)", i.Kind, i.Amount, i.AuctionID)
	default:
		return fmt.Sprintf("%s(%d)", i.Kind, i.AuctionID)
	}
}

// Operation names a mutating ledger operation.
type Operation string

// Operations that may emit instructions.
const (
	OperationPlaceBid   Operation = "place-bid"
	OperationEndAuction Operation = "end-auction"
	// OperationAbortBid journals a lock that was given back because its bid was lost.
	OperationAbortBid Operation = "abort-bid"
)

// Receipt journals the instructions emitted by one ledger operation.
type Receipt struct {
	ID           string        `json:"id"`
	Operation    Operation     `json:"operation"`
	AuctionID    ID            `json:"auctionId"`
	Caller       Principal     `json:"caller"`
	BlockHeight  uint64        `json:"blockHeight"`
	Instructions []Instruction `json:"instructions"`
	Cid          cid.Cid       `json:"cid"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// NewReceipt returns a Receipt with a fresh time-ordered id and a content id
// over its instructions. Ids of receipts created in this process are strictly increasing.
func NewReceipt(
	op Operation,
	auctionID ID,
	caller Principal,
	height uint64,
	instructions []Instruction,
) (*Receipt, error) {
	node, err := cbor.WrapObject(instructions, multihash.SHA2_256, -1)
	if err != nil {
		return nil, fmt.Errorf("wrapping instructions: %v", err)
	}
	now := time.Now()
	entropyLk.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	entropyLk.Unlock()
	return &Receipt{
		ID:           strings.ToLower(id.String()),
		Operation:    op,
		AuctionID:    auctionID,
		Caller:       caller,
		BlockHeight:  height,
		Instructions: instructions,
		Cid:          node.Cid(),
		CreatedAt:    now,
	}, nil
}

// Settlement tracks delivery of the instructions that close an auction.
// The first Delivered instructions were accepted and are never sent again.
type Settlement struct {
	AuctionID    ID            `json:"auctionId"`
	Instructions []Instruction `json:"instructions"`
	Delivered    int           `json:"delivered"`
}

// Pending returns the instructions not delivered yet.
func (s *Settlement) Pending() []Instruction {
	if s.Delivered >= len(s.Instructions) {
		return nil
	}
	return s.Instructions[s.Delivered:]
}
