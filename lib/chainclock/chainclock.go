package chainclock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/lotus/api/v0api"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	golog "github.com/textileio/go-log/v2"
)

var (
	log = golog.Logger("bidledger/clock")

	requestTimeout = time.Second * 10
)

// DefaultBlockTime is the block time used by IntervalClock when none is given.
const DefaultBlockTime = time.Second * 30

// Clock supplies the current block height. Auction times are expressed in it.
type Clock interface {
	io.Closer

	BlockHeight(ctx context.Context) (uint64, error)
}

var (
	_ Clock = (*LotusClock)(nil)
	_ Clock = (*IntervalClock)(nil)
	_ Clock = (*ManualClock)(nil)
)

// LotusClock reads the height of the chain head from a Lotus gateway.
type LotusClock struct {
	fullNode  v0api.FullNode
	finalizer *finalizer.Finalizer
}

// NewLotusClock returns a new LotusClock.
func NewLotusClock(lotusGatewayURL string) (*LotusClock, error) {
	fin := finalizer.NewFinalizer()
	ctx, cancel := context.WithCancel(context.Background())
	fin.Add(finalizer.NewContextCloser(cancel))

	var fn v0api.FullNodeStruct
	fncloser, err := jsonrpc.NewClient(ctx, lotusGatewayURL, "Filecoin", &fn.Internal, http.Header{})
	if err != nil {
		return nil, fin.Cleanupf("creating fullnode json rpc client: %v", err)
	}
	fin.AddFn(fncloser)

	return &LotusClock{
		fullNode:  &fn,
		finalizer: fin,
	}, nil
}

// Close the client.
func (c *LotusClock) Close() error {
	return c.finalizer.Cleanup(nil)
}

// BlockHeight returns the current chain height in epochs.
func (c *LotusClock) BlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	ts, err := c.fullNode.ChainHead(ctx)
	if err != nil {
		return 0, fmt.Errorf("calling full node chain head: %v", err)
	}
	return epochToHeight(ts.Height())
}

func epochToHeight(e abi.ChainEpoch) (uint64, error) {
	if e < 0 {
		return 0, fmt.Errorf("negative chain epoch %d", e)
	}
	return uint64(e), nil
}

// IntervalClock derives the height from wall time: one block every BlockTime
// since Genesis.
type IntervalClock struct {
	genesis   time.Time
	blockTime time.Duration
	now       func() time.Time
}

// NewIntervalClock returns a new IntervalClock.
func NewIntervalClock(genesis time.Time, blockTime time.Duration) (*IntervalClock, error) {
	if blockTime < 0 {
		return nil, errors.New("block time must be positive")
	}
	if blockTime == 0 {
		blockTime = DefaultBlockTime
	}
	log.Debugf("interval clock with genesis %s and block time %s", genesis.Format(time.RFC3339), blockTime)
	return &IntervalClock{genesis: genesis, blockTime: blockTime, now: time.Now}, nil
}

// BlockHeight returns the number of whole blocks since genesis. It is zero
// before genesis.
func (c *IntervalClock) BlockHeight(_ context.Context) (uint64, error) {
	elapsed := c.now().Sub(c.genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / c.blockTime), nil
}

// Close implements io.Closer.
func (c *IntervalClock) Close() error {
	return nil
}

// ManualClock is a Clock whose height only moves when told to.
type ManualClock struct {
	lk     sync.Mutex
	height uint64
}

// NewManualClock returns a ManualClock at height.
func NewManualClock(height uint64) *ManualClock {
	return &ManualClock{height: height}
}

// Set the height.
func (c *ManualClock) Set(height uint64) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.height = height
}

// Advance the height by n blocks and return the new height.
func (c *ManualClock) Advance(n uint64) uint64 {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.height += n
	return c.height
}

// BlockHeight implements Clock.
func (c *ManualClock) BlockHeight(_ context.Context) (uint64, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.height, nil
}

// Close implements io.Closer.
func (c *ManualClock) Close() error {
	return nil
}
