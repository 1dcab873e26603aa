package service

import (
	"context"

	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// progressReporter turns ledger events into metrics.
type progressReporter struct {
	ctx context.Context

	auctionsCreated metric.Int64Counter
	bidsPlaced      metric.Int64Counter
	extensions      metric.Int64Counter
	auctionsSettled metric.Int64Counter
	volume          metric.Int64Counter
	fees            metric.Int64Counter
	rejections      metric.Int64Counter
}

func newProgressReporter(ctx context.Context) *progressReporter {
	meter := metric.Must(global.Meter("bidledger"))
	return &progressReporter{
		ctx:             ctx,
		auctionsCreated: meter.NewInt64Counter("bidledger.auctions.created"),
		bidsPlaced:      meter.NewInt64Counter("bidledger.bids.placed"),
		extensions:      meter.NewInt64Counter("bidledger.auctions.extensions"),
		auctionsSettled: meter.NewInt64Counter("bidledger.auctions.settled"),
		volume:          meter.NewInt64Counter("bidledger.settled.volume"),
		fees:            meter.NewInt64Counter("bidledger.settled.fees"),
		rejections:      meter.NewInt64Counter("bidledger.rejections"),
	}
}

func (pr *progressReporter) AuctionCreated(a *auction.Auction) {
	pr.auctionsCreated.Add(pr.ctx, 1,
		attribute.String("token", string(a.TokenType)),
		attribute.String("currency", string(a.Currency)))
}

func (pr *progressReporter) BidPlaced(a *auction.Auction, _ auction.Principal, _ uint64, extended bool) {
	pr.bidsPlaced.Add(pr.ctx, 1, attribute.String("currency", string(a.Currency)))
	if extended {
		pr.extensions.Add(pr.ctx, 1)
	}
}

func (pr *progressReporter) AuctionSettled(a *auction.Auction, net, fee uint64) {
	sold := a.Winner != ""
	pr.auctionsSettled.Add(pr.ctx, 1, attribute.Bool("sold", sold))
	if !sold {
		return
	}
	currency := attribute.String("currency", string(a.Currency))
	pr.volume.Add(pr.ctx, clampInt64(net+fee), currency)
	pr.fees.Add(pr.ctx, clampInt64(fee), currency)
}

func (pr *progressReporter) Rejected(op string, code auction.Code) {
	pr.rejections.Add(pr.ctx, 1,
		attribute.String("op", op),
		attribute.Int64("code", int64(code)))
}

func clampInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}
