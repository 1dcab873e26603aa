package ledger

import "github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"

// EventReporter is notified after ledger operations commit, and when they are rejected.
type EventReporter interface {
	AuctionCreated(a *auction.Auction)
	BidPlaced(a *auction.Auction, bidder auction.Principal, amount uint64, extended bool)
	AuctionSettled(a *auction.Auction, net, fee uint64)
	Rejected(op string, code auction.Code)
}

type nullEventReporter struct{}

func (nullEventReporter) AuctionCreated(a *auction.Auction)                                   {}
func (nullEventReporter) BidPlaced(a *auction.Auction, b auction.Principal, n uint64, e bool) {}
func (nullEventReporter) AuctionSettled(a *auction.Auction, net, fee uint64)                  {}
func (nullEventReporter) Rejected(op string, code auction.Code)                               {}
