package auction

import (
	"errors"
	"unicode/utf8"
)

const (
	// DefaultMaxAuctions is the default ceiling on the number of auctions ever created.
	DefaultMaxAuctions uint64 = 10000
	// DefaultPlatformFeeRate is the default platform fee in percent.
	DefaultPlatformFeeRate uint64 = 5
	// MaxPlatformFeeRate is the highest platform fee in percent an admin can set.
	MaxPlatformFeeRate uint64 = 10
	// DefaultAntiSnipingDuration is the default anti-sniping window in blocks.
	DefaultAntiSnipingDuration uint64 = 10

	// MaxItemDescriptionLength is the max number of characters in an item description.
	MaxItemDescriptionLength = 500
	// MaxLocationLength is the max number of characters in a location.
	MaxLocationLength = 100

	// BurnPrincipal is the null principal. It can never be used as an escrow or oracle contract.
	BurnPrincipal Principal = "SP000000000000000000002Q6VF78"
)

// ID is a sequential identifier for an Auction.
type ID uint64

// Principal identifies an account or contract.
type Principal string

// TokenType is the kind of asset being auctioned.
type TokenType string

const (
	// TokenSTX is the native token.
	TokenSTX TokenType = "STX"
	// TokenSIP10 is a fungible token.
	TokenSIP10 TokenType = "SIP10"
	// TokenNFT is a non-fungible token.
	TokenNFT TokenType = "NFT"
)

// Valid returns whether t is a supported token type.
func (t TokenType) Valid() bool {
	switch t {
	case TokenSTX, TokenSIP10, TokenNFT:
		return true
	}
	return false
}

// Currency is the denomination bids are placed in.
type Currency string

const (
	// CurrencySTX is the native currency.
	CurrencySTX Currency = "STX"
	// CurrencyUSD is US dollars.
	CurrencyUSD Currency = "USD"
	// CurrencyBTC is bitcoin.
	CurrencyBTC Currency = "BTC"
)

// Valid returns whether c is a supported currency.
func (c Currency) Valid() bool {
	switch c {
	case CurrencySTX, CurrencyUSD, CurrencyBTC:
		return true
	}
	return false
}

// Auction is an English auction record.
// An empty HighestBidder or Winner means absent.
type Auction struct {
	ID              ID        `json:"id"`
	Seller          Principal `json:"seller"`
	StartTime       uint64    `json:"startTime"`
	EndTime         uint64    `json:"endTime"`
	ReservePrice    uint64    `json:"reservePrice"`
	MinIncrement    uint64    `json:"minIncrement"`
	HighestBid      uint64    `json:"highestBid"`
	HighestBidder   Principal `json:"highestBidder,omitempty"`
	ItemDescription string    `json:"itemDescription"`
	TokenType       TokenType `json:"tokenType"`
	Status          bool      `json:"status"`
	Location        string    `json:"location"`
	Currency        Currency  `json:"currency"`
	ExtensionCount  uint64    `json:"extensionCount"`
	Winner          Principal `json:"winner,omitempty"`
}

// MinNextBid returns the smallest amount a new bid must reach to clear the
// increment. It returns false when that amount does not fit in a uint64.
func (a *Auction) MinNextBid() (uint64, bool) {
	n := a.HighestBid + a.MinIncrement
	return n, n >= a.HighestBid
}

// Bid is the most recent bid of a bidder in an auction.
type Bid struct {
	AuctionID ID        `json:"auctionId"`
	Bidder    Principal `json:"bidder"`
	Amount    uint64    `json:"bidAmount"`
	Timestamp uint64    `json:"timestamp"`
}

// HistoryEntry is one accepted bid in an auction timeline.
type HistoryEntry struct {
	Bidder Principal `json:"bidder"`
	Amount uint64    `json:"amount"`
	Time   uint64    `json:"time"`
}

// Settings is the mutable global ledger configuration.
type Settings struct {
	NextAuctionID       uint64    `json:"nextAuctionId"`
	MaxAuctions         uint64    `json:"maxAuctions"`
	PlatformFeeRate     uint64    `json:"platformFeeRate"`
	AntiSnipingDuration uint64    `json:"antiSnipingDuration"`
	EscrowContract      Principal `json:"escrowContract,omitempty"`
	OracleContract      Principal `json:"oracleContract,omitempty"`
}

// DefaultSettings returns Settings populated with default values.
func DefaultSettings() Settings {
	return Settings{
		MaxAuctions:         DefaultMaxAuctions,
		PlatformFeeRate:     DefaultPlatformFeeRate,
		AntiSnipingDuration: DefaultAntiSnipingDuration,
	}
}

// Validate ensures the settings can drive a ledger.
func (s Settings) Validate() error {
	if s.MaxAuctions == 0 {
		return errors.New("max auctions must be greater than zero")
	}
	if s.PlatformFeeRate > MaxPlatformFeeRate {
		return ErrInvalidFeeRate
	}
	if s.AntiSnipingDuration == 0 {
		return ErrInvalidAntiSniping
	}
	return nil
}

// ValidDescription returns whether d is a non-empty description within the length limit.
func ValidDescription(d string) bool {
	n := utf8.RuneCountInString(d)
	return n > 0 && n <= MaxItemDescriptionLength
}

// ValidLocation returns whether l is a non-empty location within the length limit.
func ValidLocation(l string) bool {
	n := utf8.RuneCountInString(l)
	return n > 0 && n <= MaxLocationLength
}
