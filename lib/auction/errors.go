package auction

import (
	"errors"
	"fmt"
)

// Code is a numeric ledger error. Every failed ledger operation returns one,
// possibly wrapped.
type Code uint32

// Ledger error codes.
const (
	ErrNotAuthorized          Code = 100
	ErrInvalidStartTime       Code = 101
	ErrInvalidEndTime         Code = 102
	ErrInvalidReservePrice    Code = 103
	ErrInvalidMinIncrement    Code = 104
	ErrInvalidItemDescription Code = 105
	ErrAuctionAlreadyExists   Code = 106
	ErrAuctionNotFound        Code = 107
	ErrAuctionNotActive       Code = 108
	ErrBidBelowReserve        Code = 109
	ErrBidBelowIncrement      Code = 110
	ErrAuctionEnded           Code = 111
	ErrAuctionNotEnded        Code = 112
	ErrInvalidBidAmount       Code = 113
	ErrInvalidAntiSniping     Code = 114
	ErrInvalidExtension       Code = 115
	ErrInvalidSeller          Code = 116
	ErrInvalidToken           Code = 117
	ErrMaxAuctionsExceeded    Code = 118
	ErrInvalidStatus          Code = 119
	ErrInvalidLocation        Code = 120
	ErrInvalidCurrency        Code = 121
	ErrInvalidBidder          Code = 122
	ErrInvalidWinner          Code = 123
	ErrInvalidFeeRate         Code = 124
	ErrInvalidOracle          Code = 125
	ErrEscrowRejected         Code = 126
	ErrOracleRejected         Code = 127
)

var codeStrings = map[Code]string{
	ErrNotAuthorized:          "not authorized",
	ErrInvalidStartTime:       "invalid start time",
	ErrInvalidEndTime:         "invalid end time",
	ErrInvalidReservePrice:    "invalid reserve price",
	ErrInvalidMinIncrement:    "invalid min increment",
	ErrInvalidItemDescription: "invalid item description",
	ErrAuctionAlreadyExists:   "auction already exists",
	ErrAuctionNotFound:        "auction not found",
	ErrAuctionNotActive:       "auction not active",
	ErrBidBelowReserve:        "bid below reserve",
	ErrBidBelowIncrement:      "bid below increment",
	ErrAuctionEnded:           "auction ended",
	ErrAuctionNotEnded:        "auction not ended",
	ErrInvalidBidAmount:       "invalid bid amount",
	ErrInvalidAntiSniping:     "invalid anti-sniping duration",
	ErrInvalidExtension:       "invalid extension",
	ErrInvalidSeller:          "invalid seller",
	ErrInvalidToken:           "invalid token type",
	ErrMaxAuctionsExceeded:    "max auctions exceeded",
	ErrInvalidStatus:          "invalid status",
	ErrInvalidLocation:        "invalid location",
	ErrInvalidCurrency:        "invalid currency",
	ErrInvalidBidder:          "invalid bidder",
	ErrInvalidWinner:          "invalid winner",
	ErrInvalidFeeRate:         "invalid fee rate",
	ErrInvalidOracle:          "invalid oracle",
	ErrEscrowRejected:         "escrow rejected instruction",
	ErrOracleRejected:         "oracle rejected instruction",
}

var codeByString map[string]Code

func init() {
	codeByString = make(map[string]Code)
	for c, s := range codeStrings {
		codeByString[s] = c
	}
}

// String returns the name of the code.
func (c Code) String() string {
	if s, exists := codeStrings[c]; exists {
		return s
	}
	return "unknown"
}

// Error implements error.
func (c Code) Error() string {
	return fmt.Sprintf("%s (err u%d)", c.String(), uint32(c))
}

// CodeByString finds a code by its name, or errors if the name is unknown.
func CodeByString(s string) (Code, error) {
	if c, exists := codeByString[s]; exists {
		return c, nil
	}
	return 0, errors.New("invalid error code name")
}

// CodeOf extracts the ledger Code carried by err.
func CodeOf(err error) (Code, bool) {
	var c Code
	if errors.As(err, &c) {
		return c, true
	}
	return 0, false
}
