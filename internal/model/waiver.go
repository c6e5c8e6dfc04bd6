package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus is the lifecycle state of a waiver listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingResolved  ListingStatus = "resolved"
	ListingCancelled ListingStatus = "cancelled"
)

// WaiverListing puts one item on the sealed-bid wire.
type WaiverListing struct {
	ID           string        `json:"id"`
	ItemID       string        `json:"item_id"`
	OwnerID      string        `json:"owner_id"`
	ListedAt     time.Time     `json:"listed_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Status       ListingStatus `json:"status"`
	WinningBidID string        `json:"winning_bid_id,omitempty"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// Open reports whether bids are still accepted at now.
func (l *WaiverListing) Open(now time.Time) bool {
	return l.Status == ListingActive && now.Before(l.ExpiresAt)
}

// BidOutcome is set once, at resolution.
type BidOutcome string

const (
	BidSealed BidOutcome = "sealed"
	BidWon    BidOutcome = "won"
	BidLost   BidOutcome = "lost"
)

// WaiverBid is a sealed bid. Its amount is only surfaced in a WaiverResolution.
type WaiverBid struct {
	ID        string          `json:"id"`
	ListingID string          `json:"listing_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placed_at"`
	Outcome   BidOutcome      `json:"outcome"`
}

// BidReceipt acknowledges a bid without echoing its amount.
type BidReceipt struct {
	BidID     string    `json:"bid_id"`
	ListingID string    `json:"listing_id"`
	BidderID  string    `json:"bidder_id"`
	PlacedAt  time.Time `json:"placed_at"`
}

// WaiverResolution is the revealed result of a resolved listing.
type WaiverResolution struct {
	Listing       WaiverListing   `json:"listing"`
	WinnerID      string          `json:"winner_id,omitempty"`
	WinningAmount decimal.Decimal `json:"winning_amount"`
	OwnerShare    decimal.Decimal `json:"owner_share"`
	Burned        decimal.Decimal `json:"burned"`
	Bids          []WaiverBid     `json:"bids"`
}
