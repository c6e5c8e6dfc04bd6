package model

import "time"

// TradeStatus is the state of a multi-item trade.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeAccepted  TradeStatus = "accepted"
	TradeRejected  TradeStatus = "rejected"
	TradeCancelled TradeStatus = "cancelled"
	TradeCompleted TradeStatus = "completed"
)

// MaxTradeItems caps each side of a trade.
const MaxTradeItems = 5

// MultiItemTrade swaps items between two players. No grit changes hands.
type MultiItemTrade struct {
	ID               string      `json:"id"`
	ProposerID       string      `json:"proposer_id"`
	RecipientID      string      `json:"recipient_id"`
	OfferedItemIDs   []string    `json:"offered_item_ids"`
	RequestedItemIDs []string    `json:"requested_item_ids"`
	Status           TradeStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// IsParticipant reports whether playerID is either side of the trade.
func (t *MultiItemTrade) IsParticipant(playerID string) bool {
	return playerID == t.ProposerID || playerID == t.RecipientID
}
