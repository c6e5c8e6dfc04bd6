package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Player holds a grit balance. Items reference their owner, not the other way
// round, so an item can only ever belong to one player.
type Player struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Grit       decimal.Decimal `json:"grit"`
	LockedGrit decimal.Decimal `json:"locked_grit"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Available returns grit not held in escrow.
func (p *Player) Available() decimal.Decimal {
	return p.Grit.Sub(p.LockedGrit)
}

// Rarity is an ordered item tier.
type Rarity int

const (
	RarityCommon Rarity = iota
	RarityUncommon
	RarityRare
	RarityEpic
	RarityLegendary
)

var rarityNames = []string{"common", "uncommon", "rare", "epic", "legendary"}

func (r Rarity) String() string {
	if r < 0 || int(r) >= len(rarityNames) {
		return "unknown"
	}
	return rarityNames[r]
}

// ParseRarity maps a tier name to its Rarity.
func ParseRarity(s string) (Rarity, bool) {
	for i, name := range rarityNames {
		if name == s {
			return Rarity(i), true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (r Rarity) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rarity) UnmarshalText(b []byte) error {
	parsed, ok := ParseRarity(string(b))
	if !ok {
		return fmt.Errorf("unknown rarity %q", string(b))
	}
	*r = parsed
	return nil
}

// Item is a uniquely owned collectible.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rarity    Rarity    `json:"rarity"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayerState is a player together with the items they currently own.
type PlayerState struct {
	Player
	Available decimal.Decimal `json:"available"`
	Items     []Item          `json:"items"`
}
