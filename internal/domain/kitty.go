package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kitty is an immutable snapshot of a collectible as read from the kitty
// contract. It is attached to offers for display only and is never used to
// decide ownership.
type Kitty struct {
	ID            uint64         `json:"id"`
	Genes         *big.Int       `json:"genes"`
	BirthTime     time.Time      `json:"birth_time"`
	CooldownEnd   time.Time      `json:"cooldown_end"`
	MumID         uint64         `json:"mum_id"`
	DadID         uint64         `json:"dad_id"`
	Generation    uint16         `json:"generation"`
	CooldownIndex uint16         `json:"cooldown_index"`
	Owner         common.Address `json:"owner"`
}

// Clone returns a deep copy of the snapshot.
func (k Kitty) Clone() Kitty {
	out := k
	if k.Genes != nil {
		out.Genes = new(big.Int).Set(k.Genes)
	}
	return out
}
