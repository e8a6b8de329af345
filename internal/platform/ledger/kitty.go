package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// Kitty reads the kitty snapshot for id.
func (c *Client) Kitty(ctx context.Context, id uint64) (domain.Kitty, error) {
	out, err := c.call(ctx, c.kitties, "getKitty", tokenArg(id))
	if err != nil {
		return domain.Kitty{}, fmt.Errorf("ledger: getKitty %d: %w", id, err)
	}
	k, err := decodeKitty(id, out)
	if err != nil {
		return domain.Kitty{}, fmt.Errorf("ledger: getKitty %d: %w", id, err)
	}
	return k, nil
}

func decodeKitty(id uint64, out []any) (domain.Kitty, error) {
	if len(out) != 8 {
		return domain.Kitty{}, fmt.Errorf("got %d outputs, want 8", len(out))
	}
	genes, err := asBig(out[0])
	if err != nil {
		return domain.Kitty{}, fmt.Errorf("genes: %w", err)
	}
	var nums [6]uint64
	for i := range nums {
		n, err := asUint64(out[i+1])
		if err != nil {
			return domain.Kitty{}, fmt.Errorf("output %d: %w", i+1, err)
		}
		nums[i] = n
	}
	owner, ok := out[7].(common.Address)
	if !ok {
		return domain.Kitty{}, fmt.Errorf("owner: unexpected %T", out[7])
	}
	return domain.Kitty{
		ID:            id,
		Genes:         new(big.Int).Set(genes),
		BirthTime:     time.Unix(int64(nums[0]), 0).UTC(),
		CooldownEnd:   time.Unix(int64(nums[1]), 0).UTC(),
		MumID:         nums[2],
		DadID:         nums[3],
		Generation:    uint16(nums[4]),
		CooldownIndex: uint16(nums[5]),
		Owner:         owner,
	}, nil
}

// IsApprovedForAll reports whether operator may move every kitty of owner.
func (c *Client) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	out, err := c.call(ctx, c.kitties, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, fmt.Errorf("ledger: isApprovedForAll: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("ledger: isApprovedForAll: got %d outputs", len(out))
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return false, fmt.Errorf("ledger: isApprovedForAll: unexpected %T", out[0])
	}
	return ok, nil
}

// SetApprovalForAll grants or revokes operator for the acting account.
func (c *Client) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (domain.Receipt, error) {
	r, err := c.transact(ctx, c.kitties, nil, "setApprovalForAll", operator, approved)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: setApprovalForAll: %w", err)
	}
	return r, nil
}

// SendBreed breeds mumID with dadID. The kitten id arrives with the Birth
// event.
func (c *Client) SendBreed(ctx context.Context, mumID, dadID uint64) (domain.Receipt, error) {
	r, err := c.transact(ctx, c.kitties, nil, "breed", tokenArg(dadID), tokenArg(mumID))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: breed %d x %d: %w", mumID, dadID, err)
	}
	return r, nil
}
