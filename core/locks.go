package core

// locks.go – HTLC-like conditional transfers (HashLock) and conditional
// swaps (SwapOffer). Generalizes an escrow-until-challenge-period-expires
// shape into a hash-preimage-gated release before an expiry height.

import (
	"math/big"

	"github.com/google/uuid"
)

// LockStatus is the lifecycle state of a HashLock.
type LockStatus uint8

const (
	LockPending LockStatus = iota
	LockSettled
	LockCancelled
)

// HashLock is a conditional transfer unlocked by revealing the preimage
// of Hash before ExpiryHeight.
type HashLock struct {
	OfferId      string
	Hash         Hash256
	ExpiryHeight uint64
	Amount       *big.Int
	Side         Side // which side's balance the lock is drawn from
	Status       LockStatus
	Preimage     []byte // set once settled
}

// NewHashLock builds a pending HashLock with a fresh, collision-resistant
// OfferId; add_lock's tx payload should be built from this rather than a
// hand-assigned id.
func NewHashLock(hash Hash256, expiryHeight uint64, amount *big.Int, side Side) HashLock {
	return HashLock{
		OfferId:      uuid.NewString(),
		Hash:         hash,
		ExpiryHeight: expiryHeight,
		Amount:       amount,
		Side:         side,
		Status:       LockPending,
	}
}

func encodeHashLock(l HashLock) []byte {
	e := NewEncoder()
	e.String(l.OfferId)
	e.Raw(l.Hash[:])
	e.Uint64(l.ExpiryHeight)
	e.BigInt(nz(l.Amount))
	e.Uint32(uint32(l.Side))
	e.Uint32(uint32(l.Status))
	return e.Bytes()
}

// SwapOffer is a conditional swap: give GiveTokenId, want WantTokenId, at
// a fixed ratio (basis points out of 65535, fill_swap_offer).
type SwapOffer struct {
	OfferId     string
	Side        Side // offering side
	GiveTokenId TokenId
	WantTokenId TokenId
	GiveAmount  *big.Int
	WantAmount  *big.Int
	FilledRatio uint16 // 0..65535, cumulative fraction filled so far
	Cancelled   bool
}

// NewSwapOffer builds a fresh SwapOffer with a collision-resistant
// OfferId; add_swap_offer's tx payload should be built from this rather
// than a hand-assigned id.
func NewSwapOffer(side Side, giveTokenId, wantTokenId TokenId, giveAmount, wantAmount *big.Int) SwapOffer {
	return SwapOffer{
		OfferId:     uuid.NewString(),
		Side:        side,
		GiveTokenId: giveTokenId,
		WantTokenId: wantTokenId,
		GiveAmount:  giveAmount,
		WantAmount:  wantAmount,
	}
}

func encodeSwapOffer(s SwapOffer) []byte {
	e := NewEncoder()
	e.String(s.OfferId)
	e.Uint32(uint32(s.Side))
	e.Uint32(uint32(s.GiveTokenId))
	e.Uint32(uint32(s.WantTokenId))
	e.BigInt(nz(s.GiveAmount))
	e.BigInt(nz(s.WantAmount))
	e.Uint32(uint32(s.FilledRatio))
	e.Bool(s.Cancelled)
	return e.Bytes()
}

// remaining returns the unfilled give/want amounts given FilledRatio.
func (s SwapOffer) remaining() (give, want *big.Int) {
	give = fracOf(s.GiveAmount, 65535-uint32(s.FilledRatio), 65535)
	want = fracOf(s.WantAmount, 65535-uint32(s.FilledRatio), 65535)
	return give, want
}

func fracOf(v *big.Int, num, den uint32) *big.Int {
	out := new(big.Int).Mul(nz(v), big.NewInt(int64(num)))
	return out.Div(out, big.NewInt(int64(den)))
}
