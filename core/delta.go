package core

// delta.go – per-token Delta, its derived canonical quantity,
// the capacity invariant, and the collateral/credit split used for
// display and routing. Generalizes state_channel.go's
// Channel{BalanceA, BalanceB} single-balance pair into the full
// ondelta/offdelta/collateral/credit-limit/allowance model.

import "math/big"

// Delta is the per-token account state.
type Delta struct {
	TokenId TokenId

	Collateral *big.Int // >= 0, locked on-chain backing
	Ondelta    *big.Int // on-chain committed delta
	Offdelta   *big.Int // off-chain committed delta

	LeftCreditLimit  *big.Int // >= 0
	RightCreditLimit *big.Int // >= 0

	LeftAllowence  *big.Int // >= 0
	RightAllowence *big.Int // >= 0

	// Locks against this token, keyed by offerId: pending and settled ones
	// (cancel_lock removes a lock from the map).
	Locks map[string]*HashLock
}

// NewDelta returns a zeroed Delta for tokenId with all big.Int fields set
// to non-nil zero values.
func NewDelta(tokenId TokenId) Delta {
	return Delta{
		TokenId:          tokenId,
		Collateral:       big.NewInt(0),
		Ondelta:          big.NewInt(0),
		Offdelta:         big.NewInt(0),
		LeftCreditLimit:  big.NewInt(0),
		RightCreditLimit: big.NewInt(0),
		LeftAllowence:    big.NewInt(0),
		RightAllowence:   big.NewInt(0),
		Locks:            make(map[string]*HashLock),
	}
}

// Clone deep-copies d, since big.Int and the lock map are reference types.
func (d Delta) Clone() Delta {
	out := Delta{
		TokenId:          d.TokenId,
		Collateral:       new(big.Int).Set(nz(d.Collateral)),
		Ondelta:          new(big.Int).Set(nz(d.Ondelta)),
		Offdelta:         new(big.Int).Set(nz(d.Offdelta)),
		LeftCreditLimit:  new(big.Int).Set(nz(d.LeftCreditLimit)),
		RightCreditLimit: new(big.Int).Set(nz(d.RightCreditLimit)),
		LeftAllowence:    new(big.Int).Set(nz(d.LeftAllowence)),
		RightAllowence:   new(big.Int).Set(nz(d.RightAllowence)),
		Locks:            make(map[string]*HashLock, len(d.Locks)),
	}
	for id, l := range d.Locks {
		cp := *l
		out.Locks[id] = &cp
	}
	return out
}

func nz(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// activeLockSums returns sum(activeLeftLocks), sum(activeRightLocks) for
// locks not yet settled or cancelled, as of the given height.
func (d Delta) activeLockSums(height uint64) (left, right *big.Int) {
	left, right = big.NewInt(0), big.NewInt(0)
	for _, l := range d.Locks {
		if l.Status != LockPending {
			continue
		}
		if l.ExpiryHeight <= height {
			continue // expired locks no longer contribute; they await cancel_lock
		}
		if l.Side == SideLeft {
			left.Add(left, l.Amount)
		} else {
			right.Add(right, l.Amount)
		}
	}
	return left, right
}

// Value is the canonical derived quantity:
// delta = ondelta + offdelta + sum(activeLeftLocks) - sum(activeRightLocks).
func (d Delta) Value(height uint64) *big.Int {
	left, right := d.activeLockSums(height)
	v := new(big.Int).Add(nz(d.Ondelta), nz(d.Offdelta))
	v.Add(v, left)
	v.Sub(v, right)
	return v
}

// CheckCapacity enforces -leftCreditLimit <= delta <= collateral + rightCreditLimit.
func (d Delta) CheckCapacity(height uint64) error {
	v := d.Value(height)
	lower := new(big.Int).Neg(nz(d.LeftCreditLimit))
	upper := new(big.Int).Add(nz(d.Collateral), nz(d.RightCreditLimit))
	if v.Cmp(lower) < 0 {
		return &CapacityViolation{TokenId: d.TokenId, Delta: v.String(), Reason: "below -leftCreditLimit"}
	}
	if v.Cmp(upper) > 0 {
		return &CapacityViolation{TokenId: d.TokenId, Delta: v.String(), Reason: "above collateral+rightCreditLimit"}
	}
	return nil
}

// Split is the derived collateral/credit split used for display and
// routing only; it has no bearing on consensus.
type Split struct {
	InCredit      *big.Int
	InCollateral  *big.Int
	OutCollateral *big.Int
	OutCredit     *big.Int
	OutCapacity   *big.Int
	InCapacity    *big.Int
}

// Split computes the derived split for the current delta value at height.
func (d Delta) Split(height uint64) Split {
	value := d.Value(height)
	collateral := nz(d.Collateral)
	s := Split{
		InCredit:      big.NewInt(0),
		InCollateral:  big.NewInt(0),
		OutCollateral: big.NewInt(0),
		OutCredit:     big.NewInt(0),
	}
	switch {
	case value.Sign() <= 0:
		s.InCredit = new(big.Int).Neg(value)
	case value.Cmp(collateral) <= 0:
		s.InCollateral = new(big.Int).Set(value)
		s.OutCollateral = new(big.Int).Sub(collateral, value)
	default:
		s.OutCredit = new(big.Int).Sub(value, collateral)
		s.OutCollateral = big.NewInt(0)
	}
	s.OutCapacity = new(big.Int).Sub(collateral, value)
	s.OutCapacity.Add(s.OutCapacity, nz(d.RightCreditLimit))
	s.InCapacity = new(big.Int).Add(value, nz(d.LeftCreditLimit))
	return s
}

// encodeDelta canonically encodes a Delta for hashing: fields
// in struct-declaration order, then every lock in d.Locks (pending or
// settled) appended in ascending offerId order.
func encodeDelta(d Delta) []byte {
	e := NewEncoder()
	e.Uint32(uint32(d.TokenId))
	e.BigInt(nz(d.Collateral))
	e.BigInt(nz(d.Ondelta))
	e.BigInt(nz(d.Offdelta))
	e.BigInt(nz(d.LeftCreditLimit))
	e.BigInt(nz(d.RightCreditLimit))
	e.BigInt(nz(d.LeftAllowence))
	e.BigInt(nz(d.RightAllowence))
	lockKeys := make(map[string][]byte, len(d.Locks))
	for id, l := range d.Locks {
		lockKeys[id] = encodeHashLock(*l)
	}
	for _, id := range StringMapKeys(lockKeys) {
		e.String(id)
		e.Raw(lockKeys[id])
	}
	return e.Bytes()
}
