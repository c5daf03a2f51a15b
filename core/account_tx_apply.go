package core

// account_tx_apply.go – per-kind AccountTx validation and application
// against a speculative accountState. Each function validates first
// (ValidationError) and only mutates ws on success; the caller is
// responsible for discarding ws on any error so a rejected frame never
// touches committed state.

import "math/big"

// applyTx validates and applies a single tx to ws, in the AccountMachine's
// own frame of reference (isLeft, height).
func (a *AccountMachine) applyTx(ws *accountState, tx AccountTx) error {
	switch tx.Kind {
	case TxOpenAccount:
		return a.applyOpenAccount(ws, tx)
	case TxAddDelta:
		return a.applyAddDelta(ws, tx)
	case TxSetCreditLimit:
		return a.applySetCreditLimit(ws, tx)
	case TxDirectPayment:
		return a.applyDirectPayment(ws, tx)
	case TxAddLock:
		return a.applyAddLock(ws, tx)
	case TxSettleLock:
		return a.applySettleLock(ws, tx)
	case TxCancelLock:
		return a.applyCancelLock(ws, tx)
	case TxAddSwapOffer:
		return a.applyAddSwapOffer(ws, tx)
	case TxFillSwapOffer:
		return a.applyFillSwapOffer(ws, tx)
	case TxCancelSwapOffer:
		return a.applyCancelSwapOffer(ws, tx)
	case TxRequestWithdraw:
		return a.applyRequestWithdraw(ws, tx)
	case TxRequestClose:
		return a.applyRequestClose(ws, tx)
	case TxApproveClose:
		return a.applyApproveClose(ws, tx)
	default:
		return &ValidationError{Kind: "unknown_kind", Reason: "unrecognized AccountTx kind"}
	}
}

func requireActive(ws *accountState, allowClosing bool) error {
	if ws.status == StatusActive {
		return nil
	}
	if allowClosing && ws.status == StatusClosing {
		return nil
	}
	return &ValidationError{Kind: "bad_status", Reason: "account is not accepting this tx in its current status"}
}

// applyOpenAccount registers tracking for tx.TokenId; idempotent if the
// token is already tracked. AccountMachine is ACTIVE from construction
// (there is no separate "unopened" status), so open_account's only job
// is the delta registration, not the status transition.
func (a *AccountMachine) applyOpenAccount(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	if _, ok := ws.deltas[tx.TokenId]; !ok {
		ws.deltas[tx.TokenId] = NewDelta(tx.TokenId)
	}
	return nil
}

// applyAddDelta introduces tracking for a new tokenId; idempotent if the
// token is already tracked.
func (a *AccountMachine) applyAddDelta(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	if _, ok := ws.deltas[tx.TokenId]; ok {
		return nil
	}
	ws.deltas[tx.TokenId] = NewDelta(tx.TokenId)
	return nil
}

// applySetCreditLimit updates the submitting side's own credit limit.
func (a *AccountMachine) applySetCreditLimit(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	d, ok := ws.deltas[tx.TokenId]
	if !ok {
		return &ValidationError{Kind: "unknown_token", Reason: "set_credit_limit on untracked tokenId"}
	}
	if tx.From == SideLeft {
		if tx.NewLeftCreditLimit == nil || tx.NewLeftCreditLimit.Sign() < 0 {
			return &ValidationError{Kind: "bad_amount", Reason: "leftCreditLimit must be >= 0"}
		}
		d.LeftCreditLimit = new(big.Int).Set(tx.NewLeftCreditLimit)
	} else {
		if tx.NewRightCreditLimit == nil || tx.NewRightCreditLimit.Sign() < 0 {
			return &ValidationError{Kind: "bad_amount", Reason: "rightCreditLimit must be >= 0"}
		}
		d.RightCreditLimit = new(big.Int).Set(tx.NewRightCreditLimit)
	}
	if err := d.CheckCapacity(a.height); err != nil {
		return err
	}
	ws.deltas[tx.TokenId] = d
	return nil
}

// applyDirectPayment adjusts offdelta by +-amount, sign determined by the
// submitter's side: the left side paying the
// right increases offdelta, the right paying the left decreases it.
func (a *AccountMachine) applyDirectPayment(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	d, ok := ws.deltas[tx.TokenId]
	if !ok {
		return &ValidationError{Kind: "unknown_token", Reason: "direct_payment on untracked tokenId"}
	}
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return &ValidationError{Kind: "bad_amount", Reason: "direct_payment amount must be > 0"}
	}
	signed := new(big.Int).Set(tx.Amount)
	if tx.From == SideRight {
		signed.Neg(signed)
	}
	d.Offdelta = new(big.Int).Add(nz(d.Offdelta), signed)
	if err := d.CheckCapacity(a.height); err != nil {
		return err
	}
	ws.deltas[tx.TokenId] = d
	return nil
}

// applyAddLock inserts a pending HashLock.
func (a *AccountMachine) applyAddLock(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	if tx.Lock == nil {
		return &ValidationError{Kind: "missing_lock", Reason: "add_lock requires a HashLock payload"}
	}
	d, ok := ws.deltas[tx.TokenId]
	if !ok {
		return &ValidationError{Kind: "unknown_token", Reason: "add_lock on untracked tokenId"}
	}
	if _, exists := d.Locks[tx.Lock.OfferId]; exists {
		return &ValidationError{Kind: "duplicate_offer", Reason: "lock offerId already exists"}
	}
	if tx.Lock.Amount == nil || tx.Lock.Amount.Sign() <= 0 {
		return &ValidationError{Kind: "bad_amount", Reason: "lock amount must be > 0"}
	}
	lock := *tx.Lock
	lock.Status = LockPending
	d.Locks[lock.OfferId] = &lock
	if err := d.CheckCapacity(a.height); err != nil {
		delete(d.Locks, lock.OfferId)
		return err
	}
	ws.deltas[tx.TokenId] = d
	return nil
}

// applySettleLock reveals a preimage before expiry and converts the lock
// into an offdelta adjustment.
func (a *AccountMachine) applySettleLock(ws *accountState, tx AccountTx) error {
	d, ok := ws.deltas[tx.TokenId]
	if !ok {
		return &ValidationError{Kind: "unknown_token", Reason: "settle_lock on untracked tokenId"}
	}
	lock, ok := d.Locks[tx.OfferId]
	if !ok || lock.Status != LockPending {
		return &ValidationError{Kind: "unknown_lock", Reason: "settle_lock on missing or non-pending lock"}
	}
	if lock.ExpiryHeight <= a.height {
		return &ValidationError{Kind: "lock_expired", Reason: "settle_lock after expiry"}
	}
	if keccak(tx.Preimage) != lock.Hash {
		return &ValidationError{Kind: "bad_preimage", Reason: "preimage does not match lock hash"}
	}
	signed := new(big.Int).Set(lock.Amount)
	if lock.Side == SideRight {
		signed.Neg(signed)
	}
	d.Offdelta = new(big.Int).Add(nz(d.Offdelta), signed)
	lock.Status = LockSettled
	lock.Preimage = tx.Preimage
	if err := d.CheckCapacity(a.height); err != nil {
		lock.Status = LockPending
		lock.Preimage = nil
		return err
	}
	ws.deltas[tx.TokenId] = d
	return nil
}

// applyCancelLock drops a lock after expiry or by mutual agreement (both
// sides having signed the frame carrying this tx constitutes agreement).
func (a *AccountMachine) applyCancelLock(ws *accountState, tx AccountTx) error {
	d, ok := ws.deltas[tx.TokenId]
	if !ok {
		return &ValidationError{Kind: "unknown_token", Reason: "cancel_lock on untracked tokenId"}
	}
	lock, ok := d.Locks[tx.OfferId]
	if !ok || lock.Status != LockPending {
		return &ValidationError{Kind: "unknown_lock", Reason: "cancel_lock on missing or non-pending lock"}
	}
	delete(d.Locks, tx.OfferId)
	ws.deltas[tx.TokenId] = d
	return nil
}

// applyAddSwapOffer inserts a conditional swap offer.
func (a *AccountMachine) applyAddSwapOffer(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	if tx.Swap == nil {
		return &ValidationError{Kind: "missing_swap", Reason: "add_swap_offer requires a SwapOffer payload"}
	}
	if _, exists := ws.swapOffers[tx.Swap.OfferId]; exists {
		return &ValidationError{Kind: "duplicate_offer", Reason: "swap offerId already exists"}
	}
	if _, ok := ws.deltas[tx.Swap.GiveTokenId]; !ok {
		return &ValidationError{Kind: "unknown_token", Reason: "swap give token untracked"}
	}
	if _, ok := ws.deltas[tx.Swap.WantTokenId]; !ok {
		return &ValidationError{Kind: "unknown_token", Reason: "swap want token untracked"}
	}
	offer := *tx.Swap
	offer.FilledRatio = 0
	offer.Cancelled = false
	ws.swapOffers[offer.OfferId] = &offer
	return nil
}

// applyFillSwapOffer partially or fully fills an offer, moving give/want
// amounts between the two sides' deltas in proportion to fillRatio.
func (a *AccountMachine) applyFillSwapOffer(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	offer, ok := ws.swapOffers[tx.OfferId]
	if !ok || offer.Cancelled {
		return &ValidationError{Kind: "unknown_offer", Reason: "fill_swap_offer on missing or cancelled offer"}
	}
	if tx.FillRatio == 0 || uint32(offer.FilledRatio)+uint32(tx.FillRatio) > 65535 {
		return &ValidationError{Kind: "bad_ratio", Reason: "fillRatio out of range"}
	}
	give := ws.deltas[offer.GiveTokenId]
	want := ws.deltas[offer.WantTokenId]

	giveAmt := fracOf(offer.GiveAmount, uint32(tx.FillRatio), 65535)
	wantAmt := fracOf(offer.WantAmount, uint32(tx.FillRatio), 65535)

	// The offering side gives up GiveToken (moves like a payment from the
	// offering side) and receives WantToken (moves the opposite way).
	giveSigned := new(big.Int).Set(giveAmt)
	wantSigned := new(big.Int).Set(wantAmt)
	if offer.Side == SideRight {
		giveSigned.Neg(giveSigned)
		wantSigned.Neg(wantSigned)
	}
	wantSigned.Neg(wantSigned) // want token flows opposite to give token

	give.Offdelta = new(big.Int).Add(nz(give.Offdelta), giveSigned)
	want.Offdelta = new(big.Int).Add(nz(want.Offdelta), wantSigned)

	if err := give.CheckCapacity(a.height); err != nil {
		return err
	}
	if err := want.CheckCapacity(a.height); err != nil {
		return err
	}

	offer.FilledRatio += tx.FillRatio
	ws.deltas[offer.GiveTokenId] = give
	ws.deltas[offer.WantTokenId] = want
	return nil
}

// applyCancelSwapOffer removes a not-yet-filled offer.
func (a *AccountMachine) applyCancelSwapOffer(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	offer, ok := ws.swapOffers[tx.OfferId]
	if !ok {
		return &ValidationError{Kind: "unknown_offer", Reason: "cancel_swap_offer on missing offer"}
	}
	if offer.FilledRatio != 0 {
		return &ValidationError{Kind: "already_filled", Reason: "cannot cancel a partially filled offer"}
	}
	delete(ws.swapOffers, tx.OfferId)
	return nil
}

// applyRequestWithdraw marks an allowance for an eventual on-chain pull.
func (a *AccountMachine) applyRequestWithdraw(ws *accountState, tx AccountTx) error {
	if err := requireActive(ws, false); err != nil {
		return err
	}
	d, ok := ws.deltas[tx.TokenId]
	if !ok {
		return &ValidationError{Kind: "unknown_token", Reason: "request_withdraw on untracked tokenId"}
	}
	if tx.From == SideLeft {
		if tx.NewLeftAllowence == nil || tx.NewLeftAllowence.Sign() < 0 {
			return &ValidationError{Kind: "bad_amount", Reason: "leftAllowence must be >= 0"}
		}
		d.LeftAllowence = new(big.Int).Set(tx.NewLeftAllowence)
	} else {
		if tx.NewRightAllowence == nil || tx.NewRightAllowence.Sign() < 0 {
			return &ValidationError{Kind: "bad_amount", Reason: "rightAllowence must be >= 0"}
		}
		d.RightAllowence = new(big.Int).Set(tx.NewRightAllowence)
	}
	ws.deltas[tx.TokenId] = d
	return nil
}

// applyRequestClose moves the account to CLOSING; only settle_lock and
// cancel_lock are accepted afterward (enforced by requireActive).
func (a *AccountMachine) applyRequestClose(ws *accountState, tx AccountTx) error {
	if ws.status != StatusActive {
		return &ValidationError{Kind: "bad_status", Reason: "request_close requires an ACTIVE account"}
	}
	ws.status = StatusClosing
	return nil
}

// applyApproveClose moves the account to CLOSED. It builds no settlement
// args itself, and no EntityMachine or Runtime code path builds them when
// an account reaches CLOSED; BuildCooperativeUpdate (jurisdiction.go) has
// to be called explicitly.
func (a *AccountMachine) applyApproveClose(ws *accountState, tx AccountTx) error {
	if ws.status != StatusClosing {
		return &ValidationError{Kind: "bad_status", Reason: "approve_close requires a CLOSING account"}
	}
	for _, d := range ws.deltas {
		for _, l := range d.Locks {
			if l.Status == LockPending {
				return &ValidationError{Kind: "pending_locks", Reason: "cannot approve_close with pending locks"}
			}
		}
	}
	ws.status = StatusClosed
	return nil
}
