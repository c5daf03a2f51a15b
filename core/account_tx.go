package core

// account_tx.go – the AccountTx tagged union and its
// canonical total ordering. Dynamic-typing on string `type` fields
// is replaced by an explicit Kind discriminator the canonical
// encoder serializes up front.

import (
	"math/big"
	"sort"
)

// AccountTxKind enumerates the AccountTx variants. The numeric value is
// part of the canonical ordering and must never be renumbered once
// committed frames reference it.
type AccountTxKind uint8

const (
	TxOpenAccount AccountTxKind = iota
	TxAddDelta
	TxSetCreditLimit
	TxDirectPayment
	TxAddLock
	TxSettleLock
	TxCancelLock
	TxAddSwapOffer
	TxFillSwapOffer
	TxCancelSwapOffer
	TxRequestWithdraw
	TxRequestClose
	TxApproveClose
)

// AccountTx is one bilateral account transaction. Only the fields
// relevant to Kind are populated; this mirrors a tagged union without
// requiring a Go sum type.
type AccountTx struct {
	Kind  AccountTxKind
	Nonce uint64 // submitting party's account-local counter
	From  Side   // submitter

	TokenId TokenId
	Amount  *big.Int

	// set_credit_limit
	NewLeftCreditLimit  *big.Int
	NewRightCreditLimit *big.Int

	// add_lock / settle_lock / cancel_lock
	Lock     *HashLock
	OfferId  string
	Preimage []byte

	// add_swap_offer / fill_swap_offer / cancel_swap_offer
	Swap      *SwapOffer
	FillRatio uint16

	// request_withdraw
	NewLeftAllowence  *big.Int
	NewRightAllowence *big.Int

	// insertion index on the proposer, used only as the last sort key;
	// not part of the canonical encoding.
	insertionIndex int
}

// SortAccountTxs sorts txs in place by (nonce, from, kind, insertion
// index), the fixed ambiguity-resolution order for a batch that reaches
// both sides out of submission order. Must not be silently changed once
// frames referencing this order are committed.
func SortAccountTxs(txs []AccountTx) {
	for i := range txs {
		txs[i].insertionIndex = i
	}
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if a.Nonce != b.Nonce {
			return a.Nonce < b.Nonce
		}
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.insertionIndex < b.insertionIndex
	})
}

// encodeAccountTx canonically encodes a single tx for frame hashing.
func encodeAccountTx(tx AccountTx) []byte {
	e := NewEncoder()
	e.Uint32(uint32(tx.Kind))
	e.Uint64(tx.Nonce)
	e.Uint32(uint32(tx.From))
	e.Uint32(uint32(tx.TokenId))
	e.BigInt(nz(tx.Amount))
	e.BigInt(nz(tx.NewLeftCreditLimit))
	e.BigInt(nz(tx.NewRightCreditLimit))
	if tx.Lock != nil {
		e.Bool(true)
		e.Raw(encodeHashLock(*tx.Lock))
	} else {
		e.Bool(false)
	}
	e.String(tx.OfferId)
	e.Bytes_(tx.Preimage)
	if tx.Swap != nil {
		e.Bool(true)
		e.Raw(encodeSwapOffer(*tx.Swap))
	} else {
		e.Bool(false)
	}
	e.Uint32(uint32(tx.FillRatio))
	e.BigInt(nz(tx.NewLeftAllowence))
	e.BigInt(nz(tx.NewRightAllowence))
	return e.Bytes()
}
