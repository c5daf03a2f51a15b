package core

// entity_tx.go – the EntityTx tagged union and its canonical
// ordering, identical in shape to AccountTx's.

import (
	"sort"

	"github.com/google/uuid"
)

// NewProposalId returns a fresh, collision-resistant proposal identifier
// for a propose EntityTx.
func NewProposalId() string {
	return uuid.NewString()
}

// EntityTxKind enumerates the EntityTx variants.
type EntityTxKind uint8

const (
	EntityTxChat EntityTxKind = iota
	EntityTxPropose
	EntityTxVote
	EntityTxExecute
	EntityTxAccount
	EntityTxObserveJurisdiction
	EntityTxOpenAccount
)

// MaxChatMessageBytes bounds chat tx payload size.
const MaxChatMessageBytes = 4096

// EntityTx is one entity-level transaction.
type EntityTx struct {
	Kind   EntityTxKind
	Nonce  uint64
	Signer SignerId

	// chat
	Message string

	// propose / vote / execute
	ProposalId string
	Action     string
	Choice     string
	Comment    string

	// account
	Counterparty EntityId
	AccountTx    AccountTx

	// observe_jurisdiction
	Event JurisdictionEvent

	insertionIndex int
}

// SortEntityTxs sorts txs in place per (nonce, signer, kind, insertion
// index), the same ambiguity-resolved order as AccountTx.
func SortEntityTxs(txs []EntityTx) {
	for i := range txs {
		txs[i].insertionIndex = i
	}
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if a.Nonce != b.Nonce {
			return a.Nonce < b.Nonce
		}
		if a.Signer != b.Signer {
			return a.Signer < b.Signer
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.insertionIndex < b.insertionIndex
	})
}

func encodeEntityTx(tx EntityTx) []byte {
	e := NewEncoder()
	e.Uint32(uint32(tx.Kind))
	e.Uint64(tx.Nonce)
	e.String(string(tx.Signer))
	e.String(tx.Message)
	e.String(tx.ProposalId)
	e.String(tx.Action)
	e.String(tx.Choice)
	e.String(tx.Comment)
	e.Raw(tx.Counterparty[:])
	e.Raw(encodeAccountTx(tx.AccountTx))
	e.Raw(encodeJurisdictionEvent(tx.Event))
	return e.Bytes()
}
