package core

// jurisdiction.go – the observed jurisdiction event contract
// and the settlement/dispute intents this core produces for it.
// Generalizes an escrow Finalize() payout (moving funds between an
// escrow address and the two parties) into the {tokenId, leftDiff,
// rightDiff, collateralDiff, ondeltaDiff} cooperativeUpdate shape, and
// an InitiateClose signed-state handoff into the dispute payload.

import (
	"fmt"
	"math/big"
)

// JurisdictionEventKind enumerates the events observed from the contract
// layer.
type JurisdictionEventKind uint8

const (
	EventEntityRegistered JurisdictionEventKind = iota
	EventGovernanceEnabled
	EventReserveUpdated
	EventSettlementProcessed
)

// JurisdictionEvent is one abstract event from the jurisdiction contract
// layer, idempotent by (TxHash, LogIndex).
type JurisdictionEvent struct {
	Kind     JurisdictionEventKind
	TxHash   Hash256
	LogIndex uint32

	// EntityRegistered
	EntityNumber uint64
	BoardHash    Hash256

	// GovernanceEnabled
	Entity          EntityId
	ControlTokenId  TokenId
	DividendTokenId TokenId

	// ReserveUpdated
	TokenId   TokenId
	NewAmount *big.Int

	// SettlementProcessed
	LeftEntity    EntityId
	RightEntity   EntityId
	NewCollateral *big.Int
	NewOndelta    *big.Int
}

func encodeJurisdictionEvent(ev JurisdictionEvent) []byte {
	e := NewEncoder()
	e.Uint32(uint32(ev.Kind))
	e.Raw(ev.TxHash[:])
	e.Uint32(ev.LogIndex)
	e.Uint64(ev.EntityNumber)
	e.Raw(ev.BoardHash[:])
	e.Raw(ev.Entity[:])
	e.Uint32(uint32(ev.ControlTokenId))
	e.Uint32(uint32(ev.DividendTokenId))
	e.Uint32(uint32(ev.TokenId))
	e.BigInt(nz(ev.NewAmount))
	e.Raw(ev.LeftEntity[:])
	e.Raw(ev.RightEntity[:])
	e.BigInt(nz(ev.NewCollateral))
	e.BigInt(nz(ev.NewOndelta))
	return e.Bytes()
}

// eventKey is the idempotence key for a jurisdiction event.
func eventKey(ev JurisdictionEvent) string {
	return fmt.Sprintf("%x:%d", ev.TxHash[:], ev.LogIndex)
}

//---------------------------------------------------------------------
// Outbound intents
//---------------------------------------------------------------------

// CooperativeUpdateIntent is the settlement argument set produced for one
// affected token in an account closing cooperatively.
type CooperativeUpdateIntent struct {
	TokenId        TokenId
	LeftDiff       *big.Int
	RightDiff      *big.Int
	CollateralDiff *big.Int
	OndeltaDiff    *big.Int
}

// BuildCooperativeUpdate computes the settlement intent for tokenId by
// diffing the account's current Delta against the values the
// jurisdiction last observed (priorCollateral, priorOndelta). Nothing in
// this package calls it when an account reaches CLOSED via approve_close;
// callers invoke it directly.
func BuildCooperativeUpdate(d Delta, priorCollateral, priorOndelta *big.Int) CooperativeUpdateIntent {
	collateralDiff := new(big.Int).Sub(nz(d.Collateral), nz(priorCollateral))
	ondeltaDiff := new(big.Int).Sub(nz(d.Ondelta), nz(priorOndelta))
	// leftDiff is -ondeltaDiff and rightDiff is +ondeltaDiff; collateralDiff
	// is reported on its own and is not added to either side's reserve
	// diff.
	leftDiff := new(big.Int).Neg(ondeltaDiff)
	rightDiff := new(big.Int).Set(ondeltaDiff)
	return CooperativeUpdateIntent{
		TokenId:        d.TokenId,
		LeftDiff:       leftDiff,
		RightDiff:      rightDiff,
		CollateralDiff: collateralDiff,
		OndeltaDiff:    ondeltaDiff,
	}
}

// DisputeIntent is the payload an on-chain contract needs to enforce an
// account's last bilaterally-signed frame.
type DisputeIntent struct {
	Counterparty  EntityId
	PrevStateHash Hash256
	PostStateHash Hash256
	Txs           []AccountTx
	LeftSig       []byte
	RightSig      []byte
}

// BuildDisputeIntent builds the dispute payload from an account's last
// committed frame .
func BuildDisputeIntent(a *AccountMachine) (DisputeIntent, bool) {
	frame, ok := a.LastCommittedFrame()
	if !ok {
		return DisputeIntent{}, false
	}
	return DisputeIntent{
		Counterparty:  a.Counterparty,
		PrevStateHash: frame.PrevStateHash,
		PostStateHash: frame.PostStateHash,
		Txs:           frame.Txs,
		LeftSig:       frame.LeftSig,
		RightSig:      frame.RightSig,
	}, true
}
