package core

// entity_tx_apply.go – per-kind EntityTx validation and application
//, the entity-level analogue of account_tx_apply.go.
// Dispatch of `account(...)` writes into the target AccountMachine's
// mempool is a deterministic side effect of apply itself: since both
// the proposer's speculative pass and every validator's replay apply
// the identical committed tx list in the identical order, the mempool
// ends up byte-identical everywhere without needing to be part of the
// hashed entityState.

import "math/big"

func (m *EntityMachine) applyEntityTx(ws *entityState, tx EntityTx, now uint64) error {
	switch tx.Kind {
	case EntityTxChat:
		return m.applyChat(ws, tx)
	case EntityTxPropose:
		return m.applyPropose(ws, tx)
	case EntityTxVote:
		return m.applyVote(ws, tx)
	case EntityTxExecute:
		return m.applyExecute(ws, tx)
	case EntityTxAccount:
		return m.applyAccountForward(ws, tx)
	case EntityTxObserveJurisdiction:
		return m.applyObserveJurisdiction(ws, tx, now)
	case EntityTxOpenAccount:
		return m.applyOpenAccount(ws, tx)
	default:
		return &ValidationError{Kind: "unknown_entity_tx_kind", Reason: "unrecognized kind"}
	}
}

func (m *EntityMachine) applyChat(ws *entityState, tx EntityTx) error {
	if len(tx.Message) > MaxChatMessageBytes {
		return &ValidationError{Kind: "chat_too_large", Reason: "message exceeds MaxChatMessageBytes"}
	}
	ws.messages.Push(tx.Message)
	return nil
}

func (m *EntityMachine) applyPropose(ws *entityState, tx EntityTx) error {
	if tx.ProposalId == "" {
		return &ValidationError{Kind: "empty_proposal_id", Reason: "proposalId required"}
	}
	if _, exists := ws.proposals[tx.ProposalId]; exists {
		return &ValidationError{Kind: "duplicate_proposal", Reason: tx.ProposalId}
	}
	ws.proposals[tx.ProposalId] = &Proposal{
		Action: tx.Action,
		Votes:  make(map[SignerId]string),
		Status: "open",
	}
	return nil
}

func (m *EntityMachine) applyVote(ws *entityState, tx EntityTx) error {
	p, ok := ws.proposals[tx.ProposalId]
	if !ok {
		return &ValidationError{Kind: "unknown_proposal", Reason: tx.ProposalId}
	}
	if p.Status != "open" {
		return &ValidationError{Kind: "proposal_closed", Reason: tx.ProposalId}
	}
	p.Votes[tx.Signer] = tx.Choice

	var yes uint64
	for signer, choice := range p.Votes {
		if choice == "yes" {
			yes += m.Config.Weights[signer]
		}
	}
	if yes >= m.Config.Threshold {
		p.Status = "passed"
	}
	return nil
}

func (m *EntityMachine) applyExecute(ws *entityState, tx EntityTx) error {
	p, ok := ws.proposals[tx.ProposalId]
	if !ok {
		return &ValidationError{Kind: "unknown_proposal", Reason: tx.ProposalId}
	}
	if p.Status != "passed" {
		return &ValidationError{Kind: "proposal_not_passed", Reason: tx.ProposalId}
	}
	p.Status = "executed"
	return nil
}

func (m *EntityMachine) applyAccountForward(ws *entityState, tx EntityTx) error {
	acct, ok := m.Accounts[tx.Counterparty]
	if !ok {
		return &ValidationError{Kind: "unknown_account", Reason: tx.Counterparty.String()}
	}
	acct.SubmitTx(tx.AccountTx)
	return nil
}

func (m *EntityMachine) applyOpenAccount(ws *entityState, tx EntityTx) error {
	if tx.Counterparty == m.EntityId {
		return &ValidationError{Kind: "self_account", Reason: "cannot open an account with self"}
	}
	if ws.openAccounts[tx.Counterparty] {
		return nil // idempotent: already opened
	}
	if _, exists := m.Accounts[tx.Counterparty]; !exists {
		pubKey, ok := m.counterpartyAccountPubKeys[tx.Counterparty]
		if !ok {
			return &ValidationError{Kind: "counterparty_key_unregistered", Reason: tx.Counterparty.String()}
		}
		m.Accounts[tx.Counterparty] = NewAccountMachine(m.EntityId, tx.Counterparty, m.keys, pubKey, m.logger, m.accountFrameHistorySize)
	}
	ws.openAccounts[tx.Counterparty] = true
	return nil
}

func (m *EntityMachine) applyObserveJurisdiction(ws *entityState, tx EntityTx, now uint64) error {
	ev := tx.Event
	key := eventKey(ev)
	if m.seenEvents[key] {
		return &ReplayDetected{Key: key}
	}
	m.seenEvents[key] = true

	switch ev.Kind {
	case EventReserveUpdated:
		ws.reserves[ev.TokenId] = new(big.Int).Set(nz(ev.NewAmount))
	case EventSettlementProcessed:
		acct, ok := m.Accounts[otherSide(m.EntityId, ev.LeftEntity, ev.RightEntity)]
		if ok {
			at := accountToken{counterparty: acct.Counterparty, token: ev.TokenId}
			m.priorCollateral[at] = new(big.Int).Set(nz(ev.NewCollateral))
			m.priorOndelta[at] = new(big.Int).Set(nz(ev.NewOndelta))
		}
	case EventEntityRegistered, EventGovernanceEnabled:
		// no control-plane state to mutate beyond the idempotence record.
	}
	return nil
}

func otherSide(self, left, right EntityId) EntityId {
	if self == left {
		return right
	}
	return left
}
