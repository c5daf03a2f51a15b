package core

// account_machine.go – the per-pair account state and the
// bilateral frame protocol. Generalizes a single-signed-state
// OpenChannel/UpdateState/InitiateClose/Challenge/Finalize handoff
// (state_channel.go) into a full propose/ack/rollback protocol over an
// ordered, atomically-applied AccountTx batch.

import (
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus uint8

const (
	StatusActive AccountStatus = iota
	StatusClosing
	StatusClosed
	StatusDisputing
)

// protoState is the bilateral frame protocol's local state with respect
// to a pending frame.
type protoState uint8

const (
	protoIdle protoState = iota
	protoProposing
	protoAcking
)

// DefaultResendAfterTicks is how many ticks a proposer waits without an
// ack before resending an identical pending frame, absent a configured
// override.
const DefaultResendAfterTicks = 8

// accountState is the full speculatively-applied state a frame's txs are
// replayed against: the delta map plus the non-delta bits (swap offers,
// lifecycle status) that AccountTx kinds also mutate. It is cloned before
// speculative application so a rejected batch never touches committed
// state.
type accountState struct {
	deltas     map[TokenId]Delta
	swapOffers map[string]*SwapOffer
	status     AccountStatus
}

func (s *accountState) clone() *accountState {
	out := &accountState{
		deltas:     cloneDeltas(s.deltas),
		swapOffers: make(map[string]*SwapOffer, len(s.swapOffers)),
		status:     s.status,
	}
	for id, o := range s.swapOffers {
		cp := *o
		out.swapOffers[id] = &cp
	}
	return out
}

// AccountMachine owns one ordered pair's cryptographic account state and
// runs the bilateral frame protocol against it.
type AccountMachine struct {
	Self               EntityId
	Counterparty       EntityId
	counterpartyPubKey []byte
	keys               *KeyPair
	IsLeft             bool

	state accountState

	FrameId          uint64
	CooperativeNonce uint64
	DisputeNonce     uint64

	Mempool []AccountTx

	proto             protoState
	pendingFrame      *Frame
	pendingOurSig     []byte
	pendingTheirSig   []byte
	ticksSincePropose uint64

	frameHistory *lru.Cache[uint64, Frame] // bounded, pruned once both sides have acked later frames

	resendAfterTicks int

	RollbackCount uint32

	closingDeadlineTick uint64 // not set by any tx kind; approve_close does not wait on it (see DESIGN.md Open Questions)

	logger *log.Logger
	height uint64 // current jurisdiction block height, for lock expiry
}

// DefaultFrameHistorySize is the frameHistory capacity used when the
// caller supplies no configured value (zero or negative).
const DefaultFrameHistorySize = 256

// NewAccountMachine constructs an AccountMachine for the pair (self,
// counterparty). isLeft is fixed for the machine's lifetime.
// frameHistorySize bounds frameHistory; pass DefaultFrameHistorySize (or
// <= 0) to use the default.
func NewAccountMachine(self, counterparty EntityId, keys *KeyPair, counterpartyPubKey []byte, logger *log.Logger, frameHistorySize int) *AccountMachine {
	if frameHistorySize <= 0 {
		frameHistorySize = DefaultFrameHistorySize
	}
	hist, _ := lru.New[uint64, Frame](frameHistorySize)
	return &AccountMachine{
		Self:               self,
		Counterparty:       counterparty,
		counterpartyPubKey: counterpartyPubKey,
		keys:               keys,
		IsLeft:             IsLeft(self, counterparty),
		state: accountState{
			deltas:     make(map[TokenId]Delta),
			swapOffers: make(map[string]*SwapOffer),
			status:     StatusActive,
		},
		frameHistory:     hist,
		logger:           logger,
		resendAfterTicks: DefaultResendAfterTicks,
	}
}

// SetResendAfterTicks overrides how many ticks Tick waits without an ack
// before resending the pending frame. n <= 0 is ignored.
func (a *AccountMachine) SetResendAfterTicks(n int) {
	if n > 0 {
		a.resendAfterTicks = n
	}
}

// Root returns the current account root hash (the prevStateHash of the
// next frame), over the per-token deltas only.
func (a *AccountMachine) Root() Hash256 { return accountRoot(a.state.deltas) }

// Delta returns a copy of the current Delta for tokenId, or a zero Delta
// if untracked.
func (a *AccountMachine) Delta(tokenId TokenId) Delta {
	if d, ok := a.state.deltas[tokenId]; ok {
		return d.Clone()
	}
	return NewDelta(tokenId)
}

// Status returns the account's lifecycle status.
func (a *AccountMachine) Status() AccountStatus { return a.state.status }

// SwapOffer returns a copy of the offer with the given id, if present.
func (a *AccountMachine) SwapOffer(offerId string) (SwapOffer, bool) {
	o, ok := a.state.swapOffers[offerId]
	if !ok {
		return SwapOffer{}, false
	}
	return *o, true
}

// SetHeight updates the jurisdiction height used for lock expiry checks.
func (a *AccountMachine) SetHeight(h uint64) { a.height = h }

// AccountSnapshot is a read-only introspection view of one AccountMachine,
// for operator tooling and tests; it carries no mutable references back
// into the machine's internal state.
type AccountSnapshot struct {
	Self          EntityId
	Counterparty  EntityId
	IsLeft        bool
	Status        AccountStatus
	FrameId       uint64
	RollbackCount uint32
	Root          Hash256
	Deltas        map[TokenId]Delta
}

// Snapshot returns a point-in-time copy of the account's externally
// visible state, the equivalent of listing one channel's balances and
// status without exposing it over an RPC surface.
func (a *AccountMachine) Snapshot() AccountSnapshot {
	deltas := make(map[TokenId]Delta, len(a.state.deltas))
	for id, d := range a.state.deltas {
		deltas[id] = d.Clone()
	}
	return AccountSnapshot{
		Self:          a.Self,
		Counterparty:  a.Counterparty,
		IsLeft:        a.IsLeft,
		Status:        a.state.status,
		FrameId:       a.FrameId,
		RollbackCount: a.RollbackCount,
		Root:          a.Root(),
		Deltas:        deltas,
	}
}

// SubmitTx appends tx to the local mempool in insertion order.
func (a *AccountMachine) SubmitTx(tx AccountTx) {
	a.Mempool = append(a.Mempool, tx)
}

//---------------------------------------------------------------------
// Proposing
//---------------------------------------------------------------------

// TryPropose attempts IDLE -> PROPOSING: if the mempool is non-empty and
// the machine is idle, it assembles, signs and stores a pending frame and
// returns the FramePropose to emit. Invalid txs are filtered out of the
// batch and returned separately for the caller to record in failedTxs.
func (a *AccountMachine) TryPropose(now uint64) (*FramePropose, []TxFailure, error) {
	if a.proto != protoIdle {
		return nil, nil, nil
	}
	if len(a.Mempool) == 0 {
		return nil, nil, nil
	}
	if a.state.status == StatusClosed || a.state.status == StatusDisputing {
		return nil, nil, nil
	}

	sorted := make([]AccountTx, len(a.Mempool))
	copy(sorted, a.Mempool)
	SortAccountTxs(sorted)

	ws := a.state.clone()
	valid := make([]AccountTx, 0, len(sorted))
	var failures []TxFailure
	for _, tx := range sorted {
		if err := a.applyTx(ws, tx); err != nil {
			failures = append(failures, TxFailure{Tx: tx, Err: err})
			continue
		}
		valid = append(valid, tx)
	}
	if len(valid) == 0 {
		return nil, failures, nil
	}

	frame := Frame{
		FrameId:        a.FrameId + 1,
		Timestamp:      now,
		PrevStateHash:  a.Root(),
		Txs:            valid,
		PostStateHash:  accountRoot(ws.deltas),
		ProposerIsLeft: a.IsLeft,
	}
	sig, err := Sign(a.keys, frame.Hash())
	if err != nil {
		return nil, failures, wrap(err, "sign proposed frame")
	}

	a.pendingFrame = &frame
	a.pendingOurSig = sig
	a.pendingTheirSig = nil
	a.proto = protoProposing
	a.ticksSincePropose = 0
	a.removeFromMempool(valid)

	return &FramePropose{From: a.Self, Counterparty: a.Counterparty, Frame: frame, Sig: sig}, failures, nil
}

// Tick advances the resend timer; if exceeded while PROPOSING, it
// returns the identical pending frame to resend (idempotent: same
// frameId + postStateHash).
func (a *AccountMachine) Tick() *FramePropose {
	if a.proto != protoProposing || a.pendingFrame == nil {
		return nil
	}
	a.ticksSincePropose++
	if a.ticksSincePropose < uint64(a.resendAfterTicks) {
		return nil
	}
	a.ticksSincePropose = 0
	return &FramePropose{From: a.Self, Counterparty: a.Counterparty, Frame: *a.pendingFrame, Sig: a.pendingOurSig}
}

//---------------------------------------------------------------------
// Receiving a proposal
//---------------------------------------------------------------------

// TxFailure pairs a rejected tx with the reason it was rejected.
type TxFailure struct {
	Tx  AccountTx
	Err error
}

// ReceivePropose handles an inbound FRAME_PROPOSE, covering IDLE->ACKING,
// the left-ignores/right-rolls-back collision rule, and replay
// idempotence for an already-committed frameId.
func (a *AccountMachine) ReceivePropose(msg FramePropose) (*FrameAck, *FrameNack, error) {
	if a.proto == protoProposing {
		if a.IsLeft {
			// Left ignores a colliding propose; the right side will roll back.
			return nil, nil, nil
		}
		a.rollbackPending()
	}

	if msg.Frame.FrameId <= a.FrameId {
		// Already committed: idempotent resend, no mutation.
		if hist, ok := a.frameHistory.Get(msg.Frame.FrameId); ok && hist.PostStateHash == msg.Frame.PostStateHash {
			return &FrameAck{From: a.Self, Counterparty: a.Counterparty, FrameId: msg.Frame.FrameId, Sig: hist.sigFor(a.IsLeft)}, nil, nil
		}
		return nil, nil, &ReplayDetected{Key: "frame"}
	}
	if msg.Frame.FrameId != a.FrameId+1 {
		return nil, nil, &FrameMismatch{ExpectedPrevHash: a.Root(), GotPrevHash: msg.Frame.PrevStateHash, FrameId: msg.Frame.FrameId}
	}
	if msg.Frame.PrevStateHash != a.Root() {
		a.state.status = StatusDisputing
		if a.logger != nil {
			a.logger.WithFields(log.Fields{
				"frameId": msg.Frame.FrameId,
				"have":    a.Root(),
				"got":     msg.Frame.PrevStateHash,
			}).Error("frame prevStateHash mismatch, entering DISPUTING")
		}
		return nil, nil, &FrameMismatch{ExpectedPrevHash: a.Root(), GotPrevHash: msg.Frame.PrevStateHash, FrameId: msg.Frame.FrameId}
	}
	if !VerifySignature(a.counterpartyPubKey, msg.Frame.Hash(), msg.Sig) {
		nack := &FrameNack{From: a.Self, Counterparty: a.Counterparty, FrameId: msg.Frame.FrameId, Reason: "bad signature"}
		return nil, nack, &ValidationError{Kind: "frame_signature", Reason: "signature verification failed"}
	}

	ws := a.state.clone()
	for _, tx := range msg.Frame.Txs {
		if err := a.applyTx(ws, tx); err != nil {
			nack := &FrameNack{From: a.Self, Counterparty: a.Counterparty, FrameId: msg.Frame.FrameId, Reason: err.Error()}
			return nil, nack, err
		}
	}
	if accountRoot(ws.deltas) != msg.Frame.PostStateHash {
		nack := &FrameNack{From: a.Self, Counterparty: a.Counterparty, FrameId: msg.Frame.FrameId, Reason: "postStateHash mismatch"}
		return nil, nack, &ValidationError{Kind: "post_state_hash", Reason: "computed root does not match proposed postStateHash"}
	}

	ourSig, err := Sign(a.keys, msg.Frame.Hash())
	if err != nil {
		return nil, nil, wrap(err, "sign ack")
	}

	committed := msg.Frame
	if a.IsLeft {
		committed.LeftSig, committed.RightSig = ourSig, msg.Sig
	} else {
		committed.LeftSig, committed.RightSig = msg.Sig, ourSig
	}
	a.commit(committed, ws)

	return &FrameAck{From: a.Self, Counterparty: a.Counterparty, FrameId: msg.Frame.FrameId, Sig: ourSig}, nil, nil
}

// rollbackPending discards the local pending frame, requeues its txs at
// the tail of the mempool preserving original order, and increments
// rollbackCount.
func (a *AccountMachine) rollbackPending() {
	if a.pendingFrame == nil {
		return
	}
	a.Mempool = append(a.Mempool, a.pendingFrame.Txs...)
	a.pendingFrame = nil
	a.pendingOurSig = nil
	a.pendingTheirSig = nil
	a.proto = protoIdle
	a.RollbackCount++
}

//---------------------------------------------------------------------
// Receiving an ack / nack for our own proposal
//---------------------------------------------------------------------

// ReceiveAck completes PROPOSING -> committed once the counterparty's
// signature matches our pending frame.
func (a *AccountMachine) ReceiveAck(msg FrameAck) error {
	if a.proto != protoProposing || a.pendingFrame == nil {
		return nil // stale/duplicate ack, nothing to do
	}
	if msg.FrameId != a.pendingFrame.FrameId {
		return nil
	}
	if !VerifySignature(a.counterpartyPubKey, a.pendingFrame.Hash(), msg.Sig) {
		return &ValidationError{Kind: "frame_ack_signature", Reason: "ack signature verification failed"}
	}
	frame := *a.pendingFrame
	if a.IsLeft {
		frame.LeftSig, frame.RightSig = a.pendingOurSig, msg.Sig
	} else {
		frame.LeftSig, frame.RightSig = msg.Sig, a.pendingOurSig
	}

	ws := a.state.clone()
	for _, tx := range frame.Txs {
		if err := a.applyTx(ws, tx); err != nil {
			return &InvariantBroken{Invariant: "post-ack-replay", Detail: err.Error()}
		}
	}
	a.commit(frame, ws)
	return nil
}

// ReceiveNack rolls back our own pending proposal (the sender must roll
// back; rejection semantics).
func (a *AccountMachine) ReceiveNack(msg FrameNack) {
	if a.proto != protoProposing || a.pendingFrame == nil {
		return
	}
	if msg.FrameId != a.pendingFrame.FrameId {
		return
	}
	a.rollbackPending()
}

// commit finalizes a fully-signed frame: advances frameId, stores the new
// state, appends to frameHistory, clears acked txs from the mempool and
// returns to IDLE.
func (a *AccountMachine) commit(frame Frame, ws *accountState) {
	a.state = *ws
	a.FrameId = frame.FrameId
	a.frameHistory.Add(frame.FrameId, frame)
	a.removeFromMempool(frame.Txs)
	a.pendingFrame = nil
	a.pendingOurSig = nil
	a.pendingTheirSig = nil
	a.proto = protoIdle
}

// LastCommittedFrame returns the most recently committed frame, used to
// build dispute intents.
func (a *AccountMachine) LastCommittedFrame() (Frame, bool) {
	return a.frameHistory.Peek(a.FrameId)
}

func (a *AccountMachine) removeFromMempool(applied []AccountTx) {
	if len(applied) == 0 {
		return
	}
	applyKey := func(tx AccountTx) [3]uint64 {
		return [3]uint64{tx.Nonce, uint64(tx.From), uint64(tx.Kind)}
	}
	seen := make(map[[3]uint64]int, len(applied))
	for _, tx := range applied {
		seen[applyKey(tx)]++
	}
	out := a.Mempool[:0]
	for _, tx := range a.Mempool {
		k := applyKey(tx)
		if seen[k] > 0 {
			seen[k]--
			continue
		}
		out = append(out, tx)
	}
	a.Mempool = out
}

func cloneDeltas(in map[TokenId]Delta) map[TokenId]Delta {
	out := make(map[TokenId]Delta, len(in))
	for id, d := range in {
		out[id] = d.Clone()
	}
	return out
}

// sigFor returns this frame's signature belonging to isLeft's side, used
// when resending an already-committed frame's ack.
func (f Frame) sigFor(isLeft bool) []byte {
	if isLeft {
		return f.LeftSig
	}
	return f.RightSig
}
