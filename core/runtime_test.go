package core

// runtime_test.go – the deterministic scheduler: one tick
// committing an entity-level chat frame, and ProcessUntilEmpty draining a
// full cross-entity account handshake end to end.

import (
	"path/filepath"
	"testing"
)

func newSingleReplicaEntity(t *testing.T, id EntityId, signer SignerId) *EntityMachine {
	t.Helper()
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	cfg := EntityConfig{Validators: []SignerId{signer}, Weights: map[SignerId]uint64{signer: 1}, Threshold: 1}
	return NewEntityMachine(id, signer, cfg, keys, map[SignerId][]byte{signer: keys.Public}, testLogger())
}

func openSnapshotLogForTest(t *testing.T) *SnapshotLog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.log")
	log, err := OpenSnapshotLog(path)
	if err != nil {
		t.Fatalf("OpenSnapshotLog: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestRuntimeTickCommitsChatFrame(t *testing.T) {
	var id EntityId
	id[31] = 0x21
	m := newSingleReplicaEntity(t, id, "s1")

	rt := NewRuntime(openSnapshotLogForTest(t), DefaultMaxTicksPerDrain)
	rt.Register(m)

	inbound := map[EntityId]EntityInbox{
		id: {Txs: []EntityTx{{Kind: EntityTxChat, Nonce: 1, Signer: "s1", Message: "hi"}}},
	}
	out := rt.Tick(RuntimeContext{Height: 1, Timestamp: 1000}, inbound)

	frame, ok := out.EntityFrames[id]
	if !ok || frame == nil {
		t.Fatalf("expected a proposed entity frame in tick output")
	}

	// CollectPrecommit wasn't driven by the caller yet; the frame is still
	// only a candidate until the proposer's own precommit (and any others
	// reaching threshold) are collected. With a single validator at
	// threshold 1 the proposer's self-signed precommit from TryPropose
	// already satisfies the quorum once collected explicitly.
	sig, _ := Sign(m.keys, frame.Hash())
	committed, err := m.CollectPrecommit(EntityPrecommit{Entity: id, Height: frame.Height, Signer: "s1", StateOk: true, Sig: sig})
	if err != nil {
		t.Fatalf("CollectPrecommit: %v", err)
	}
	if committed == nil || m.Height() != 1 {
		t.Fatalf("expected entity height 1 after collecting the threshold precommit")
	}
}

func TestRuntimeProcessUntilEmptyDrainsAccountHandshake(t *testing.T) {
	var leftId, rightId EntityId
	leftId[31] = 0x01
	rightId[31] = 0x02

	leftEntity := newSingleReplicaEntity(t, leftId, "sL")
	rightEntity := newSingleReplicaEntity(t, rightId, "sR")

	leftAcctKeys, _ := GenerateKeyPair()
	rightAcctKeys, _ := GenerateKeyPair()
	leftEntity.Accounts[rightId] = NewAccountMachine(leftId, rightId, leftAcctKeys, rightAcctKeys.Public, testLogger(), DefaultFrameHistorySize)
	rightEntity.Accounts[leftId] = NewAccountMachine(rightId, leftId, rightAcctKeys, leftAcctKeys.Public, testLogger(), DefaultFrameHistorySize)

	rt := NewRuntime(openSnapshotLogForTest(t), DefaultMaxTicksPerDrain)
	rt.Register(leftEntity)
	rt.Register(rightEntity)

	openTx := EntityTx{
		Kind:         EntityTxAccount,
		Nonce:        1,
		Signer:       "sL",
		Counterparty: rightId,
		AccountTx:    AccountTx{Kind: TxOpenAccount, Nonce: 1, From: SideLeft, TokenId: 3},
	}
	ctx := RuntimeContext{Height: 1, Timestamp: 1}
	inbound := map[EntityId]EntityInbox{leftId: {Txs: []EntityTx{openTx}}}

	first := rt.Tick(ctx, inbound)
	frame, ok := first.EntityFrames[leftId]
	if !ok {
		t.Fatalf("expected leftEntity to propose a frame forwarding the account tx")
	}
	sig, _ := Sign(leftEntity.keys, frame.Hash())
	if _, err := leftEntity.CollectPrecommit(EntityPrecommit{Entity: leftId, Height: frame.Height, Signer: "sL", StateOk: true, Sig: sig}); err != nil {
		t.Fatalf("CollectPrecommit: %v", err)
	}

	// first's own account loop already ran TryPropose speculatively (the
	// account tx is forwarded into the mempool as a side effect of
	// applyEntityTx, before entity consensus even finalizes), so the
	// resulting FramePropose is sitting unrouted in first.Account. Route it
	// forward by hand the way ProcessUntilEmpty would between ticks, since
	// ProcessUntilEmpty itself always starts a fresh drain from empty
	// inbound rather than resuming a prior Tick's output.
	next := routeBack(first)
	var rounds int
	for rounds = 0; rounds < 20; rounds++ {
		out := rt.Tick(RuntimeContext{Height: uint64(2 + rounds), Timestamp: uint64(2 + rounds)}, next)
		if len(out.EntityFrames) == 0 && len(out.Precommits) == 0 && allAccountEmpty(out.Account) {
			break
		}
		next = routeBack(out)
	}
	if rounds == 0 {
		t.Fatalf("expected at least one further tick to drain the account handshake")
	}

	left := leftEntity.Accounts[rightId]
	right := rightEntity.Accounts[leftId]
	if left.FrameId != 1 || right.FrameId != 1 {
		t.Fatalf("expected both account replicas to commit frame 1, got left=%d right=%d", left.FrameId, right.FrameId)
	}
	if left.Root() != right.Root() {
		t.Fatalf("account roots diverged after the runtime drained the handshake")
	}

	snaps := rt.ListAccounts(leftId)
	if len(snaps) != 1 {
		t.Fatalf("expected 1 account snapshot for leftId, got %d", len(snaps))
	}
	if snaps[0].Counterparty != rightId || snaps[0].FrameId != 1 {
		t.Fatalf("unexpected account snapshot: %+v", snaps[0])
	}
	if snaps[0].Root != left.Root() {
		t.Fatalf("snapshot root does not match live account root")
	}
}
