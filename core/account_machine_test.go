package core

// account_machine_test.go – the core open/commit/rollback/replay
// testable properties, against two wired AccountMachines standing in for
// E1 (left) and E2 (right).

import (
	"io"
	"math/big"
	"testing"

	log "github.com/sirupsen/logrus"
)

func testLogger() *log.Logger {
	lg := log.New()
	lg.SetOutput(io.Discard)
	return lg
}

// pair wires two AccountMachines that see each other as counterparty,
// with left.Self < right.Self so left really is the left party.
type pair struct {
	left, right           *AccountMachine
	leftId, rightId       EntityId
	leftKeys, rightKeys   *KeyPair
}

func newPair(t *testing.T) *pair {
	t.Helper()
	var leftId, rightId EntityId
	leftId[31] = 0x01
	rightId[31] = 0x02

	leftKeys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate left keys: %v", err)
	}
	rightKeys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate right keys: %v", err)
	}

	left := NewAccountMachine(leftId, rightId, leftKeys, rightKeys.Public, testLogger(), DefaultFrameHistorySize)
	right := NewAccountMachine(rightId, leftId, rightKeys, leftKeys.Public, testLogger(), DefaultFrameHistorySize)
	if !left.IsLeft || right.IsLeft {
		t.Fatalf("expected leftId to sort before rightId")
	}
	return &pair{left: left, right: right, leftId: leftId, rightId: rightId, leftKeys: leftKeys, rightKeys: rightKeys}
}

// deliver drives one proposer's TryPropose through to both sides'
// committed state, asserting bilateral byte equality and monotonic
// frameId along the way.
func (p *pair) deliver(t *testing.T, proposer, other *AccountMachine, now uint64) {
	t.Helper()
	beforeId := proposer.FrameId
	propose, failures, err := proposer.TryPropose(now)
	if err != nil {
		t.Fatalf("TryPropose: %v", err)
	}
	if propose == nil {
		t.Fatalf("TryPropose produced nothing (failures=%v)", failures)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected tx failures: %v", failures)
	}

	ack, nack, err := other.ReceivePropose(*propose)
	if err != nil {
		t.Fatalf("ReceivePropose: %v", err)
	}
	if nack != nil {
		t.Fatalf("unexpected nack: %+v", nack)
	}
	if ack == nil {
		t.Fatalf("ReceivePropose produced no ack")
	}
	if err := proposer.ReceiveAck(*ack); err != nil {
		t.Fatalf("ReceiveAck: %v", err)
	}

	if proposer.FrameId != beforeId+1 {
		t.Fatalf("frameId went backwards: %d to %d", beforeId, proposer.FrameId)
	}
	if proposer.FrameId != other.FrameId {
		t.Fatalf("frameId diverged: proposer=%d other=%d", proposer.FrameId, other.FrameId)
	}
	if proposer.Root() != other.Root() {
		t.Fatalf("account roots diverged after commit")
	}
}

func openBothSides(t *testing.T, p *pair, tokenId TokenId) {
	t.Helper()
	p.left.SubmitTx(AccountTx{Kind: TxOpenAccount, Nonce: 1, From: SideLeft, TokenId: tokenId})
	p.deliver(t, p.left, p.right, 1)
}

// scenario 1: account open + credit limits.
func TestScenarioAccountOpenAndCreditLimits(t *testing.T) {
	p := newPair(t)
	openBothSides(t, p, 0)

	limit := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))

	p.left.SubmitTx(AccountTx{Kind: TxSetCreditLimit, Nonce: 2, From: SideLeft, TokenId: 0, NewLeftCreditLimit: limit})
	p.deliver(t, p.left, p.right, 2)

	p.right.SubmitTx(AccountTx{Kind: TxSetCreditLimit, Nonce: 1, From: SideRight, TokenId: 0, NewRightCreditLimit: limit})
	p.deliver(t, p.right, p.left, 3)

	if p.left.FrameId != 3 {
		t.Fatalf("expected 3 committed frames (open + one credit limit each side), got frameId=%d", p.left.FrameId)
	}

	d := p.left.Delta(0)
	total := new(big.Int).Add(d.LeftCreditLimit, d.RightCreditLimit)
	expected := new(big.Int).Mul(big.NewInt(2_000_000), big.NewInt(1e18))
	if total.Cmp(expected) != 0 {
		t.Fatalf("expected total capacity %s, got %s", expected, total)
	}
	if p.left.Root() != p.right.Root() {
		t.Fatalf("final roots diverge")
	}
}

// scenario 2 + 3: direct payment then reverse payment.
func TestScenarioDirectAndReversePayment(t *testing.T) {
	p := newPair(t)
	openBothSides(t, p, 1)

	limit := big.NewInt(1_000_000)
	p.left.SubmitTx(AccountTx{Kind: TxSetCreditLimit, Nonce: 2, From: SideLeft, TokenId: 1, NewLeftCreditLimit: limit})
	p.deliver(t, p.left, p.right, 2)
	p.right.SubmitTx(AccountTx{Kind: TxSetCreditLimit, Nonce: 1, From: SideRight, TokenId: 1, NewRightCreditLimit: limit})
	p.deliver(t, p.right, p.left, 3)

	p.left.SubmitTx(AccountTx{Kind: TxDirectPayment, Nonce: 3, From: SideLeft, TokenId: 1, Amount: big.NewInt(200_000)})
	p.deliver(t, p.left, p.right, 4)

	d := p.left.Delta(1)
	if d.Offdelta.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("expected offdelta=+200000, got %s", d.Offdelta)
	}

	p.right.SubmitTx(AccountTx{Kind: TxDirectPayment, Nonce: 2, From: SideRight, TokenId: 1, Amount: big.NewInt(100_000)})
	p.deliver(t, p.right, p.left, 5)

	d = p.left.Delta(1)
	if d.Offdelta.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected net offdelta=+100000, got %s", d.Offdelta)
	}
	if p.left.Root() != p.right.Root() {
		t.Fatalf("account roots diverged")
	}
}

// scenario 4: simultaneous proposals, left-priority rollback.
func TestScenarioSimultaneousProposals(t *testing.T) {
	p := newPair(t)
	openBothSides(t, p, 2)
	limit := big.NewInt(1_000_000)
	p.left.SubmitTx(AccountTx{Kind: TxSetCreditLimit, Nonce: 2, From: SideLeft, TokenId: 2, NewLeftCreditLimit: limit})
	p.deliver(t, p.left, p.right, 2)
	p.right.SubmitTx(AccountTx{Kind: TxSetCreditLimit, Nonce: 1, From: SideRight, TokenId: 2, NewRightCreditLimit: limit})
	p.deliver(t, p.right, p.left, 3)

	p.left.SubmitTx(AccountTx{Kind: TxDirectPayment, Nonce: 3, From: SideLeft, TokenId: 2, Amount: big.NewInt(50_000)})
	p.right.SubmitTx(AccountTx{Kind: TxDirectPayment, Nonce: 2, From: SideRight, TokenId: 2, Amount: big.NewInt(30_000)})

	leftPropose, _, err := p.left.TryPropose(4)
	if err != nil || leftPropose == nil {
		t.Fatalf("left TryPropose: propose=%v err=%v", leftPropose, err)
	}
	rightPropose, _, err := p.right.TryPropose(4)
	if err != nil || rightPropose == nil {
		t.Fatalf("right TryPropose: propose=%v err=%v", rightPropose, err)
	}

	// Right receives left's propose while itself PROPOSING: rolls back.
	rightAck, rightNack, err := p.right.ReceivePropose(*leftPropose)
	if err != nil {
		t.Fatalf("right ReceivePropose(left): %v", err)
	}
	if rightNack != nil {
		t.Fatalf("unexpected nack: %+v", rightNack)
	}
	if p.right.RollbackCount != 1 {
		t.Fatalf("expected rollbackCount=1, got %d", p.right.RollbackCount)
	}
	if err := p.left.ReceiveAck(*rightAck); err != nil {
		t.Fatalf("left ReceiveAck: %v", err)
	}

	// Left ignores right's now-stale propose (it already committed).
	leftAck, leftNack, err := p.left.ReceivePropose(*rightPropose)
	_ = leftAck
	if err == nil && leftNack == nil {
		// stale frameId <= current: treated as idempotent resend or ignored.
	}

	// Right re-submits its rolled-back tx and proposes again.
	rightPropose2, _, err := p.right.TryPropose(5)
	if err != nil {
		t.Fatalf("right re-propose: %v", err)
	}
	if rightPropose2 == nil {
		t.Fatalf("expected right to have a re-queued tx to propose")
	}
	ack2, nack2, err := p.left.ReceivePropose(*rightPropose2)
	if err != nil {
		t.Fatalf("left ReceivePropose(right2): %v", err)
	}
	if nack2 != nil {
		t.Fatalf("unexpected nack: %+v", nack2)
	}
	if err := p.right.ReceiveAck(*ack2); err != nil {
		t.Fatalf("right ReceiveAck: %v", err)
	}

	if p.left.Root() != p.right.Root() {
		t.Fatalf("final roots diverge after rollback recovery")
	}
	d := p.left.Delta(2)
	if d.Offdelta.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("expected net offdelta=+20000, got %s", d.Offdelta)
	}
}

// scenario 6: corrupted prevStateHash triggers a fatal mismatch with no
// delta mutation; a dispute intent is then built explicitly.
func TestScenarioFrameMismatchDispute(t *testing.T) {
	p := newPair(t)
	openBothSides(t, p, 3)

	beforeRoot := p.right.Root()

	p.left.SubmitTx(AccountTx{Kind: TxAddDelta, Nonce: 2, From: SideLeft, TokenId: 4})
	propose, _, err := p.left.TryPropose(2)
	if err != nil || propose == nil {
		t.Fatalf("TryPropose: %v", err)
	}
	corrupted := *propose
	corrupted.Frame.PrevStateHash[0] ^= 0xFF

	_, nack, err := p.right.ReceivePropose(corrupted)
	if err == nil {
		t.Fatalf("expected a FrameMismatch error")
	}
	if _, ok := err.(*FrameMismatch); !ok {
		t.Fatalf("expected *FrameMismatch, got %T: %v", err, err)
	}
	if nack != nil {
		t.Fatalf("prevStateHash mismatch must not emit a plain nack")
	}
	if p.right.Root() != beforeRoot {
		t.Fatalf("state must not mutate on a fatal mismatch")
	}
	if p.right.Status() != StatusDisputing {
		t.Fatalf("expected account to enter DISPUTING, got %v", p.right.Status())
	}

	// The proposer's own pending frame is untouched; a dispute intent can
	// be built from its last committed frame (the open_account frame).
	if _, ok := BuildDisputeIntent(p.left); !ok {
		t.Fatalf("expected a dispute intent to be buildable from the last committed frame")
	}
}

// Replaying an already-committed frameId must be idempotent.
func TestReplayIdempotence(t *testing.T) {
	p := newPair(t)
	openBothSides(t, p, 5)

	p.left.SubmitTx(AccountTx{Kind: TxAddDelta, Nonce: 2, From: SideLeft, TokenId: 6})
	propose, _, err := p.left.TryPropose(2)
	if err != nil || propose == nil {
		t.Fatalf("TryPropose: %v", err)
	}
	ack1, _, err := p.right.ReceivePropose(*propose)
	if err != nil || ack1 == nil {
		t.Fatalf("first ReceivePropose: ack=%v err=%v", ack1, err)
	}
	if err := p.left.ReceiveAck(*ack1); err != nil {
		t.Fatalf("ReceiveAck: %v", err)
	}

	rootAfterFirst := p.right.Root()
	ack2, nack2, err := p.right.ReceivePropose(*propose)
	if err != nil {
		t.Fatalf("replayed propose must not error: %v", err)
	}
	if nack2 != nil {
		t.Fatalf("replayed propose must not nack")
	}
	if ack2 == nil || ack2.FrameId != ack1.FrameId {
		t.Fatalf("replay must re-emit an equivalent ack")
	}
	if p.right.Root() != rootAfterFirst {
		t.Fatalf("replaying an already-committed frame mutated state")
	}
}
