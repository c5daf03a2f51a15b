package core

// lock_test.go – settle_lock before expiry converts a HashLock into an
// offdelta adjustment; cancel_lock after expiry restores the pre-lock
// encoding byte-for-byte.

import (
	"math/big"
	"testing"
)

const lockTestHeight0 = 100

// setupLockedPair wires a pair, credits both sides, records the
// pre-lock root, and commits an add_lock frame for 10_000 drawn from the
// left side, expiring at h0+5.
func setupLockedPair(t *testing.T) (p *pair, offerId string, preimage []byte, preLockRoot Hash256) {
	t.Helper()
	p = newPair(t)
	openBothSides(t, p, 7)

	limit := big.NewInt(1_000_000)
	p.left.SubmitTx(AccountTx{Kind: TxSetCreditLimit, Nonce: 2, From: SideLeft, TokenId: 7, NewLeftCreditLimit: limit})
	p.deliver(t, p.left, p.right, 1)
	p.right.SubmitTx(AccountTx{Kind: TxSetCreditLimit, Nonce: 1, From: SideRight, TokenId: 7, NewRightCreditLimit: limit})
	p.deliver(t, p.right, p.left, 1)

	p.left.SetHeight(lockTestHeight0)
	p.right.SetHeight(lockTestHeight0)

	preLockRoot = p.left.Root()

	preimage = []byte("the preimage of this test's hash lock")
	lock := NewHashLock(keccak(preimage), lockTestHeight0+5, big.NewInt(10_000), SideLeft)
	p.left.SubmitTx(AccountTx{Kind: TxAddLock, Nonce: 3, From: SideLeft, TokenId: 7, Lock: &lock})
	p.deliver(t, p.left, p.right, 2)

	return p, lock.OfferId, preimage, preLockRoot
}

func TestScenarioLockSettleBeforeExpiry(t *testing.T) {
	p, offerId, preimage, _ := setupLockedPair(t)

	p.left.SetHeight(lockTestHeight0 + 3)
	p.right.SetHeight(lockTestHeight0 + 3)

	p.right.SubmitTx(AccountTx{Kind: TxSettleLock, Nonce: 2, From: SideRight, TokenId: 7, OfferId: offerId, Preimage: preimage})
	p.deliver(t, p.right, p.left, 3)

	d := p.left.Delta(7)
	if d.Offdelta.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected offdelta == lock amount (10000), got %s", d.Offdelta)
	}
	lock, ok := d.Locks[offerId]
	if !ok {
		t.Fatalf("expected settled lock to remain recorded")
	}
	if lock.Status != LockSettled {
		t.Fatalf("expected lock status LockSettled, got %v", lock.Status)
	}
	if p.left.Root() != p.right.Root() {
		t.Fatalf("account roots diverged after settle_lock")
	}
}

func TestScenarioLockCancelAfterExpiry(t *testing.T) {
	p, offerId, _, preLockRoot := setupLockedPair(t)

	p.left.SetHeight(lockTestHeight0 + 6)
	p.right.SetHeight(lockTestHeight0 + 6)

	p.right.SubmitTx(AccountTx{Kind: TxCancelLock, Nonce: 2, From: SideRight, TokenId: 7, OfferId: offerId})
	p.deliver(t, p.right, p.left, 7)

	d := p.left.Delta(7)
	if _, exists := d.Locks[offerId]; exists {
		t.Fatalf("expected cancelled lock to be removed")
	}
	if d.Offdelta.Sign() != 0 {
		t.Fatalf("cancel_lock must not move offdelta, got %s", d.Offdelta)
	}
	if p.left.Root() != preLockRoot {
		t.Fatalf("expected byte-identical pre-lock root after cancel, got different root")
	}
	if p.left.Root() != p.right.Root() {
		t.Fatalf("account roots diverged after cancel_lock")
	}
}
