package core

// errors.go – the closed set of error kinds defined by the error handling
// design: each kind has a fixed propagation rule, enforced by the callers
// in account_machine.go / entity_machine.go rather than by this file.
// Wrapping follows the usual fmt.Errorf + %w idiom.

import "fmt"

// ValidationError rejects a single tx; it is stored in failedTxs with the
// reason and the peer is informed. It never mutates state.
type ValidationError struct {
	Kind   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Kind, e.Reason)
}

// CapacityViolation rejects the whole frame; the sender rolls back and no
// state changes.
type CapacityViolation struct {
	TokenId TokenId
	Delta   string // decimal string, for a stable error message
	Reason  string
}

func (e *CapacityViolation) Error() string {
	return fmt.Sprintf("capacity violation: token %d delta=%s: %s", e.TokenId, e.Delta, e.Reason)
}

// FrameMismatch is fatal for the account: prevStateHash did not match the
// receiver's current root. No delta state is mutated; the account enters
// DISPUTING. ReceivePropose builds no dispute intent itself;
// BuildDisputeIntent builds one from the last committed frame when called.
type FrameMismatch struct {
	ExpectedPrevHash [32]byte
	GotPrevHash      [32]byte
	FrameId          uint64
}

func (e *FrameMismatch) Error() string {
	return fmt.Sprintf("frame %d prevStateHash mismatch: expected %x got %x",
		e.FrameId, e.ExpectedPrevHash, e.GotPrevHash)
}

// ConsensusDivergence is fatal for the entity replica: a validator's
// replay produced a state hash different from the proposer's. The replica
// logs both state hashes and refuses the frame; it does not log the
// encoded states themselves. Silent recovery is forbidden.
type ConsensusDivergence struct {
	FrameHeight      uint64
	ProposerStateHex string
	LocalStateHex    string
}

func (e *ConsensusDivergence) Error() string {
	return fmt.Sprintf("consensus divergence at height %d: proposer=%s local=%s",
		e.FrameHeight, e.ProposerStateHex, e.LocalStateHex)
}

// ReplayDetected marks a duplicate, already-applied input (jurisdiction
// event or already-acked frame). The duplicate is dropped; no caller keeps
// a count of dropped duplicates.
type ReplayDetected struct {
	Key string
}

func (e *ReplayDetected) Error() string {
	return fmt.Sprintf("replay detected: %s", e.Key)
}

// InvariantBroken signals an internal invariant violation. There is no
// silent recovery: callers that encounter this are expected to panic or
// abort the process, never swallow it.
type InvariantBroken struct {
	Invariant string
	Detail    string
}

func (e *InvariantBroken) Error() string {
	return fmt.Sprintf("invariant broken (%s): %s", e.Invariant, e.Detail)
}

// wrap adds context to an error without discarding the original via %w.
func wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
