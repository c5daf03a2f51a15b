package core

// messages.go – the bilateral/entity message contract the Runtime moves
// between replicas. These are plain data; I/O itself is lifted out of the
// state machine into the Runtime caller.

// FramePropose is emitted by the proposing side of an account.
// Counterparty addresses the recipient entity (so the Runtime knows whose
// inbox to deliver it to); From identifies the sending AccountMachine's own
// entity, which the recipient needs to pick the right local AccountMachine
// out of its own Accounts map (keyed by counterparty, i.e. by sender).
type FramePropose struct {
	From         EntityId
	Counterparty EntityId
	Frame        Frame
	Sig          []byte // proposer's signature over Frame.Hash()
}

// FrameAck is emitted by the acking side once it has validated and
// speculatively committed a proposed frame.
type FrameAck struct {
	From         EntityId
	Counterparty EntityId
	FrameId      uint64
	Sig          []byte
}

// FrameNack is emitted when a proposed frame fails validation for a
// reason short of a fatal prevStateHash mismatch.
type FrameNack struct {
	From         EntityId
	Counterparty EntityId
	FrameId      uint64
	Reason       string
}

// AccountMessage is the envelope the Runtime routes between two
// EntityMachines' AccountMachines for a single counterparty pair.
type AccountMessage struct {
	Propose *FramePropose
	Ack     *FrameAck
	Nack    *FrameNack
}
