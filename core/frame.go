package core

// frame.go – the bilaterally-signed Frame record.

// Frame is the atomic, bilaterally signed batch of AccountTxs exchanged
// between the two sides of an account.
type Frame struct {
	FrameId        uint64
	Timestamp      uint64 // monotonic, supplied by the proposing side
	PrevStateHash  Hash256
	Txs            []AccountTx
	PostStateHash  Hash256
	ProposerIsLeft bool

	// Signatures, populated once each side has signed frameHash(f).
	LeftSig  []byte
	RightSig []byte
}

// Hash returns the canonical hash of the frame without its signatures,
// the value both sides sign.
func (f Frame) Hash() Hash256 { return frameHash(f) }

// Committed reports whether both signatures are present.
func (f Frame) Committed() bool { return len(f.LeftSig) > 0 && len(f.RightSig) > 0 }

// encodeFrameUnsigned canonically encodes a frame's fields excluding
// signatures, ordered as declared in the struct.
func encodeFrameUnsigned(f Frame) []byte {
	e := NewEncoder()
	e.Uint64(f.FrameId)
	e.Uint64(f.Timestamp)
	e.Raw(f.PrevStateHash[:])
	e.Uint64(uint64(len(f.Txs)))
	for _, tx := range f.Txs {
		e.Raw(encodeAccountTx(tx))
	}
	e.Raw(f.PostStateHash[:])
	e.Bool(f.ProposerIsLeft)
	return e.Bytes()
}
