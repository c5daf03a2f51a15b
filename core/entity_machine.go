package core

// entity_machine.go – the entity-level quorum-agreed view and
// proposer/validator consensus. Generalizes consensus.go's
// proposer/validator/weight model (authorityAdapter StakeOf/
// ValidatorPubKey, threshold voting over sub-blocks) from PoH/PoS
// sub-block aggregation down to a single weighted-precommit threshold
// per EntityFrame.

import (
	"math/big"

	log "github.com/sirupsen/logrus"
)

// EntityConfig is the proposer-based weighted-quorum configuration for
// one entity.
type EntityConfig struct {
	Validators []SignerId
	Weights    map[SignerId]uint64
	Threshold  uint64
	Mode       string
}

func (c EntityConfig) proposerFor(height uint64) SignerId {
	if len(c.Validators) == 0 {
		return ""
	}
	return c.Validators[height%uint64(len(c.Validators))]
}

// Proposal is an entity governance proposal under vote.
type Proposal struct {
	Action string
	Votes  map[SignerId]string
	Status string // "open", "passed", "rejected", "executed"
}

// FailedTx records a rejected tx for observability (failedTxs).
type FailedTx struct {
	Tx        EntityTx
	Error     string
	Timestamp uint64
}

// entityState is the consensus-hashed control-plane state: nonces,
// messages, proposals and reserves. AccountMachines are deliberately
// excluded — their byte-equality is enforced bilaterally between the two
// account sides, not by entity validator consensus.
type entityState struct {
	height       uint64
	timestamp    uint64
	nonces       map[SignerId]uint64
	messages     *boundedRing[string]
	proposals    map[string]*Proposal
	reserves     map[TokenId]*big.Int
	openAccounts map[EntityId]bool
}

func (s *entityState) clone() *entityState {
	out := &entityState{
		height:    s.height,
		timestamp: s.timestamp,
		nonces:    make(map[SignerId]uint64, len(s.nonces)),
		messages:  newBoundedRing[string](s.messages.cap),
		proposals:    make(map[string]*Proposal, len(s.proposals)),
		reserves:     make(map[TokenId]*big.Int, len(s.reserves)),
		openAccounts: make(map[EntityId]bool, len(s.openAccounts)),
	}
	for k, v := range s.nonces {
		out.nonces[k] = v
	}
	for _, m := range s.messages.Items() {
		out.messages.Push(m)
	}
	for id, p := range s.proposals {
		votes := make(map[SignerId]string, len(p.Votes))
		for k, v := range p.Votes {
			votes[k] = v
		}
		out.proposals[id] = &Proposal{Action: p.Action, Votes: votes, Status: p.Status}
	}
	for id, v := range s.reserves {
		out.reserves[id] = new(big.Int).Set(v)
	}
	for id, v := range s.openAccounts {
		out.openAccounts[id] = v
	}
	return out
}

// hash canonically hashes the consensus-relevant subset of entityState.
func (s *entityState) hash() Hash256 {
	e := NewEncoder()
	e.Uint64(s.height)
	e.Uint64(s.timestamp)
	signers := make([]string, 0, len(s.nonces))
	for k := range s.nonces {
		signers = append(signers, string(k))
	}
	sortStrings(signers)
	for _, sg := range signers {
		e.String(sg)
		e.Uint64(s.nonces[SignerId(sg)])
	}
	for _, m := range s.messages.Items() {
		e.String(m)
	}
	ids := make([]string, 0, len(s.proposals))
	for id := range s.proposals {
		ids = append(ids, id)
	}
	sortStrings(ids)
	for _, id := range ids {
		p := s.proposals[id]
		e.String(id)
		e.String(p.Action)
		e.String(p.Status)
		voters := make([]string, 0, len(p.Votes))
		for v := range p.Votes {
			voters = append(voters, string(v))
		}
		sortStrings(voters)
		for _, v := range voters {
			e.String(v)
			e.String(p.Votes[SignerId(v)])
		}
	}
	tokens := make([]TokenId, 0, len(s.reserves))
	for id := range s.reserves {
		tokens = append(tokens, id)
	}
	sortTokenIds(tokens)
	for _, id := range tokens {
		e.Uint32(uint32(id))
		e.BigInt(s.reserves[id])
	}
	opened := make([]string, 0, len(s.openAccounts))
	for id := range s.openAccounts {
		opened = append(opened, id.String())
	}
	sortStrings(opened)
	for _, id := range opened {
		e.String(id)
	}
	return keccak(e.Bytes())
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// EntityFrame is the committed unit of entity consensus.
type EntityFrame struct {
	Height         uint64
	Timestamp      uint64
	Txs            []EntityTx
	PrevStateHash  Hash256
	PostStateHash  Hash256
	ProposerSigner SignerId
}

// EntityPrecommit is a validator's signed vote for a proposed EntityFrame.
type EntityPrecommit struct {
	Entity  EntityId
	Height  uint64
	Signer  SignerId
	StateOk bool
	Sig     []byte
}

// EntityMachine is one (entityId, signerId) replica.
type EntityMachine struct {
	EntityId EntityId
	Signer   SignerId
	Config   EntityConfig

	keys           *KeyPair
	validatorPub   map[SignerId][]byte
	logger         *log.Logger

	state entityState

	Accounts  map[EntityId]*AccountMachine
	FailedTxs *boundedRing[FailedTx]

	Mempool []EntityTx

	candidateFrame *EntityFrame
	candidateState *entityState
	precommits     map[SignerId][]byte

	seenEvents map[string]bool // idempotence by (txHash, logIndex)

	// jurisdiction-observed prior values, recorded from SettlementProcessed
	// events; they are the prior arguments BuildCooperativeUpdate takes, but
	// no code path in this package reads them back.
	priorCollateral map[accountToken]*big.Int
	priorOndelta    map[accountToken]*big.Int

	// counterpartyAccountPubKeys holds the secp256k1 public key each
	// counterparty signs its side of the bilateral account protocol with.
	// open_account cannot construct an AccountMachine for a counterparty
	// whose key has not been registered first.
	counterpartyAccountPubKeys map[EntityId][]byte

	// accountFrameHistorySize is the frameHistory capacity open_account
	// constructs new AccountMachines with; see SetAccountFrameHistorySize.
	accountFrameHistorySize int
}

type accountToken struct {
	counterparty EntityId
	token        TokenId
}

// NewEntityMachine constructs a replica for (entityId, signer).
func NewEntityMachine(entityId EntityId, signer SignerId, cfg EntityConfig, keys *KeyPair, validatorPub map[SignerId][]byte, logger *log.Logger) *EntityMachine {
	return &EntityMachine{
		EntityId:     entityId,
		Signer:       signer,
		Config:       cfg,
		keys:         keys,
		validatorPub: validatorPub,
		logger:       logger,
		state: entityState{
			nonces:       make(map[SignerId]uint64),
			messages:     newBoundedRing[string](256),
			proposals:    make(map[string]*Proposal),
			reserves:     make(map[TokenId]*big.Int),
			openAccounts: make(map[EntityId]bool),
		},
		Accounts:                   make(map[EntityId]*AccountMachine),
		FailedTxs:                  newBoundedRing[FailedTx](256),
		precommits:                 make(map[SignerId][]byte),
		seenEvents:                 make(map[string]bool),
		priorCollateral:            make(map[accountToken]*big.Int),
		priorOndelta:               make(map[accountToken]*big.Int),
		counterpartyAccountPubKeys: make(map[EntityId][]byte),
		accountFrameHistorySize:    DefaultFrameHistorySize,
	}
}

// RegisterCounterpartyKey records the secp256k1 public key the given
// counterparty entity signs its side of the bilateral account protocol
// with. Must be called before an open_account tx naming that counterparty
// can commit.
func (m *EntityMachine) RegisterCounterpartyKey(counterparty EntityId, pubKey []byte) {
	m.counterpartyAccountPubKeys[counterparty] = pubKey
}

// SetAccountFrameHistorySize overrides the frameHistory capacity used for
// AccountMachines open_account constructs from this point on. Existing
// AccountMachines are unaffected.
func (m *EntityMachine) SetAccountFrameHistorySize(n int) {
	m.accountFrameHistorySize = n
}

// Height is the last committed entity frame height.
func (m *EntityMachine) Height() uint64 { return m.state.height }

// SubmitTx appends tx to the mempool.
func (m *EntityMachine) SubmitTx(tx EntityTx) { m.Mempool = append(m.Mempool, tx) }

// IsProposer reports whether this replica proposes the next frame.
func (m *EntityMachine) IsProposer() bool {
	return m.Config.proposerFor(m.state.height+1) == m.Signer
}

// TryPropose assembles, validates and signs a candidate EntityFrame if
// this replica is the proposer for the next height and its mempool is
// non-empty.
func (m *EntityMachine) TryPropose(now uint64) (*EntityFrame, error) {
	if m.candidateFrame != nil || !m.IsProposer() || len(m.Mempool) == 0 {
		return nil, nil
	}
	sorted := make([]EntityTx, len(m.Mempool))
	copy(sorted, m.Mempool)
	SortEntityTxs(sorted)

	ws := m.state.clone()
	valid := make([]EntityTx, 0, len(sorted))
	for _, tx := range sorted {
		if err := m.applyEntityTx(ws, tx, now); err != nil {
			m.FailedTxs.Push(FailedTx{Tx: tx, Error: err.Error(), Timestamp: now})
			continue
		}
		valid = append(valid, tx)
	}
	if len(valid) == 0 {
		return nil, nil
	}
	ws.height = m.state.height + 1
	ws.timestamp = now

	frame := EntityFrame{
		Height:         ws.height,
		Timestamp:      now,
		Txs:            valid,
		PrevStateHash:  m.state.hash(),
		PostStateHash:  ws.hash(),
		ProposerSigner: m.Signer,
	}
	m.candidateFrame = &frame
	m.candidateState = ws
	m.precommits = make(map[SignerId][]byte)
	m.removeFromMempool(valid)

	sig, err := Sign(m.keys, frame.Hash())
	if err != nil {
		return nil, wrap(err, "sign entity frame")
	}
	m.precommits[m.Signer] = sig
	return &frame, nil
}

// Hash canonically hashes an EntityFrame without signatures.
func (f EntityFrame) Hash() Hash256 {
	e := NewEncoder()
	e.Uint64(f.Height)
	e.Uint64(f.Timestamp)
	e.Uint64(uint64(len(f.Txs)))
	for _, tx := range f.Txs {
		e.Raw(encodeEntityTx(tx))
	}
	e.Raw(f.PrevStateHash[:])
	e.Raw(f.PostStateHash[:])
	e.String(string(f.ProposerSigner))
	return keccak(e.Bytes())
}

// ReceiveFrame is the validator path: replay frame deterministically and
// return a precommit, or a ConsensusDivergence error if the replay
// disagrees with the proposer's declared PostStateHash. On divergence
// the replica logs both post-state hashes (proposer's and local) at error
// level and refuses this frame — no silent recovery. The encoded states
// themselves are not logged.
func (m *EntityMachine) ReceiveFrame(frame EntityFrame, now uint64) (*EntityPrecommit, error) {
	if frame.Height != m.state.height+1 {
		return nil, &ReplayDetected{Key: "entity_frame_height"}
	}
	if frame.PrevStateHash != m.state.hash() {
		return nil, &InvariantBroken{Invariant: "entity_prev_state_hash", Detail: "proposer's prevStateHash does not match local state"}
	}

	ws := m.state.clone()
	for _, tx := range frame.Txs {
		if err := m.applyEntityTx(ws, tx, now); err != nil {
			return nil, &ValidationError{Kind: "entity_tx_replay", Reason: err.Error()}
		}
	}
	ws.height = frame.Height
	ws.timestamp = frame.Timestamp
	localHash := ws.hash()

	if localHash != frame.PostStateHash {
		if m.logger != nil {
			m.logger.WithFields(log.Fields{
				"height":   frame.Height,
				"proposer": string(frame.ProposerSigner),
				"local":    localHash,
				"proposed": frame.PostStateHash,
			}).Error("entity consensus divergence, dumping both states and halting participation")
		}
		return nil, &ConsensusDivergence{
			FrameHeight:      frame.Height,
			ProposerStateHex: frame.PostStateHash.String(),
			LocalStateHex:    localHash.String(),
		}
	}

	m.candidateFrame = &frame
	m.candidateState = ws

	sig, err := Sign(m.keys, frame.Hash())
	if err != nil {
		return nil, wrap(err, "sign precommit")
	}
	return &EntityPrecommit{Entity: m.EntityId, Height: frame.Height, Signer: m.Signer, StateOk: true, Sig: sig}, nil
}

// CollectPrecommit tallies a precommit against the active candidate
// frame and commits once the weighted sum reaches the configured
// threshold. Returns the committed frame exactly once, the tick it
// crosses threshold.
func (m *EntityMachine) CollectPrecommit(pc EntityPrecommit) (*EntityFrame, error) {
	if m.candidateFrame == nil || pc.Height != m.candidateFrame.Height {
		return nil, nil
	}
	pub, ok := m.validatorPub[pc.Signer]
	if !ok {
		return nil, &ValidationError{Kind: "unknown_validator", Reason: string(pc.Signer)}
	}
	if !VerifySignature(pub, m.candidateFrame.Hash(), pc.Sig) {
		return nil, &ValidationError{Kind: "bad_precommit_signature", Reason: string(pc.Signer)}
	}
	m.precommits[pc.Signer] = pc.Sig

	var sum uint64
	for signer := range m.precommits {
		sum += m.Config.Weights[signer]
	}
	if sum < m.Config.Threshold {
		return nil, nil
	}

	committed := *m.candidateFrame
	m.state = *m.candidateState
	m.candidateFrame = nil
	m.candidateState = nil
	m.precommits = make(map[SignerId][]byte)
	return &committed, nil
}

func (m *EntityMachine) removeFromMempool(applied []EntityTx) {
	if len(applied) == 0 {
		return
	}
	type key struct {
		nonce  uint64
		signer SignerId
		kind   EntityTxKind
	}
	seen := make(map[key]int, len(applied))
	for _, tx := range applied {
		seen[key{tx.Nonce, tx.Signer, tx.Kind}]++
	}
	out := m.Mempool[:0]
	for _, tx := range m.Mempool {
		k := key{tx.Nonce, tx.Signer, tx.Kind}
		if seen[k] > 0 {
			seen[k]--
			continue
		}
		out = append(out, tx)
	}
	m.Mempool = out
}
