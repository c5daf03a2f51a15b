package core

// runtime.go – the deterministic single-threaded scheduler: each tick
// drains inbound messages,
// steps every EntityMachine replica's consensus by one round, drains the
// account-level propose/ack/nack traffic those commits produce, and
// appends a single Snapshot covering everything that happened.

import (
	"sort"
)

// RuntimeContext supplies the single clock source the Runtime reads.
// Both height and timestamp must come from here, never from a wall
// clock read directly by a state machine (determinism).
type RuntimeContext struct {
	Height    uint64
	Timestamp uint64
}

// EntityInbox holds everything addressed to one entity's quorum of
// replicas for a single tick.
type EntityInbox struct {
	Txs        []EntityTx
	Frame      *EntityFrame       // proposer broadcast, delivered to every non-proposer replica
	Precommits []EntityPrecommit  // delivered to the proposer replica collecting signatures
	Account    []AccountMessage   // bilateral traffic destined for this entity's AccountMachines
}

// RuntimeOutputs accumulates everything the Runtime produced this tick,
// for the caller to hand to a transport layer; the core itself does no
// I/O.
type RuntimeOutputs struct {
	EntityFrames map[EntityId]*EntityFrame
	Precommits   map[EntityId][]EntityPrecommit
	Account      map[EntityId][]AccountMessage
}

func newRuntimeOutputs() *RuntimeOutputs {
	return &RuntimeOutputs{
		EntityFrames: make(map[EntityId]*EntityFrame),
		Precommits:   make(map[EntityId][]EntityPrecommit),
		Account:      make(map[EntityId][]AccountMessage),
	}
}

// Runtime owns every EntityMachine replica in the simulation and the
// Snapshot log, and advances them one deterministic tick at a time.
type Runtime struct {
	replicas map[EntityId]map[SignerId]*EntityMachine
	order    []EntityId // ascending; re-sorted by Register, "ascending (entityId, signerId)"

	snapshots *SnapshotLog

	maxTicksPerDrain int
}

// DefaultMaxTicksPerDrain is the ProcessUntilEmpty iteration ceiling used
// when the caller supplies no configured value (zero or negative).
const DefaultMaxTicksPerDrain = 100

// NewRuntime constructs an empty Runtime backed by the given append-only
// snapshot log. maxTicksPerDrain bounds ProcessUntilEmpty; pass
// DefaultMaxTicksPerDrain (or <= 0) to use the default.
func NewRuntime(snapshots *SnapshotLog, maxTicksPerDrain int) *Runtime {
	if maxTicksPerDrain <= 0 {
		maxTicksPerDrain = DefaultMaxTicksPerDrain
	}
	return &Runtime{
		replicas:         make(map[EntityId]map[SignerId]*EntityMachine),
		snapshots:        snapshots,
		maxTicksPerDrain: maxTicksPerDrain,
	}
}

// Register adds a replica to the runtime. All replicas for the same
// entity must share the same EntityConfig.
func (r *Runtime) Register(m *EntityMachine) {
	if r.replicas[m.EntityId] == nil {
		r.replicas[m.EntityId] = make(map[SignerId]*EntityMachine)
		r.order = append(r.order, m.EntityId)
		sort.Slice(r.order, func(i, j int) bool { return r.order[i].Less(r.order[j]) })
	}
	r.replicas[m.EntityId][m.Signer] = m
}

// ListAccounts returns a snapshot of every AccountMachine held by entity
// id's first replica (in ascending SignerId order), the equivalent of the
// channel-listing introspection exposed by a prefix-iterated store, without
// exposing it as an RPC surface.
func (r *Runtime) ListAccounts(id EntityId) []AccountSnapshot {
	signers := r.signersOf(id)
	if len(signers) == 0 {
		return nil
	}
	m := r.replicas[id][signers[0]]
	out := make([]AccountSnapshot, 0, len(m.Accounts))
	counterparties := make([]EntityId, 0, len(m.Accounts))
	for cp := range m.Accounts {
		counterparties = append(counterparties, cp)
	}
	sort.Slice(counterparties, func(i, j int) bool { return counterparties[i].Less(counterparties[j]) })
	for _, cp := range counterparties {
		out = append(out, m.Accounts[cp].Snapshot())
	}
	return out
}

func (r *Runtime) signersOf(id EntityId) []SignerId {
	reps := r.replicas[id]
	out := make([]SignerId, 0, len(reps))
	for s := range reps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tick runs one deterministic round: deliver inbound, step every entity's
// consensus once, and return everything produced for the caller to route
// on the next tick (or over a real transport).
func (r *Runtime) Tick(ctx RuntimeContext, inbound map[EntityId]EntityInbox) *RuntimeOutputs {
	out := newRuntimeOutputs()

	for _, id := range r.order {
		inbox := inbound[id]
		signers := r.signersOf(id)
		if len(signers) == 0 {
			continue
		}

		for _, s := range signers {
			m := r.replicas[id][s]
			for _, tx := range inbox.Txs {
				m.SubmitTx(tx)
			}
		}

		proposer := r.replicas[id][signers[0]] // proposerFor resolved inside each replica
		for _, s := range signers {
			m := r.replicas[id][s]
			if m.IsProposer() {
				proposer = m
			}
		}

		if frame, err := proposer.TryPropose(ctx.Timestamp); err == nil && frame != nil {
			out.EntityFrames[id] = frame
		}

		if inbox.Frame != nil {
			for _, s := range signers {
				m := r.replicas[id][s]
				if m.Signer == inbox.Frame.ProposerSigner {
					continue
				}
				pc, err := m.ReceiveFrame(*inbox.Frame, ctx.Timestamp)
				if err != nil {
					switch e := err.(type) {
					case *ConsensusDivergence:
						continue // this replica refuses the frame and sends no precommit; later frames are still accepted
					case *InvariantBroken:
						panic(e)
					default:
						continue
					}
				}
				if pc != nil {
					out.Precommits[id] = append(out.Precommits[id], *pc)
				}
			}
		}

		for _, pc := range inbox.Precommits {
			if committed, _ := proposer.CollectPrecommit(pc); committed != nil {
				// fully committed locally already by CollectPrecommit
			}
		}

		for _, s := range signers {
			m := r.replicas[id][s]
			for _, acct := range m.Accounts {
				if fp, _, err := acct.TryPropose(ctx.Timestamp); err == nil && fp != nil {
					out.Account[id] = append(out.Account[id], AccountMessage{Propose: fp})
					continue
				}
				if fp := acct.Tick(); fp != nil {
					out.Account[id] = append(out.Account[id], AccountMessage{Propose: fp})
				}
			}
		}

		for _, am := range inbox.Account {
			for _, s := range signers {
				m := r.replicas[id][s]
				r.routeAccountMessage(m, am, out, id)
			}
		}
	}

	r.snapshots.Append(Snapshot{
		Height:    ctx.Height,
		Timestamp: ctx.Timestamp,
		Inbound:   inbound,
		Committed: out.EntityFrames,
		Outbound:  out.Account,
	})

	return out
}

func (r *Runtime) routeAccountMessage(m *EntityMachine, am AccountMessage, out *RuntimeOutputs, id EntityId) {
	switch {
	case am.Propose != nil:
		acct, ok := m.Accounts[am.Propose.From]
		if !ok {
			return
		}
		ack, nack, err := acct.ReceivePropose(*am.Propose)
		if err != nil {
			if ack == nil && nack == nil {
				return
			}
		}
		if ack != nil {
			out.Account[id] = append(out.Account[id], AccountMessage{Ack: ack})
		}
		if nack != nil {
			out.Account[id] = append(out.Account[id], AccountMessage{Nack: nack})
		}
	case am.Ack != nil:
		if acct, ok := m.Accounts[am.Ack.From]; ok {
			if err := acct.ReceiveAck(*am.Ack); err != nil {
				if ib, fatal := err.(*InvariantBroken); fatal {
					panic(ib)
				}
			}
		}
	case am.Nack != nil:
		if acct, ok := m.Accounts[am.Nack.From]; ok {
			acct.ReceiveNack(*am.Nack)
		}
	}
}

// ProcessUntilEmpty repeatedly ticks the runtime, feeding each round's
// outputs back in as the next round's inbound account traffic, until no
// entity produces further output or maxTicksPerDrain is reached, a
// bounded-iteration safety valve — a deadlocked pair would otherwise spin
// the scheduler forever.
func (r *Runtime) ProcessUntilEmpty(ctx RuntimeContext) []*RuntimeOutputs {
	var all []*RuntimeOutputs
	inbound := make(map[EntityId]EntityInbox)
	for i := 0; i < r.maxTicksPerDrain; i++ {
		out := r.Tick(ctx, inbound)
		all = append(all, out)
		if len(out.EntityFrames) == 0 && len(out.Precommits) == 0 && allAccountEmpty(out.Account) {
			break
		}
		inbound = routeBack(out)
	}
	return all
}

func allAccountEmpty(m map[EntityId][]AccountMessage) bool {
	for _, v := range m {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

// routeBack turns one tick's outputs into the next tick's inbound,
// addressed by the counterparty entity rather than the sender (a
// propose/ack/nack emitted by entity A naming counterparty B is
// delivered to B's inbox).
func routeBack(out *RuntimeOutputs) map[EntityId]EntityInbox {
	next := make(map[EntityId]EntityInbox)
	for id, frame := range out.EntityFrames {
		inbox := next[id]
		inbox.Frame = frame
		next[id] = inbox
	}
	for id, pcs := range out.Precommits {
		inbox := next[id]
		inbox.Precommits = append(inbox.Precommits, pcs...)
		next[id] = inbox
	}
	for _, msgs := range out.Account {
		for _, am := range msgs {
			target := accountMessageTarget(am)
			inbox := next[target]
			inbox.Account = append(inbox.Account, am)
			next[target] = inbox
		}
	}
	return next
}

func accountMessageTarget(am AccountMessage) EntityId {
	switch {
	case am.Propose != nil:
		return am.Propose.Counterparty
	case am.Ack != nil:
		return am.Ack.Counterparty
	case am.Nack != nil:
		return am.Nack.Counterparty
	}
	return EntityId{}
}
