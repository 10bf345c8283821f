// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package processor implements MessageProcessor, the per-message state
// machine: collect validated shards, submit reconstruction once the build
// threshold is crossed, cascade-gossip the local peer's own shards, and
// deliver once the deliver threshold is crossed.
package processor

import (
	"context"
	"errors"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/propeller/channel"
	"github.com/luxfi/propeller/erasure"
	"github.com/luxfi/propeller/event"
	"github.com/luxfi/propeller/iface"
	"github.com/luxfi/propeller/merkle"
	"github.com/luxfi/propeller/sharding"
	"github.com/luxfi/propeller/shardcodec"
	"github.com/luxfi/propeller/unitvalidator"
	"github.com/luxfi/propeller/wire"
)

// State is one of the three lifecycle stages a MessageProcessor passes
// through, plus a terminal failure state.
type State int

const (
	Collecting State = iota
	Reconstructed
	Delivered
	Failed
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "Collecting"
	case Reconstructed:
		return "Reconstructed"
	case Delivered:
		return "Delivered"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// GossipFunc cascades one unit to the channel's peers other than the
// publisher and the local peer.
type GossipFunc func(unit *wire.Unit)

// EventFunc delivers a terminal event to the Engine's event stream.
type EventFunc func(event.Event)

// FinalizeFunc signals the Engine that this processor has terminated, so
// its key can be inserted into the finalized cache and the processor
// handle retired.
type FinalizeFunc func(key channel.Key)

// Processor owns all mutable state for one MessageKey. It is driven
// exclusively by its own goroutine (Run); handleValidatedUnit and
// handleDeadline run only on that goroutine, and other goroutines reach
// it through SubmitValidatedUnit, which enqueues onto the Events channel.
type Processor struct {
	key         channel.Key
	local       ids.NodeID
	pad         bool
	assignment  *sharding.Assignment
	validator   *unitvalidator.Validator
	pool        iface.ComputePool
	k, m        int
	gossip      GossipFunc
	emit        EventFunc
	finalize    FinalizeFunc
	log         log.Logger

	state           State
	receivedUnits   map[uint64]*wire.Unit
	creditedOwners  map[ids.NodeID]struct{}
	receivedStake   uint64
	assignedIndices []int
	gossipSent      map[uint64]struct{}
	reconstructSent bool

	lastReconstructedMessage []byte

	Events chan processorEvent
}

// errRootMismatch is the reconstruction-job error surfaced when the
// recomputed Merkle root does not match the signed MessageRoot.
var errRootMismatch = errors.New("processor: reconstructed root mismatch")

type processorEventKind int

const (
	evValidatedUnit processorEventKind = iota
	evReconstructionResult
	evDeadline
)

type processorEvent struct {
	kind   processorEventKind
	sender ids.NodeID
	unit   *wire.Unit

	recMessage []byte
	recLeaves  [][]byte
	recErr     error
}

// reconstructionOutcome is the value type produced by the ComputePool job
// Processor submits once the build threshold is crossed.
type reconstructionOutcome struct {
	message []byte
	leaves  [][]byte
	err     error
}

// New constructs a Processor for key, owned by local, bound to assignment.
// gossip/emit/finalize are the processor's only side channels back to the
// Engine; they must not block.
func New(
	key channel.Key,
	local ids.NodeID,
	assignment *sharding.Assignment,
	v *unitvalidator.Validator,
	pool iface.ComputePool,
	k, m int,
	pad bool,
	queueCapacity int,
	gossip GossipFunc,
	emit EventFunc,
	finalize FinalizeFunc,
	logger log.Logger,
) *Processor {
	return &Processor{
		key:             key,
		local:           local,
		pad:             pad,
		assignment:      assignment,
		validator:       v,
		pool:            pool,
		k:               k,
		m:               m,
		gossip:          gossip,
		emit:            emit,
		finalize:        finalize,
		log:             logger,
		state:           Collecting,
		receivedUnits:   make(map[uint64]*wire.Unit),
		creditedOwners:  make(map[ids.NodeID]struct{}),
		assignedIndices: assignment.ShardsOf(local),
		gossipSent:      make(map[uint64]struct{}),
		Events:          make(chan processorEvent, queueCapacity),
	}
}

// State returns the processor's current lifecycle state.
func (p *Processor) State() State { return p.state }

// Validator returns the UnitValidator bound to this MessageKey. The
// Engine runs validation (on the ComputePool, per §4.5) before handing a
// unit to SubmitValidatedUnit.
func (p *Processor) Validator() *unitvalidator.Validator { return p.validator }

// Key returns the MessageKey this processor is bound to.
func (p *Processor) Key() channel.Key { return p.key }

// SubmitValidatedUnit enqueues a ValidatedUnit event. It never blocks the
// caller beyond the queue's capacity; callers treat a full queue as
// ShardDropped per §5 backpressure policy.
func (p *Processor) SubmitValidatedUnit(sender ids.NodeID, unit *wire.Unit) bool {
	select {
	case p.Events <- processorEvent{kind: evValidatedUnit, sender: sender, unit: unit}:
		return true
	default:
		return false
	}
}

// Run drains the processor's event queue until ctx is cancelled or the
// deadline elapses, whichever comes first. It is the processor's single
// owning goroutine; all state mutation happens here.
func (p *Processor) Run(ctx context.Context, deadline time.Duration) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.handleDeadline()
			return
		case ev := <-p.Events:
			switch ev.kind {
			case evValidatedUnit:
				p.handleValidatedUnit(ctx, ev.sender, ev.unit)
			case evReconstructionResult:
				p.handleReconstructionResult(ev.recMessage, ev.recLeaves, ev.recErr)
			}
			if p.state == Delivered || p.state == Failed {
				return
			}
		}
	}
}

func (p *Processor) handleValidatedUnit(ctx context.Context, sender ids.NodeID, unit *wire.Unit) {
	if p.state != Collecting && p.state != Reconstructed {
		return
	}

	if _, already := p.receivedUnits[unit.Index]; !already {
		p.receivedUnits[unit.Index] = unit
		p.creditOwner(unit.Index)
	}

	p.maybeCascade(unit.Index, unit)

	switch p.state {
	case Collecting:
		if !p.reconstructSent && p.receivedStake >= p.assignment.Thresholds().Build {
			p.reconstructSent = true
			p.submitReconstruction(ctx)
		}
	case Reconstructed:
		if p.receivedStake >= p.assignment.Thresholds().Deliver {
			p.deliver()
		}
	}
}

// creditOwner adds unit.Index's designated broadcaster's weight to
// received_stake, once, the first time any of that owner's shards is
// observed. This is the only place received_stake increases, so the
// publisher's own stake can never be credited without an actually
// observed shard ("free stake" avoidance, §9).
func (p *Processor) creditOwner(index uint64) {
	owner, ok := p.assignment.Owner(int(index))
	if !ok {
		return
	}
	if _, credited := p.creditedOwners[owner]; credited {
		return
	}
	p.creditedOwners[owner] = struct{}{}
	p.receivedStake += p.assignment.Weight(owner)
}

// maybeCascade gossips unit if its index is one the local peer is itself
// responsible for broadcasting and it has not already done so.
func (p *Processor) maybeCascade(index uint64, unit *wire.Unit) {
	if !p.ownsIndex(index) {
		return
	}
	if _, sent := p.gossipSent[index]; sent {
		return
	}
	p.gossipSent[index] = struct{}{}
	p.gossip(unit)
}

func (p *Processor) ownsIndex(index uint64) bool {
	for _, idx := range p.assignedIndices {
		if uint64(idx) == index {
			return true
		}
	}
	return false
}

func (p *Processor) submitReconstruction(ctx context.Context) {
	shards := make([]erasure.Shard, 0, len(p.receivedUnits))
	for idx, u := range p.receivedUnits {
		shards = append(shards, erasure.Shard{Index: int(idx), Data: u.Shard})
	}
	k, m, root, pad := p.k, p.m, p.key.Root, p.pad

	resultCh := p.pool.Submit(func() (any, error) {
		coder, err := erasure.New(k, m)
		if err != nil {
			return nil, err
		}
		leaves, err := coder.ReconstructAll(shards)
		if err != nil {
			return nil, err
		}
		tree, err := merkle.Build(leaves, merkle.DefaultHash)
		if err != nil {
			return nil, err
		}
		if tree.Root() != merkle.Hash(root) {
			return nil, errRootMismatch
		}
		message, err := shardcodec.Join(leaves[:k], pad)
		if err != nil {
			return nil, err
		}
		return reconstructionOutcome{message: message, leaves: leaves}, nil
	})

	go func() {
		select {
		case <-ctx.Done():
			return
		case res := <-resultCh:
			outcome, _ := res.Value.(reconstructionOutcome)
			select {
			case p.Events <- processorEvent{kind: evReconstructionResult, recMessage: outcome.message, recLeaves: outcome.leaves, recErr: res.Err}:
			case <-ctx.Done():
			}
		}
	}()
}

func (p *Processor) handleReconstructionResult(message []byte, leaves [][]byte, err error) {
	if p.state != Collecting {
		return
	}
	if err != nil {
		p.log.Debug("reconstruction failed", "key", p.key.String(), "error", err)
		p.emit(event.ReconstructionFailed(p.key, reasonFor(err)))
		p.finalizeAs(Failed)
		return
	}

	p.state = Reconstructed
	p.lastReconstructedMessage = message

	// Every validated unit of this key carries the same signature, so the
	// cascaded units reuse it.
	var sig []byte
	for _, u := range p.receivedUnits {
		sig = u.Signature
		break
	}

	tree, buildErr := merkle.Build(leaves, merkle.DefaultHash)
	if buildErr == nil {
		for _, idx := range p.assignedIndices {
			u64 := uint64(idx)
			// The cascade is also how the local peer "observes" its own
			// shard when the publisher never delivered it: crediting here
			// (not just on direct receipt) is required for the deliver
			// threshold's doubling argument to hold, per §4.6.
			if _, already := p.receivedUnits[u64]; !already {
				p.creditOwner(u64)
			}
			if _, sent := p.gossipSent[u64]; sent {
				continue
			}
			proof, err := tree.Prove(idx)
			if err != nil {
				continue
			}
			unit := &wire.Unit{
				Shard:     leaves[idx],
				Index:     u64,
				Root:      [32]byte(p.key.Root),
				Proof:     toWireProof(proof),
				Publisher: p.key.Publisher[:],
				Signature: sig,
				Channel:   uint32(p.key.Channel),
			}
			p.receivedUnits[u64] = unit
			p.gossipSent[u64] = struct{}{}
			p.gossip(unit)
		}
	}

	if p.receivedStake >= p.assignment.Thresholds().Deliver {
		p.deliverWith(message)
	}
}

// deliver is called when a later ValidatedUnit pushes received_stake past
// the deliver threshold after reconstruction already captured the message.
func (p *Processor) deliver() {
	if p.lastReconstructedMessage != nil {
		p.deliverWith(p.lastReconstructedMessage)
	}
}

func (p *Processor) deliverWith(message []byte) {
	p.lastReconstructedMessage = message
	p.emit(event.MessageReceived(p.key, message))
	p.finalizeAs(Delivered)
}

func (p *Processor) handleDeadline() {
	if p.state == Delivered || p.state == Failed {
		return
	}
	p.emit(event.MessageTimeout(p.key))
	p.finalizeAs(Failed)
}

func (p *Processor) finalizeAs(state State) {
	p.state = state
	p.finalize(p.key)
}

func toWireProof(proof []merkle.Hash) [][32]byte {
	out := make([][32]byte, len(proof))
	for i, h := range proof {
		out[i] = [32]byte(h)
	}
	return out
}

func reasonFor(err error) event.FailureReason {
	switch {
	case errors.Is(err, errRootMismatch):
		return event.ReasonRootMismatch
	case errors.Is(err, erasure.ErrUnequalShardLengths):
		return event.ReasonUnequalShardLengths
	default:
		return event.ReasonInsufficientShards
	}
}
