// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine implements the Propeller Engine (§4.8): the central
// dispatcher that owns the ChannelRegistry and the MessageKey →
// MessageProcessor table, routes incoming units to the right processor,
// drives the publisher-side Broadcaster, and exposes the application's
// event stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/propeller/broadcaster"
	"github.com/luxfi/propeller/channel"
	"github.com/luxfi/propeller/config"
	"github.com/luxfi/propeller/event"
	"github.com/luxfi/propeller/gossip"
	"github.com/luxfi/propeller/iface"
	"github.com/luxfi/propeller/merkle"
	"github.com/luxfi/propeller/metrics"
	"github.com/luxfi/propeller/processor"
	"github.com/luxfi/propeller/sharding"
	"github.com/luxfi/propeller/unitvalidator"
	"github.com/luxfi/propeller/wire"
)

// eventQueueCapacity bounds the buffered event channel exposed to the
// application. A full queue means the application is not draining
// Events(); the Engine drops and logs rather than blocking processors.
const eventQueueCapacity = 4096

// sweepInterval is how often the Engine evicts expired finalized-cache
// entries across all registered channels.
const sweepInterval = 30 * time.Second

// ErrNotStarted is returned by operations that require Start to have run.
var ErrNotStarted = errors.New("engine: not started")

// channelOptions are the per-channel settings fixed at registration time,
// selectable per spec §4.4/§6.
type channelOptions struct {
	scheme sharding.Scheme
	totalT func(n int) int
}

// procHandle bundles a running Processor with its cancellation.
type procHandle struct {
	proc   *processor.Processor
	cancel context.CancelFunc
}

// Engine is the single entry point applications use. It is safe for
// concurrent use from multiple goroutines.
type Engine struct {
	local     ids.NodeID
	crypto    iface.Crypto
	transport iface.Transport
	pool      iface.ComputePool
	cfg       *config.Config
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	log       log.Logger

	registry *channel.Registry
	gossip   *gossip.Router
	bcast    *broadcaster.Broadcaster

	chOptsMu sync.RWMutex
	chOpts   map[channel.ID]channelOptions

	procMu sync.Mutex
	procs  map[channel.Key]*procHandle

	events chan event.Event

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithConfig overrides the default Config.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithMetrics registers Propeller's collectors against reg instead of the
// Engine's own private registry. reg must also implement
// prometheus.Gatherer for Gatherer() to expose it.
func WithMetrics(reg interface {
	prometheus.Registerer
	prometheus.Gatherer
}) Option {
	return func(e *Engine) {
		m, err := metrics.New(reg)
		if err == nil {
			e.metrics = m
			e.gatherer = reg
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

// New constructs an Engine over the three external collaborators. Start
// must be called before RegisterChannel/Broadcast/HandleIncoming.
func New(crypto iface.Crypto, transport iface.Transport, pool iface.ComputePool, opts ...Option) *Engine {
	defaultReg := prometheus.NewRegistry()
	defaultMetrics, err := metrics.New(defaultReg)
	if err != nil {
		defaultMetrics = metrics.NoOp()
	}

	e := &Engine{
		local:     transport.Self(),
		crypto:    crypto,
		transport: transport,
		pool:      pool,
		cfg:       config.Default(),
		metrics:   defaultMetrics,
		gatherer:  defaultReg,
		log:       log.NoLog{},
		registry:  channel.NewRegistry(),
		chOpts:    make(map[channel.ID]channelOptions),
		procs:     make(map[channel.Key]*procHandle),
		events:    make(chan event.Event, eventQueueCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gossip = gossip.New(transport, e.log)
	e.bcast = broadcaster.New(crypto, transport, e.cfg.ShardingScheme, e.cfg.TotalShardsT, e.cfg.Pad)
	return e
}

// Start begins the Engine's background sweep of expired finalized-cache
// entries. ctx governs the Engine's lifetime and every processor spawned
// while it runs; Shutdown (or ctx's own cancellation) stops them all.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.sweepLoop()
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case now := <-ticker.C:
			e.registry.Sweep(now)
		}
	}
}

// Shutdown cancels every in-flight MessageProcessor and the sweep loop,
// then waits for them to exit. In-flight ComputePool jobs are allowed to
// complete and their results discarded, per §5.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.runCancel == nil {
		return ErrNotStarted
	}
	e.runCancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Gatherer exposes Propeller's prometheus collectors for a host process
// to fold into its own metrics surface, following the teacher's
// api/metrics.MultiGatherer pattern. Metrics *export* is out of scope
// (§1); the core only produces them.
func (e *Engine) Gatherer() prometheus.Gatherer {
	return e.gatherer
}

// RegisterChannel installs a new channel with its peer roster, per §4.8.
// scheme selects the sharding scheme (§4.4); totalT computes T for
// proportional schemes from the roster size, or nil to use the Engine's
// configured default.
func (e *Engine) RegisterChannel(id channel.ID, roster []sharding.Member, scheme sharding.Scheme, totalT func(n int) int) error {
	if _, err := e.registry.Register(id, e.local, roster); err != nil {
		return err
	}
	if totalT == nil {
		totalT = e.cfg.TotalShardsT
	}
	e.chOptsMu.Lock()
	e.chOpts[id] = channelOptions{scheme: scheme, totalT: totalT}
	e.chOptsMu.Unlock()
	return nil
}

// DeregisterChannel removes a channel's registration. Per SPEC_FULL.md's
// resolution of Open Question 3, its finalized cache is carried forward
// to the next RegisterChannel under the same id when
// Config.PersistFinalizedCacheAcrossReregister is set; otherwise it is
// dropped with the rest of the channel's state.
func (e *Engine) DeregisterChannel(id channel.ID) {
	e.registry.Deregister(id, e.cfg.PersistFinalizedCacheAcrossReregister)
	e.chOptsMu.Lock()
	delete(e.chOpts, id)
	e.chOptsMu.Unlock()
}

// Broadcast runs the full publisher-side pipeline (§4.7) for message over
// channel id and returns its MessageRoot. The new MessageKey is seeded
// directly into the finalized cache: the publisher has already observed
// its own message in full, so any unit that later arrives for this key is
// a duplicate, never a first delivery.
func (e *Engine) Broadcast(ctx context.Context, id channel.ID, message []byte) (merkle.Hash, error) {
	ch, err := e.registry.Get(id)
	if err != nil {
		return merkle.Hash{}, err
	}
	opts := e.optionsFor(id)

	bcast := broadcaster.New(e.crypto, e.transport, opts.scheme, opts.totalT, e.cfg.Pad)

	result, err := bcast.Broadcast(ctx, ch, message)
	if err != nil {
		return merkle.Hash{}, err
	}

	ch.MarkFinalized(result.Root, e.cfg.FinalizedMessageTTL)
	return result.Root, nil
}

// HandleIncoming decodes frame as a PropellerUnitBatch and routes each
// unit to its MessageProcessor. Errors are surfaced only via the event
// stream (ValidationFailed) per spec §6; decode failures are dropped with
// a trace log.
func (e *Engine) HandleIncoming(ctx context.Context, sender ids.NodeID, frame []byte) {
	for len(frame) > 0 {
		units, consumed, err := wire.DecodeFrame(frame, e.cfg.MaxWireMessageSize)
		if err != nil {
			e.log.Debug("dropping frame", "sender", sender.String(), "error", err)
			return
		}
		if consumed == 0 {
			return
		}
		frame = frame[consumed:]
		for _, u := range units {
			e.routeUnit(ctx, sender, u)
		}
	}
}

func (e *Engine) routeUnit(ctx context.Context, sender ids.NodeID, unit *wire.Unit) {
	id := channel.ID(unit.Channel)
	ch, err := e.registry.Get(id)
	if err != nil {
		e.log.Debug("unit on unknown channel", "channel", id)
		e.metrics.ShardsDropped.WithLabelValues("channel_unknown").Inc()
		return
	}
	if !ch.HasMember(sender) {
		e.log.Debug("unit from non-member", "sender", sender.String())
		e.metrics.ShardsDropped.WithLabelValues("non_member").Inc()
		return
	}

	var publisher ids.NodeID
	copy(publisher[:], unit.Publisher)

	key := channel.Key{Channel: id, Publisher: publisher, Root: unit.Root}
	if ch.IsFinalized(key.Root) {
		e.metrics.AlreadyFinalizedHits.Inc()
		return
	}

	ph, err := e.getOrCreateProcessor(ch, key)
	if err != nil {
		e.log.Debug("failed to spawn processor", "key", key.String(), "error", err)
		e.metrics.ShardsDropped.WithLabelValues("assignment_error").Inc()
		return
	}

	validator := ph.proc.Validator()
	resultCh := e.pool.Submit(func() (any, error) {
		return unit, validator.Validate(sender, unit)
	})

	go func() {
		select {
		case <-ctx.Done():
		case res := <-resultCh:
			if res.Err != nil {
				e.recordValidationFailure(key, res.Err)
				return
			}
			if !ph.proc.SubmitValidatedUnit(sender, unit) {
				e.metrics.ShardsDropped.WithLabelValues("queue_full").Inc()
				return
			}
			e.metrics.ShardsReceived.Inc()
		}
	}()
}

func (e *Engine) recordValidationFailure(key channel.Key, err error) {
	reason := reasonForValidationError(err)
	e.log.Debug("unit validation failed", "key", key.String(), "reason", reason)
	e.emit(event.ValidationFailed(key, reason))
}

func reasonForValidationError(err error) event.FailureReason {
	switch {
	case errors.Is(err, unitvalidator.ErrDuplicate):
		return event.ReasonDuplicate
	case errors.Is(err, unitvalidator.ErrUnexpectedSender):
		return event.ReasonUnexpectedSender
	case errors.Is(err, unitvalidator.ErrProofInvalid):
		return event.ReasonProofInvalid
	case errors.Is(err, unitvalidator.ErrSignatureInvalid):
		return event.ReasonSignatureInvalid
	default:
		return event.ReasonProofInvalid
	}
}

// getOrCreateProcessor returns the running Processor for key, spawning
// one (and its validator, from the channel's assignment) on first sight.
func (e *Engine) getOrCreateProcessor(ch *channel.Channel, key channel.Key) (*procHandle, error) {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	if ph, ok := e.procs[key]; ok {
		return ph, nil
	}
	if e.runCtx == nil {
		return nil, ErrNotStarted
	}

	opts := e.optionsFor(key.Channel)
	total := 0
	if opts.totalT != nil {
		total = opts.totalT(len(ch.Roster))
	}
	assignment, err := ch.Assignment(opts.scheme, key.Publisher, total)
	if err != nil {
		return nil, fmt.Errorf("engine: assignment for %s: %w", key.String(), err)
	}

	k := assignment.DataShards()
	m := assignment.Total() - k

	v := unitvalidator.New(e.crypto, assignment, e.local, key.Publisher, merkle.Hash(key.Root), validatorMode(e.cfg.ValidationMode))

	ctx, cancel := context.WithCancel(e.runCtx)
	gossipFn := func(unit *wire.Unit) {
		e.metrics.ShardsGossiped.Inc()
		go e.gossip.Send(ctx, ch.Roster, key.Publisher, unit)
	}
	emitFn := func(ev event.Event) { e.onTerminalEvent(ev) }
	finalizeFn := func(k channel.Key) { e.finalizeKey(ch, k) }

	p := processor.New(key, e.local, assignment, v, e.pool, k, m, e.cfg.Pad, e.cfg.ChannelCapacity, gossipFn, emitFn, finalizeFn, e.log)

	ph := &procHandle{proc: p, cancel: cancel}
	e.procs[key] = ph

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		p.Run(ctx, e.cfg.TaskTimeout)
	}()

	return ph, nil
}

func (e *Engine) onTerminalEvent(ev event.Event) {
	switch ev.Kind {
	case event.KindMessageReceived:
		e.metrics.MessagesDelivered.Inc()
	case event.KindReconstructionFailed:
		e.metrics.ReconstructionFailed.Inc()
	case event.KindMessageTimeout:
		e.metrics.MessagesTimedOut.Inc()
	}
	e.emit(ev)
}

func (e *Engine) finalizeKey(ch *channel.Channel, key channel.Key) {
	ch.MarkFinalized(key.Root, e.cfg.FinalizedMessageTTL)
	e.procMu.Lock()
	if ph, ok := e.procs[key]; ok {
		ph.cancel()
		delete(e.procs, key)
	}
	e.procMu.Unlock()
}

// emit pushes ev onto the event stream without blocking. A full queue
// means the application has stopped draining Events(); the Engine drops
// and logs rather than stalling a processor goroutine.
func (e *Engine) emit(ev event.Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Debug("event queue full, dropping", "kind", ev.Kind.String(), "key", ev.Key.String())
	}
}

// Events returns the channel applications drain for MessageReceived,
// ReconstructionFailed, MessageTimeout, and ValidationFailed events.
func (e *Engine) Events() <-chan event.Event { return e.events }

func (e *Engine) optionsFor(id channel.ID) channelOptions {
	e.chOptsMu.RLock()
	defer e.chOptsMu.RUnlock()
	if opts, ok := e.chOpts[id]; ok {
		return opts
	}
	return channelOptions{scheme: e.cfg.ShardingScheme, totalT: e.cfg.TotalShardsT}
}

func validatorMode(m config.ValidationMode) unitvalidator.Mode {
	if m == config.None {
		return unitvalidator.None
	}
	return unitvalidator.Strict
}
