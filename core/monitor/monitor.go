// Package monitor watches the bridge program on the origin chain and mints
// every lock addressed to the configured minter.
//
// Candidates arrive from three producers: the log subscription, a fast
// poll of recent signatures and a slower sweep back to the last checked
// height. All of them only enqueue. A single goroutine drains the queue, so
// at most one mint is in flight.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/replay"
	"github.com/unicitynetwork/sol-bridge-go/core/sink"
	"github.com/unicitynetwork/sol-bridge-go/core/submitter"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval         = 3 * time.Second
	DefaultMissedTxPollInterval = 10 * time.Minute
	DefaultFlushInterval        = 30 * time.Second
	DefaultPageLimit            = 1000
	DefaultRetryBackoff         = time.Second
	DefaultMaxRetryBackoff      = time.Minute
	DefaultMaxAttempts          = 5
)

type Config struct {
	ProgramID     string `yaml:"-" validate:"required"`
	MinterAddress string `yaml:"-" validate:"required"`

	PollInterval         time.Duration `yaml:"poll_interval"`
	MissedTxPollInterval time.Duration `yaml:"missed_tx_poll_interval"`
	FlushInterval        time.Duration `yaml:"flush_interval"`
	PageLimit            int           `yaml:"page_limit"`

	// Unavailability retries happen in place. When attempts run out the
	// candidate is left for the next poll.
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

func (c *Config) SetDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MissedTxPollInterval == 0 {
		c.MissedTxPollInterval = DefaultMissedTxPollInterval
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.PageLimit == 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = DefaultMaxRetryBackoff
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

type ProofBuilder interface {
	Build(ctx context.Context, ev types.LockEvent, sig string, slot uint64) (*types.Proof, error)
}

type ProofValidator interface {
	Validate(ctx context.Context, p *types.Proof) (*types.ValidatedProof, error)
}

type Minter interface {
	Mint(ctx context.Context, vp *types.ValidatedProof, minterAddress string) (*submitter.Result, error)
}

// Subscription pushes program log notifications. origin.LogSubscriber
// implements it.
type Subscription interface {
	Run(ctx context.Context, handle origin.LogHandler) error
}

// Deps are the pipeline stages the monitor drives.
type Deps struct {
	Client    origin.Client  `validate:"required"`
	Builder   ProofBuilder   `validate:"required"`
	Validator ProofValidator `validate:"required"`
	Minter    Minter         `validate:"required"`
	Guard     *replay.Guard  `validate:"required"`
}

type Monitor struct {
	cfg          Config
	deps         Deps
	subscription Subscription
	sink         sink.Sink
	queue        *Queue
	logger       *zap.Logger

	mu     sync.Mutex
	newest string
	// deferred candidates wait on the origin chain and are re-pushed by poll
	deferred map[string]uint64
	// outstanding holds the slot of every candidate pushed but not yet
	// settled for good; the checked height stays below all of them
	outstanding map[string]uint64
	// sweptTo is the newest slot a completed sweep has seen
	sweptTo uint64
	// unpublished holds minted artifacts, by lock id, that no sink has taken yet
	unpublished map[string]*types.MintedArtifact
	counts      map[Outcome]uint64
}

type Option func(*Monitor)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func WithSubscription(s Subscription) Option {
	return func(m *Monitor) {
		m.subscription = s
	}
}

// WithSink publishes every minted artifact to s.
func WithSink(s sink.Sink) Option {
	return func(m *Monitor) {
		m.sink = s
	}
}

func New(cfg Config, deps Deps, options ...Option) (*Monitor, error) {
	cfg.SetDefaults()
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "monitor config")
	}
	if err := v.Struct(deps); err != nil {
		return nil, errors.Wrap(err, "monitor dependencies")
	}
	m := &Monitor{
		cfg:      cfg,
		deps:     deps,
		queue:    NewQueue(),
		deferred:    map[string]uint64{},
		outstanding: map[string]uint64{},
		unpublished: map[string]*types.MintedArtifact{},
		counts:      map[Outcome]uint64{},
	}
	for _, option := range options {
		option(m)
	}
	m.logger = logging.Or(m.logger).With(zap.String("component", "monitor"))
	return m, nil
}

// Enqueue adds a candidate without blocking.
func (m *Monitor) Enqueue(c Candidate) bool {
	return m.push(c)
}

// push queues c and tracks it until it settles for good. A zero slot is
// unknown and holds the checked height where it is.
func (m *Monitor) push(c Candidate) bool {
	m.mu.Lock()
	if cur, ok := m.outstanding[c.Signature]; !ok || cur == 0 || (c.Slot != 0 && c.Slot < cur) {
		m.outstanding[c.Signature] = c.Slot
	}
	m.mu.Unlock()
	return m.queue.Push(c)
}

// checkpoint raises the checked height to just below the oldest unsettled
// candidate, never past what the last sweep covered.
func (m *Monitor) checkpoint() {
	m.mu.Lock()
	safe := m.sweptTo
	for _, slot := range m.outstanding {
		if slot == 0 {
			safe = 0
			break
		}
		if slot <= safe {
			safe = slot - 1
		}
	}
	m.mu.Unlock()
	m.deps.Guard.AdvanceHeight(safe)
}

// Count returns how many candidates ended with outcome o.
func (m *Monitor) Count(o Outcome) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[o]
}

// Run loads the replay state and processes candidates until ctx is done.
// The replay state is flushed periodically and once more on return.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.deps.Guard.Load(ctx); err != nil {
		return errors.Wrap(err, "load replay state")
	}
	m.logger.Info("monitor started",
		zap.String("program_id", m.cfg.ProgramID),
		zap.String("minter", m.cfg.MinterAddress),
		zap.Uint64("last_checked_height", m.deps.Guard.LastCheckedHeight()),
		zap.Int("processed", m.deps.Guard.Len()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.processLoop(gctx) })
	if m.subscription != nil {
		g.Go(func() error { return m.subscription.Run(gctx, m.onLog) })
	}
	g.Go(func() error { return m.every(gctx, "poll", m.cfg.PollInterval, m.poll) })
	g.Go(func() error { return m.every(gctx, "missed transaction sweep", m.cfg.MissedTxPollInterval, m.sweep) })
	g.Go(func() error { return m.every(gctx, "replay flush", m.cfg.FlushInterval, m.deps.Guard.Flush) })
	err := g.Wait()

	if ferr := m.deps.Guard.Flush(context.Background()); ferr != nil {
		m.logger.Error("final replay flush failed", zap.Error(ferr))
		if err == nil {
			err = ferr
		}
	}
	m.logger.Info("monitor stopped",
		zap.Uint64("minted", m.Count(OutcomeMinted)),
		zap.Uint64("duplicates", m.Count(OutcomeDuplicate)),
		zap.Uint64("failed", m.Count(OutcomeFailed)),
		zap.Int("queued", m.queue.Len()))
	return err
}

func (m *Monitor) onLog(n origin.LogNotification) {
	m.push(Candidate{Signature: n.Signature, Slot: n.Slot, Source: SourceSubscription})
}

func (m *Monitor) processLoop(ctx context.Context) error {
	for {
		c, err := m.queue.Pop(ctx)
		if err != nil {
			return nil
		}
		m.Process(ctx, c)
	}
}

// every runs fn now and then on every tick. Failures are logged; the next
// tick tries again.
func (m *Monitor) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn(name+" failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// poll enqueues signatures newer than the newest one seen, plus every
// candidate still waiting on the origin chain.
func (m *Monitor) poll(ctx context.Context) error {
	m.mu.Lock()
	newest := m.newest
	m.mu.Unlock()

	var infos []origin.SignatureInfo
	var err error
	if newest == "" {
		// the sweep covers history; only pick up the starting point here
		infos, err = m.deps.Client.GetSignaturesForAddress(ctx, m.cfg.ProgramID, origin.SignaturesOptions{Limit: 1})
	} else {
		infos, err = m.fetch(ctx, newest, 0)
	}
	if err != nil {
		return err
	}
	if len(infos) > 0 {
		m.mu.Lock()
		m.newest = infos[0].Signature
		m.mu.Unlock()
	}
	m.enqueue(infos, SourcePoll)

	m.mu.Lock()
	retry := make([]Candidate, 0, len(m.deferred))
	for sig, slot := range m.deferred {
		retry = append(retry, Candidate{Signature: sig, Slot: slot, Source: SourcePoll})
	}
	m.mu.Unlock()
	for _, c := range retry {
		m.push(c)
	}
	return nil
}

// sweep walks back to the last checked height, or further when an older
// candidate is still deferred, and enqueues everything not yet processed.
func (m *Monitor) sweep(ctx context.Context) error {
	floor := m.deps.Guard.LastCheckedHeight()
	m.mu.Lock()
	for _, slot := range m.deferred {
		floor = min(floor, slot)
	}
	m.mu.Unlock()

	infos, err := m.fetch(ctx, "", floor)
	if err != nil {
		return err
	}
	n := m.enqueue(infos, SourceSweep)
	if len(infos) > 0 {
		m.mu.Lock()
		m.sweptTo = max(m.sweptTo, infos[0].Slot)
		m.mu.Unlock()
	}
	m.checkpoint()
	m.logger.Info("missed transaction sweep",
		zap.Uint64("from_slot", floor),
		zap.Int("seen", len(infos)),
		zap.Int("enqueued", n))
	return nil
}

// fetch pages through program signatures, newest first, stopping at until
// or below floor.
func (m *Monitor) fetch(ctx context.Context, until string, floor uint64) ([]origin.SignatureInfo, error) {
	var out []origin.SignatureInfo
	before := ""
	for {
		page, err := m.deps.Client.GetSignaturesForAddress(ctx, m.cfg.ProgramID, origin.SignaturesOptions{
			Before: before,
			Until:  until,
			Limit:  m.cfg.PageLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, info := range page {
			if info.Slot < floor {
				return out, nil
			}
			out = append(out, info)
		}
		if len(page) < m.cfg.PageLimit {
			return out, nil
		}
		before = page[len(page)-1].Signature
	}
}

// enqueue pushes unprocessed signatures oldest first.
func (m *Monitor) enqueue(infos []origin.SignatureInfo, source string) int {
	n := 0
	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		if m.deps.Guard.IsProcessed(info.Signature) {
			continue
		}
		if m.push(Candidate{Signature: info.Signature, Slot: info.Slot, Source: source}) {
			n++
		}
	}
	return n
}

// Process runs one candidate through the pipeline and records the outcome.
func (m *Monitor) Process(ctx context.Context, c Candidate) Outcome {
	log := m.logger.With(
		zap.String("trace_id", uuid.NewString()),
		zap.String("signature", c.Signature),
		zap.String("source", c.Source))

	if m.deps.Guard.IsProcessed(c.Signature) {
		log.Debug("already processed")
		m.settle(log, c, OutcomeAlreadyProcessed, c.Slot, nil)
		return OutcomeAlreadyProcessed
	}

	backoff := m.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		outcome, slot, err := m.attempt(ctx, log, c)
		if outcome != OutcomeUnavailable || attempt >= m.cfg.MaxAttempts || ctx.Err() != nil {
			m.settle(log, c, outcome, slot, err)
			return outcome
		}
		log.Warn("unavailable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			m.settle(log, c, OutcomeUnavailable, slot, ctx.Err())
			return OutcomeUnavailable
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, m.cfg.MaxRetryBackoff)
	}
}

func (m *Monitor) attempt(ctx context.Context, log *zap.Logger, c Candidate) (Outcome, uint64, error) {
	raw, err := m.deps.Client.GetTransaction(ctx, c.Signature)
	if err != nil {
		return m.classify(ctx, err), c.Slot, err
	}
	if raw.Empty() {
		return OutcomePending, c.Slot, errors.Wrap(types.ErrTransactionNotFound, "not yet available")
	}
	view, err := raw.View()
	if err != nil {
		return OutcomeFailed, c.Slot, errors.Wrap(types.ErrMalformedEvent, err.Error())
	}
	slot := view.Slot
	if slot == 0 {
		slot = c.Slot
	}
	switch {
	case view.Failed():
		return OutcomeIgnored, slot, errors.Errorf("failed on origin chain: %s", extractor.DescribeTransactionError(view.Err))
	case !view.Invokes(m.cfg.ProgramID):
		return OutcomeIgnored, slot, errors.New("bridge program not invoked")
	}
	locks, err := extractor.ParseLogs(view.LogMessages, m.cfg.ProgramID)
	if err != nil {
		return OutcomeFailed, slot, err
	}
	if len(locks) == 0 {
		return OutcomeIgnored, slot, errors.New("no lock event")
	}

	// a transaction may lock more than once; the worst outcome wins
	result := OutcomeIgnored
	var resultErr error
	for _, ev := range locks {
		outcome, err := m.mintLock(ctx, log.With(zap.String("lock_id", ev.LockIDHex())), ev, c.Signature, slot)
		if outcome.worse(result) {
			result, resultErr = outcome, err
		}
	}
	return result, slot, resultErr
}

func (m *Monitor) mintLock(ctx context.Context, log *zap.Logger, ev types.LockEvent, sig string, slot uint64) (Outcome, error) {
	p, err := m.deps.Builder.Build(ctx, ev, sig, slot)
	if err != nil {
		return m.classify(ctx, err), err
	}
	vp, err := m.deps.Validator.Validate(ctx, p)
	if err != nil {
		return m.classify(ctx, err), err
	}
	if vp.Pending() {
		log.Warn("minting before origin block is verified", zap.String("reason", vp.Validation.Reason))
	}

	// a mint whose artifact was not published is not minted again; a second
	// submission would only come back as a duplicate without an artifact
	m.mu.Lock()
	held := m.unpublished[ev.LockIDHex()]
	m.mu.Unlock()
	if held != nil {
		return m.publish(ctx, log, ev, held)
	}

	res, err := m.deps.Minter.Mint(ctx, vp, m.cfg.MinterAddress)
	if err != nil {
		return m.classify(ctx, err), err
	}
	if res.Duplicate {
		return OutcomeDuplicate, errors.Wrap(types.ErrRequestIDExists, res.Commitment.RequestID)
	}
	return m.publish(ctx, log, ev, res.Artifact)
}

// publish hands a to the sink. On failure a is held and the lock reported
// unavailable, so the signature stays unmarked and is retried.
func (m *Monitor) publish(ctx context.Context, log *zap.Logger, ev types.LockEvent, a *types.MintedArtifact) (Outcome, error) {
	if m.sink != nil {
		if err := m.sink.Publish(ctx, a); err != nil {
			m.mu.Lock()
			m.unpublished[ev.LockIDHex()] = a
			m.mu.Unlock()
			log.Error("artifact not published", zap.String("token_id", a.Token.TokenID), zap.Error(err))
			return OutcomeUnavailable, errors.Wrap(types.ErrArtifactNotPublished, err.Error())
		}
	}
	m.mu.Lock()
	delete(m.unpublished, ev.LockIDHex())
	m.mu.Unlock()
	return OutcomeMinted, nil
}

func (m *Monitor) classify(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return OutcomeUnavailable
	}
	if errors.Is(err, types.ErrTransactionNotFound) {
		return OutcomePending
	}
	switch types.Classify(err) {
	case types.ClassDuplicate:
		return OutcomeDuplicate
	case types.ClassPending:
		return OutcomePending
	case types.ClassUnavailable:
		return OutcomeUnavailable
	default:
		return OutcomeFailed
	}
}

// settle records a definitive outcome in the replay guard. Pending and
// unavailable candidates stay unmarked and are retried by the next poll.
func (m *Monitor) settle(log *zap.Logger, c Candidate, outcome Outcome, slot uint64, err error) {
	m.mu.Lock()
	m.counts[outcome]++
	if outcome.definitive() {
		delete(m.deferred, c.Signature)
		delete(m.outstanding, c.Signature)
	} else {
		m.deferred[c.Signature] = slot
		if _, ok := m.outstanding[c.Signature]; !ok || slot != 0 {
			m.outstanding[c.Signature] = slot
		}
	}
	m.mu.Unlock()

	if outcome.definitive() && outcome != OutcomeAlreadyProcessed {
		m.deps.Guard.MarkProcessed(c.Signature)
	}
	m.checkpoint()

	log = log.With(zap.Uint64("slot", slot), zap.Stringer("outcome", outcome))
	switch outcome {
	case OutcomeMinted:
		log.Info("lock minted")
	case OutcomeDuplicate:
		log.Info("replay prevented", zap.Error(err))
	case OutcomeIgnored:
		log.Debug("transaction ignored", zap.Error(err))
	case OutcomePending:
		log.Info("waiting on origin chain", zap.Error(err))
	case OutcomeUnavailable:
		log.Warn("left for retry", zap.Error(err))
	case OutcomeFailed:
		log.Error("lock rejected", zap.Error(err))
	}
}
