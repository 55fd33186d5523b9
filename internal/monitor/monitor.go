package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradectl/internal/domain"
	"tradectl/internal/scheduler"
)

// StatusSource reports the backend's authoritative status for a trade.
type StatusSource interface {
	TradeStatus(ctx context.Context, tradeID string) (domain.TradeStatus, error)
}

// Transition is one observed status change.
type Transition struct {
	TradeID string
	From    domain.TradeStatus
	To      domain.TradeStatus
	At      time.Time
	// Legal is false when the backend skipped or reversed a step. The new
	// status is still adopted.
	Legal bool
}

// Options tune polling.
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultOptions polls once per second.
func DefaultOptions() Options {
	return Options{PollInterval: time.Second, PollTimeout: 10 * time.Second}
}

// Monitor tracks one trade's lifecycle by copying what the backend reports.
type Monitor struct {
	tradeID string
	source  StatusSource
	sched   scheduler.Scheduler
	opts    Options
	logger  zerolog.Logger

	mu      sync.Mutex
	state   domain.TradeStatus
	history []Transition
	subs    []func(Transition)
	task    scheduler.Task
	ctx     context.Context
	done    chan struct{}
	closed  bool
}

// New creates a monitor starting at initial, normally what trade creation
// returned.
func New(tradeID string, initial domain.TradeStatus, source StatusSource, sched scheduler.Scheduler, opts Options, logger zerolog.Logger) *Monitor {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}
	if !initial.Known() {
		initial = domain.StatusPending
	}
	m := &Monitor{
		tradeID: tradeID,
		source:  source,
		sched:   sched,
		opts:    opts,
		logger:  logger.With().Str("component", "trade_monitor").Str("trade_id", tradeID).Logger(),
		state:   initial,
		done:    make(chan struct{}),
	}
	if initial.IsTerminal() {
		m.finish()
	}
	return m
}

// TradeID returns the monitored trade.
func (m *Monitor) TradeID() string { return m.tradeID }

// Subscribe registers fn for every transition.
func (m *Monitor) Subscribe(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Start begins polling. It is a no-op once the trade is terminal or polling
// already runs.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.task != nil || m.source == nil {
		return
	}
	m.ctx = ctx
	m.task = m.sched.Every(m.opts.PollInterval, m.poll)
	m.logger.Debug().Str("status", string(m.state)).Dur("interval", m.opts.PollInterval).Msg("monitor started")
}

// Stop halts polling without changing state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.task != nil {
		m.task.Stop()
		m.task = nil
	}
}

func (m *Monitor) poll() {
	m.mu.Lock()
	ctx := m.ctx
	active := m.task != nil
	m.mu.Unlock()
	if !active {
		return
	}
	if ctx.Err() != nil {
		m.Stop()
		return
	}

	pollCtx, cancel := context.WithTimeout(ctx, m.opts.PollTimeout)
	status, err := m.source.TradeStatus(pollCtx, m.tradeID)
	cancel()
	if err != nil {
		m.logger.Debug().Err(err).Msg("status poll failed")
		return
	}
	m.Observe(status)
}

// Observe adopts status as reported by the backend. Repeats of the current
// state and statuses outside the lifecycle are ignored. It reports whether a
// transition was recorded.
func (m *Monitor) Observe(status domain.TradeStatus) bool {
	if status != "" && !status.Known() {
		m.logger.Warn().Str("status", string(status)).Msg("ignoring unknown trade status")
		return false
	}

	m.mu.Lock()
	if m.closed || status == "" || status == m.state {
		m.mu.Unlock()
		return false
	}

	tr := Transition{
		TradeID: m.tradeID,
		From:    m.state,
		To:      status,
		At:      m.sched.Now(),
		Legal:   m.state.CanTransition(status),
	}
	m.state = status
	m.history = append(m.history, tr)
	if status.IsTerminal() {
		m.stopLocked()
		m.finish()
	}
	subs := append([]func(Transition){}, m.subs...)
	m.mu.Unlock()

	ev := m.logger.Info()
	if !tr.Legal {
		ev = m.logger.Warn().Bool("unexpected", true)
	}
	ev.Str("from", string(tr.From)).Str("to", string(tr.To)).Msg("trade status changed")

	for _, fn := range subs {
		fn(tr)
	}
	return true
}

// caller holds m.mu or owns m exclusively
func (m *Monitor) finish() {
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// State returns the last observed status.
func (m *Monitor) State() domain.TradeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns the transitions observed so far.
func (m *Monitor) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// Done is closed once the trade reaches a terminal state.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Stage is one step of the progress display.
type Stage struct {
	Status  domain.TradeStatus
	Reached bool
}

// Stages lays out the finite progress of the trade and the index of the
// current stage. A failed trade ends at its failure state instead of
// COMPLETED.
func (m *Monitor) Stages() ([]Stage, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	confirmed := m.state == domain.StatusPaymentConfirmed
	for _, tr := range m.history {
		if tr.To == domain.StatusPaymentConfirmed {
			confirmed = true
		}
	}

	stages := []Stage{{Status: domain.StatusPending, Reached: true}}
	switch m.state {
	case domain.StatusCancelled, domain.StatusExpired, domain.StatusFailed:
		if confirmed {
			stages = append(stages, Stage{Status: domain.StatusPaymentConfirmed, Reached: true})
		}
		stages = append(stages, Stage{Status: m.state, Reached: true})
	default:
		stages = append(stages,
			Stage{Status: domain.StatusPaymentConfirmed, Reached: confirmed || m.state == domain.StatusCompleted},
			Stage{Status: domain.StatusCompleted, Reached: m.state == domain.StatusCompleted},
		)
	}

	current := 0
	for i, st := range stages {
		if st.Status == m.state {
			current = i
		}
	}
	return stages, current
}
