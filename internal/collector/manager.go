package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-harvester/internal/logger"
)

// errors
var (
	ErrAlreadyRunning = errors.New("a harvest cycle is already running")
	ErrCycleAborted   = errors.New("harvest cycle aborted")
)

// RunStatus is the state of the run manager.
type RunStatus string

// RunStatus constants.
const (
	StatusIdle    RunStatus = "idle"
	StatusRunning RunStatus = "running"
)

// Cycle triggers.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// Cycle represents an active cycle.
type Cycle struct {
	ParsingSessionID uuid.UUID `json:"parsing_session_id"`
	StartedAt        time.Time `json:"started_at"`
	Trigger          string    `json:"trigger"`
	StopRequested    bool      `json:"stop_requested"`
}

// CycleRunner runs one cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, sessionID uuid.UUID, token *StopToken) *CycleReport
}

// RunManager ensures only one cycle runs at a time
// thread-safe
type RunManager struct {
	mu      sync.Mutex
	runner  CycleRunner
	current *Cycle
	token   *StopToken
	done    chan struct{}
	last    *CycleReport
	log     *logger.Logger
}

// NewRunManager creates a new run manager
func NewRunManager(runner CycleRunner, log *logger.Logger) *RunManager {
	if log == nil {
		log = logger.Get()
	}
	return &RunManager{runner: runner, log: log}
}

func (m *RunManager) begin(trigger string) (*Cycle, *StopToken, chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, nil, nil, ErrAlreadyRunning
	}

	m.current = &Cycle{
		ParsingSessionID: uuid.New(),
		StartedAt:        time.Now().UTC(),
		Trigger:          trigger,
	}
	m.token = NewStopToken()
	m.done = make(chan struct{})

	c := *m.current
	return &c, m.token, m.done, nil
}

func (m *RunManager) finish(report *CycleReport, done chan struct{}) {
	m.mu.Lock()
	m.current = nil
	m.token = nil
	if report != nil {
		m.last = report
	}
	m.done = nil
	m.mu.Unlock()
	close(done)
}

// Start starts a cycle in the background
// returns ErrAlreadyRunning if a cycle is already running
func (m *RunManager) Start() (*Cycle, error) {
	cycle, token, done, err := m.begin(TriggerManual)
	if err != nil {
		return nil, err
	}

	// the cycle outlives the request that started it
	go m.run(context.Background(), cycle, token, done)

	return cycle, nil
}

// RunOnce runs a cycle and waits for it to finish.
func (m *RunManager) RunOnce(ctx context.Context) (*CycleReport, error) {
	cycle, token, done, err := m.begin(TriggerSchedule)
	if err != nil {
		return nil, err
	}

	if report := m.run(ctx, cycle, token, done); report != nil {
		return report, nil
	}
	return nil, ErrCycleAborted
}

// run executes the cycle and always releases the slot, even when the runner panics.
func (m *RunManager) run(ctx context.Context, cycle *Cycle, token *StopToken, done chan struct{}) (report *CycleReport) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Interface("panic", r).
				Str("parsing_session_id", cycle.ParsingSessionID.String()).
				Msg("harvest cycle panicked")
			report = nil
		}
		m.finish(report, done)
	}()
	return m.runner.RunCycle(ctx, cycle.ParsingSessionID, token)
}

// Stop asks the running cycle to stop at its next checkpoint
// safe to call when no cycle is running; reports whether one was running
func (m *RunManager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return false
	}
	m.token.Stop()
	m.current.StopRequested = true
	m.log.Info().Str("parsing_session_id", m.current.ParsingSessionID.String()).Msg("stop requested")
	return true
}

// Status returns idle or running
func (m *RunManager) Status() RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return StatusRunning
	}
	return StatusIdle
}

// Current returns the running cycle, nil if idle
func (m *RunManager) Current() *Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// LastReport returns the report of the last finished cycle
func (m *RunManager) LastReport() *CycleReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Wait blocks until the running cycle finishes or ctx is done.
func (m *RunManager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
