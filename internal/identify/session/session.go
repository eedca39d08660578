// Package session tracks per-terminal scan sessions. A terminal has at most
// one active scan; Idle -> Scanning -> one of {CredentialResolved, Timeout,
// Error, Cancelled} -> Idle. Starting a new scan cancels the active one
// rather than running two concurrently.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gemma/internal/identify/metrics"
	"gemma/internal/identify/models"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
)

// State is the scan session lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateResolved  State = "credential_resolved"
	StateTimeout   State = "timeout"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// Outcome is the terminal result of one scan session. Exactly one Outcome is
// delivered per started scan.
type Outcome struct {
	State      State              `json:"state"`
	Resolution *models.Resolution `json:"resolution,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// Scan is a handle on one started session. Done receives the single Outcome
// and is then closed.
type Scan struct {
	ID         uuid.UUID      `json:"id"`
	TerminalID id.TerminalID  `json:"terminal_id"`
	StartedAt  time.Time      `json:"started_at"`
	Done       <-chan Outcome `json:"-"`
}

type activeScan struct {
	id        uuid.UUID
	startedAt time.Time
	timer     *time.Timer
	done      chan Outcome
}

// Manager owns the scan sessions of every terminal.
type Manager struct {
	mu      sync.Mutex
	scans   map[id.TerminalID]*activeScan
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(met *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = met
	}
}

// NewManager creates a session manager. timeout bounds how long a terminal
// waits for a credential before the session ends in Timeout.
func NewManager(timeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		scans:   make(map[id.TerminalID]*activeScan),
		timeout: timeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins a scan on the terminal. Any scan already in progress on the
// same terminal is cancelled first; other terminals are unaffected.
func (m *Manager) Start(terminal id.TerminalID) (*Scan, error) {
	if terminal == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "terminal id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.scans[terminal]; ok {
		m.finishLocked(terminal, prev, Outcome{State: StateCancelled, Message: "superseded by a new scan"})
	}

	scan := &activeScan{
		id:        uuid.New(),
		startedAt: m.now(),
		done:      make(chan Outcome, 1),
	}
	scanID := scan.id
	scan.timer = time.AfterFunc(m.timeout, func() {
		m.expire(terminal, scanID)
	})
	m.scans[terminal] = scan

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	m.logger.Debug("scan started", "terminal_id", terminal, "scan_id", scan.id)

	return &Scan{
		ID:         scan.id,
		TerminalID: terminal,
		StartedAt:  scan.startedAt,
		Done:       scan.done,
	}, nil
}

// Resolve delivers a resolved credential to the terminal's active scan.
// Reports CodeConflict when no scan is in progress, which happens when the
// session already timed out or a tap arrives with no operator waiting.
func (m *Manager) Resolve(terminal id.TerminalID, resolution *models.Resolution) error {
	return m.finish(terminal, Outcome{State: StateResolved, Resolution: resolution})
}

// Fail ends the terminal's active scan with an error outcome, typically a
// failed resolution or a dropped hardware connection.
func (m *Manager) Fail(terminal id.TerminalID, message string) error {
	return m.finish(terminal, Outcome{State: StateError, Message: message})
}

// Cancel ends the terminal's active scan at the operator's request.
func (m *Manager) Cancel(terminal id.TerminalID) error {
	return m.finish(terminal, Outcome{State: StateCancelled, Message: "cancelled by operator"})
}

// State reports the terminal's current lifecycle state.
func (m *Manager) State(terminal id.TerminalID) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scans[terminal]; ok {
		return StateScanning
	}
	return StateIdle
}

// AbortAll ends every active scan with an error outcome. Called by the
// bridge when the hardware connection drops: a scan never silently resumes
// across a reconnect, the operator must restart it.
func (m *Manager) AbortAll(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for terminal, scan := range m.scans {
		m.finishLocked(terminal, scan, Outcome{State: StateError, Message: message})
	}
}

func (m *Manager) finish(terminal id.TerminalID, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scan, ok := m.scans[terminal]
	if !ok {
		return dErrors.New(dErrors.CodeConflict, "no scan in progress")
	}
	m.finishLocked(terminal, scan, outcome)
	return nil
}

// expire only times out the scan it was armed for; the terminal may already
// be running a newer session.
func (m *Manager) expire(terminal id.TerminalID, scanID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scan, ok := m.scans[terminal]
	if !ok || scan.id != scanID {
		return
	}
	m.finishLocked(terminal, scan, Outcome{State: StateTimeout, Message: "no credential presented"})
}

// finishLocked delivers the outcome and returns the terminal to Idle.
// Callers hold m.mu.
func (m *Manager) finishLocked(terminal id.TerminalID, scan *activeScan, outcome Outcome) {
	scan.timer.Stop()
	delete(m.scans, terminal)

	scan.done <- outcome
	close(scan.done)

	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
		m.metrics.SessionOutcomes.WithLabelValues(string(outcome.State)).Inc()
	}
	m.logger.Debug("scan finished",
		"terminal_id", terminal, "scan_id", scan.id, "state", outcome.State)
}
