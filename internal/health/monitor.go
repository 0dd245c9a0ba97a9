// Package health measures connection liveness with application level
// ping/pong round trips.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPingInterval = 2000 * time.Millisecond
	DefaultRTTThreshold = 500 * time.Millisecond
	DefaultMissedPongs  = 3
)

// Config configures a Monitor
type Config struct {
	Interval     time.Duration `yaml:"interval"`
	RTTThreshold time.Duration `yaml:"rtt_threshold"`
	// MissedPongs is how many intervals may pass without a pong before the
	// connection is reported unhealthy. Values below 2 fall back to the default.
	MissedPongs int `yaml:"missed_pongs"`
}

// Sender writes ping and pong frames to the socket
type Sender interface {
	SendPing(eventID string) error
	SendPong(eventID string) error
}

// Report is a snapshot of connection health
type Report struct {
	RTT        time.Duration `json:"rtt"`
	AverageRTT time.Duration `json:"average_rtt"`
	Healthy    bool          `json:"healthy"`
	LastPong   time.Time     `json:"last_pong"`
	Samples    int           `json:"samples"`
}

// Monitor sends periodic pings, answers the peer's pings and smooths the
// measured round trip time. It only observes: an unhealthy connection is
// reported, never closed.
type Monitor struct {
	cfg    Config
	sender Sender
	clock  clock.Clock
	logger *zap.Logger

	onReport func(Report)

	mu             sync.Mutex
	startedAt      time.Time
	lastPingID     string
	lastPingSent   time.Time
	lastPong       time.Time
	lastRemotePing time.Time
	lastRTT        time.Duration
	averageRTT     time.Duration
	samples        int
	// health carried by the last report handed to onReport
	reportedHealthy bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. A nil clock uses the wall clock.
func NewMonitor(cfg Config, sender Sender, clk clock.Clock, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPingInterval
	}
	if cfg.RTTThreshold <= 0 {
		cfg.RTTThreshold = DefaultRTTThreshold
	}
	if cfg.MissedPongs < 2 {
		cfg.MissedPongs = DefaultMissedPongs
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		cfg:    cfg,
		sender: sender,
		clock:  clk,
		logger: logger,
	}
}

// OnReport registers fn to receive a report after every pong and whenever a
// tick finds the health has changed. Set it before Start.
func (m *Monitor) OnReport(fn func(Report)) {
	m.onReport = fn
}

// Start resets the measurements and begins the ping loop. Calling Start on
// a running monitor restarts it.
func (m *Monitor) Start(ctx context.Context) {
	m.Stop()

	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	m.startedAt = m.clock.Now()
	m.lastPingID = ""
	m.lastPingSent = time.Time{}
	m.lastPong = time.Time{}
	m.lastRemotePing = time.Time{}
	m.lastRTT = 0
	m.averageRTT = 0
	m.samples = 0
	m.reportedHealthy = true
	m.mu.Unlock()

	ticker := m.clock.Ticker(m.cfg.Interval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ping()
				m.check()
			}
		}
	}()

	m.logger.Debug("Health monitor started", zap.Duration("interval", m.cfg.Interval))
}

// Stop ends the ping loop and waits for it to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.wg.Wait()
		m.logger.Debug("Health monitor stopped")
	}
}

func (m *Monitor) ping() {
	id := uuid.NewString()

	// a newer ping supersedes any unanswered one
	m.mu.Lock()
	m.lastPingID = id
	m.lastPingSent = m.clock.Now()
	m.mu.Unlock()

	if err := m.sender.SendPing(id); err != nil {
		m.logger.Warn("Failed to send ping", zap.String("eventID", id), zap.Error(err))
	}
}

// check reports when the health seen by the last report no longer holds,
// such as when pongs stop arriving.
func (m *Monitor) check() {
	m.mu.Lock()
	report := m.reportLocked(m.clock.Now())
	changed := report.Healthy != m.reportedHealthy
	m.reportedHealthy = report.Healthy
	m.mu.Unlock()

	if !changed {
		return
	}
	if !report.Healthy {
		m.logger.Warn("Connection unhealthy",
			zap.Time("lastPong", report.LastPong),
			zap.Duration("averageRTT", report.AverageRTT))
	}
	if m.onReport != nil {
		m.onReport(report)
	}
}

// HandlePing answers a ping from the peer right away
func (m *Monitor) HandlePing(eventID string) {
	m.mu.Lock()
	m.lastRemotePing = m.clock.Now()
	m.mu.Unlock()

	if err := m.sender.SendPong(eventID); err != nil {
		m.logger.Warn("Failed to send pong", zap.String("eventID", eventID), zap.Error(err))
	}
}

// HandlePong measures the round trip of the latest ping
func (m *Monitor) HandlePong(eventID string) {
	m.mu.Lock()
	if m.lastPingSent.IsZero() {
		m.mu.Unlock()
		m.logger.Debug("Ignoring pong without outstanding ping", zap.String("eventID", eventID))
		return
	}

	now := m.clock.Now()
	rtt := now.Sub(m.lastPingSent)
	if eventID != "" && eventID != m.lastPingID {
		m.logger.Debug("Pong does not match latest ping",
			zap.String("eventID", eventID),
			zap.String("latestPingID", m.lastPingID))
	}

	if m.samples == 0 {
		m.averageRTT = rtt
	} else {
		// 0.2 new sample, 0.8 history
		m.averageRTT = (rtt + 4*m.averageRTT) / 5
	}
	m.samples++
	m.lastRTT = rtt
	m.lastPong = now
	report := m.reportLocked(now)
	m.reportedHealthy = report.Healthy
	m.mu.Unlock()

	if !report.Healthy {
		m.logger.Warn("Connection unhealthy",
			zap.Duration("rtt", rtt),
			zap.Duration("averageRTT", report.AverageRTT))
	}

	if m.onReport != nil {
		m.onReport(report)
	}
}

// Report returns the current health snapshot
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportLocked(m.clock.Now())
}

// Healthy reports whether the smoothed RTT is under the threshold and a
// pong arrived recently
func (m *Monitor) Healthy() bool {
	return m.Report().Healthy
}

// AverageRTT returns the smoothed round trip time
func (m *Monitor) AverageRTT() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.averageRTT
}

// LastRemotePing returns when the peer last pinged us
func (m *Monitor) LastRemotePing() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRemotePing
}

func (m *Monitor) reportLocked(now time.Time) Report {
	reference := m.lastPong
	if reference.IsZero() {
		reference = m.startedAt
	}
	window := time.Duration(m.cfg.MissedPongs) * m.cfg.Interval
	recent := !reference.IsZero() && now.Sub(reference) <= window

	return Report{
		RTT:        m.lastRTT,
		AverageRTT: m.averageRTT,
		Healthy:    recent && m.averageRTT < m.cfg.RTTThreshold,
		LastPong:   m.lastPong,
		Samples:    m.samples,
	}
}
