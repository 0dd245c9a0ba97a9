package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSender struct {
	mu    sync.Mutex
	pings chan string
	pongs []string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{pings: make(chan string, 16)}
}

func (s *recordingSender) SendPing(id string) error {
	s.pings <- id
	return nil
}

func (s *recordingSender) SendPong(id string) error {
	s.mu.Lock()
	s.pongs = append(s.pongs, id)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) nextPing(t *testing.T) string {
	t.Helper()
	select {
	case id := <-s.pings:
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ping")
		return ""
	}
}

func startMonitor(t *testing.T) (*Monitor, *recordingSender, *clock.Mock) {
	mock := clock.NewMock()
	sender := newRecordingSender()
	m := NewMonitor(Config{}, sender, mock, zaptest.NewLogger(t))
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m, sender, mock
}

func TestMonitor_PingLoop(t *testing.T) {
	_, sender, mock := startMonitor(t)

	mock.Add(DefaultPingInterval)
	first := sender.nextPing(t)

	mock.Add(DefaultPingInterval)
	second := sender.nextPing(t)

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second, "every ping needs a fresh event id")
}

func TestMonitor_RTTSmoothing(t *testing.T) {
	m, sender, mock := startMonitor(t)

	var reports []Report
	m.OnReport(func(r Report) { reports = append(reports, r) })

	mock.Add(DefaultPingInterval)
	id := sender.nextPing(t)
	mock.Add(100 * time.Millisecond)
	m.HandlePong(id)
	assert.Equal(t, 100*time.Millisecond, m.AverageRTT(), "first sample seeds the average")

	mock.Add(DefaultPingInterval - 100*time.Millisecond)
	id = sender.nextPing(t)
	mock.Add(300 * time.Millisecond)
	m.HandlePong(id)
	assert.Equal(t, 140*time.Millisecond, m.AverageRTT())

	require.Len(t, reports, 2)
	assert.Equal(t, 300*time.Millisecond, reports[1].RTT)
	assert.True(t, reports[1].Healthy)
	assert.Equal(t, 2, reports[1].Samples)
}

func TestMonitor_HandlePing(t *testing.T) {
	m, sender, mock := startMonitor(t)

	mock.Add(time.Second)
	m.HandlePing("remote-1")

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{"remote-1"}, sender.pongs)
	assert.Equal(t, mock.Now(), m.LastRemotePing())
}

func TestMonitor_Healthy(t *testing.T) {
	m, sender, mock := startMonitor(t)

	assert.True(t, m.Healthy(), "fresh connections get a grace window")

	mock.Add(DefaultPingInterval)
	id := sender.nextPing(t)
	mock.Add(100 * time.Millisecond)
	m.HandlePong(id)
	assert.True(t, m.Healthy())

	for i := 0; i < DefaultMissedPongs+1; i++ {
		mock.Add(DefaultPingInterval)
		sender.nextPing(t)
	}
	assert.False(t, m.Healthy(), "missing pongs are unhealthy")
}

func TestMonitor_SlowRoundTrip(t *testing.T) {
	m, sender, mock := startMonitor(t)

	mock.Add(DefaultPingInterval)
	id := sender.nextPing(t)
	mock.Add(600 * time.Millisecond)
	m.HandlePong(id)

	report := m.Report()
	assert.False(t, report.Healthy, "slow round trips are unhealthy")
	assert.Equal(t, 600*time.Millisecond, report.AverageRTT)
}

func TestMonitor_IgnoresPongWithoutPing(t *testing.T) {
	m, _, _ := startMonitor(t)

	called := false
	m.OnReport(func(Report) { called = true })
	m.HandlePong("stray")

	assert.False(t, called)
	assert.Equal(t, time.Duration(0), m.AverageRTT())
}

func TestMonitor_StopIsSynchronous(t *testing.T) {
	m, sender, mock := startMonitor(t)
	m.Stop()

	mock.Add(5 * DefaultPingInterval)
	select {
	case id := <-sender.pings:
		t.Fatalf("unexpected ping %s after stop", id)
	case <-time.After(50 * time.Millisecond):
	}

	// stopping twice is harmless
	m.Stop()
}

func TestMonitor_ReportsWhenPongsStop(t *testing.T) {
	m, sender, mock := startMonitor(t)

	reports := make(chan Report, 8)
	m.OnReport(func(r Report) { reports <- r })

	mock.Add(DefaultPingInterval)
	id := sender.nextPing(t)
	mock.Add(100 * time.Millisecond)
	m.HandlePong(id)
	require.True(t, (<-reports).Healthy)

	// still inside the window: no report while health is unchanged
	for i := 0; i < DefaultMissedPongs; i++ {
		mock.Add(DefaultPingInterval)
		sender.nextPing(t)
	}
	select {
	case r := <-reports:
		t.Fatalf("unexpected report %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	mock.Add(DefaultPingInterval)
	id = sender.nextPing(t)
	select {
	case r := <-reports:
		assert.False(t, r.Healthy)
		assert.Equal(t, 1, r.Samples)
	case <-time.After(time.Second):
		t.Fatal("no report after pongs stopped")
	}

	mock.Add(100 * time.Millisecond)
	m.HandlePong(id)
	assert.True(t, (<-reports).Healthy, "a late pong recovers")
}
