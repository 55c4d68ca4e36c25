package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/proto"
)

// Default liveness parameters.
const (
	DefaultHeartbeatTimeout = 180 * time.Second
	DefaultSweepInterval    = 30 * time.Second
	DefaultFailureThreshold = 3
)

var sessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meshbridge",
	Subsystem: "coordinator",
	Name:      "session_transitions_total",
	Help:      "Count of session offline/cleanup/force_cleanup transitions by kind.",
}, []string{"kind"})

var udpFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "meshbridge",
	Subsystem: "coordinator",
	Name:      "udp_failures_total",
	Help:      "Count of failures recorded against any session through RecordFailure (malformed datagrams from a known root).",
})

func init() {
	prometheus.MustRegister(sessionTransitions)
	prometheus.MustRegister(udpFailures)
}

// LivenessMonitor periodically sweeps the session registry applying
// the timeout, failure-threshold, and cleanup rules below. Same
// interval/context/waitgroup shutdown shape as a generic health
// monitor, applied to sessions instead of HTTP health checks.
type LivenessMonitor struct {
	Registry *SessionRegistry
	Store    *StateStore
	Log      *zap.Logger

	HeartbeatTimeout time.Duration
	FailureThreshold int
	SweepInterval    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLivenessMonitor returns a monitor configured with the package
// defaults above; fields can be overridden before calling Start.
func NewLivenessMonitor(registry *SessionRegistry, store *StateStore, log *zap.Logger) *LivenessMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LivenessMonitor{
		Registry:         registry,
		Store:            store,
		Log:              log,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		FailureThreshold: DefaultFailureThreshold,
		SweepInterval:    DefaultSweepInterval,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Start runs the periodic sweep until ctx (or the monitor's own
// context) is canceled. Meant to be run in its own goroutine.
func (m *LivenessMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}
	interval := m.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sweep()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitor and waits for its goroutine to exit.
func (m *LivenessMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *LivenessMonitor) sweep() {
	now := time.Now()
	timeout := m.HeartbeatTimeout
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	cleanupAge := 2 * timeout

	for _, s := range m.Registry.All() {
		age := now.Sub(s.lastActivity())

		if !s.Offline && age > timeout {
			m.Registry.MarkOffline(s.MeshID)
			sessionTransitions.WithLabelValues("offline").Inc()
			m.Log.Warn("liveness: session timed out", zap.String("mesh_id", s.MeshID.String()), zap.Duration("age", age))
			continue
		}

		if s.Offline && age > cleanupAge {
			m.Registry.Remove(s.MeshID)
			m.Store.Remove(s.MeshID)
			sessionTransitions.WithLabelValues("cleanup").Inc()
			m.Log.Info("liveness: removed offline session", zap.String("mesh_id", s.MeshID.String()), zap.Duration("age", age))
		}
	}
}

// ForceCleanup removes every currently-offline session immediately,
// the administrative reset path for operator-triggered cleanup.
func (m *LivenessMonitor) ForceCleanup() int {
	removed := m.Registry.RemoveOfflineNow()
	if removed > 0 {
		sessionTransitions.WithLabelValues("force_cleanup").Add(float64(removed))
		m.Log.Info("liveness: force cleanup removed sessions", zap.Int("count", removed))
	}
	return removed
}

// RecordFailure bumps meshID's UDP-failure counter, marking the
// session offline once FailureThreshold is reached.
func (m *LivenessMonitor) RecordFailure(meshID proto.MeshID) {
	threshold := m.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	udpFailures.Inc()
	m.Registry.MarkFailure(meshID, threshold)
}
