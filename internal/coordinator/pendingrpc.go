package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultRPCDeadline  = 8 * time.Second
	DefaultJanitorSweep = 5 * time.Minute
)

// pendingRPC is one outstanding request/response waiter, keyed by its
// 16-bit sequence number.
type pendingRPC struct {
	deadline time.Time
	created  time.Time
	done     chan rpcResult
}

// rpcResult is what fulfils (or times out) a pending RPC.
type rpcResult struct {
	Payload []byte
	Err     error
}

// PendingRPCTable tracks in-flight RPCs by sequence number. A single
// writer (the UDP listener and the issuing HTTP handlers) mutates it;
// each entry is consumed by exactly one awaiter.
type PendingRPCTable struct {
	mu      sync.Mutex
	entries map[uint16]*pendingRPC
	nextSeq uint16
	Log     *zap.Logger
}

// NewPendingRPCTable returns an empty table.
func NewPendingRPCTable(log *zap.Logger) *PendingRPCTable {
	if log == nil {
		log = zap.NewNop()
	}
	return &PendingRPCTable{entries: make(map[uint16]*pendingRPC), Log: log}
}

// Allocate reserves the next sequence number (wrapping at 65536) and
// registers a pending entry with the given deadline. It returns the
// sequence number and a channel that receives exactly one rpcResult.
func (t *PendingRPCTable) Allocate(deadline time.Duration) (uint16, <-chan rpcResult) {
	if deadline <= 0 {
		deadline = DefaultRPCDeadline
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.nextSeq
	t.nextSeq++
	now := time.Now()
	entry := &pendingRPC{
		deadline: now.Add(deadline),
		created:  now,
		done:     make(chan rpcResult, 1),
	}
	t.entries[seq] = entry
	return seq, entry.done
}

// Fulfil delivers payload to the waiter registered under seq. It
// reports false (and logs) if seq is unknown, dropping the response
// with a warning rather than panicking.
func (t *PendingRPCTable) Fulfil(seq uint16, payload []byte) bool {
	t.mu.Lock()
	entry, ok := t.entries[seq]
	if ok {
		delete(t.entries, seq)
	}
	t.mu.Unlock()

	if !ok {
		t.Log.Warn("pending rpc: response for unknown sequence", zap.Uint16("seq", seq))
		return false
	}
	entry.done <- rpcResult{Payload: payload}
	return true
}

// Cancel removes seq's entry (if present) and delivers err to its
// waiter, used when a caller's context is canceled before a response
// arrives, so the await can clean up its pending entry on cancellation.
func (t *PendingRPCTable) Cancel(seq uint16, err error) {
	t.mu.Lock()
	entry, ok := t.entries[seq]
	if ok {
		delete(t.entries, seq)
	}
	t.mu.Unlock()
	if ok {
		entry.done <- rpcResult{Err: err}
	}
}

// Sweep runs Cancel with a timeout error on any entry past its
// deadline, and force-rejects anything older than maxAge regardless
// of deadline.
func (t *PendingRPCTable) Sweep(maxAge time.Duration, timeoutErr, staleErr error) {
	now := time.Now()
	t.mu.Lock()
	var expired []uint16
	var stale []uint16
	for seq, entry := range t.entries {
		if now.After(entry.deadline) {
			expired = append(expired, seq)
			continue
		}
		if maxAge > 0 && now.Sub(entry.created) > maxAge {
			stale = append(stale, seq)
		}
	}
	t.mu.Unlock()

	for _, seq := range expired {
		t.Cancel(seq, timeoutErr)
	}
	for _, seq := range stale {
		t.Cancel(seq, staleErr)
	}
}

// RunJanitor sweeps the table on interval until ctx is canceled.
func (t *PendingRPCTable) RunJanitor(ctx context.Context, interval, maxAge time.Duration, timeoutErr, staleErr error) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep(maxAge, timeoutErr, staleErr)
		case <-ctx.Done():
			return
		}
	}
}

// Len reports the number of in-flight entries, for tests and metrics.
func (t *PendingRPCTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
