package discovery

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/kv"
)

// State is one node in the root's discovery state machine.
type State int

const (
	StateBoot State = iota
	StateTryCache
	StateMdns
	StateBroadcast
	StateIdle
	StateRetryBackoff
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateTryCache:
		return "try_cache"
	case StateMdns:
		return "mdns"
	case StateBroadcast:
		return "broadcast"
	case StateIdle:
		return "idle"
	case StateRetryBackoff:
		return "retry_backoff"
	default:
		return "unknown"
	}
}

// Cache key names for the discovered-server blob.
const (
	CacheKeyServerIP   = "server_ip"
	CacheKeyServerPort = "server_port"
)

// ServerAddr is a discovered (or cached) coordinator address.
type ServerAddr struct {
	IP      string
	UDPPort int
}

// RegisterFunc attempts registration against addr and reports whether
// it succeeded. It is supplied by the registration engine (package
// root) so this FSM has no direct dependency on it.
type RegisterFunc func(ctx context.Context, addr ServerAddr) error

// MdnsQueryFunc performs one mDNS lookup for the coordinator's
// service, returning ok=false on timeout or no usable result.
type MdnsQueryFunc func(ctx context.Context) (ServerAddr, bool)

// BroadcastListenFunc blocks until a valid broadcast announcement
// arrives or ctx is done, returning ok=false in the latter case.
type BroadcastListenFunc func(ctx context.Context) (ServerAddr, bool)

// FSM drives the root's discovery process. All network-touching
// behavior is injected as function fields so the state machine itself
// is deterministic and unit-testable without real sockets.
type FSM struct {
	Cache     kv.Store
	Register  RegisterFunc
	MdnsQuery MdnsQueryFunc
	Broadcast BroadcastListenFunc
	Log       *zap.Logger

	// MdnsTimeout bounds each mDNS query attempt (~20s).
	MdnsTimeout time.Duration
	// MinBackoff/MaxBackoff bound the exponential retry backoff (5s-60s).
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// lostRegistration is signaled through NotifyRegistrationLost when
	// registration is lost while Idle, driving the Idle->RetryBackoff
	// edge.
	lostRegistration chan struct{}

	state   State
	backoff time.Duration
}

// NewFSM builds an FSM with the package's default timeouts.
func NewFSM(cache kv.Store, register RegisterFunc, mdnsQuery MdnsQueryFunc, broadcast BroadcastListenFunc, log *zap.Logger) *FSM {
	return &FSM{
		Cache:            cache,
		Register:         register,
		MdnsQuery:        mdnsQuery,
		Broadcast:        broadcast,
		Log:              log,
		MdnsTimeout:      20 * time.Second,
		MinBackoff:       5 * time.Second,
		MaxBackoff:       60 * time.Second,
		lostRegistration: make(chan struct{}, 1),
		state:            StateBoot,
		backoff:          5 * time.Second,
	}
}

// State returns the FSM's current state, for tests and diagnostics.
func (f *FSM) State() State { return f.state }

// NotifyRegistrationLost tells the FSM registration has dropped,
// driving it from Idle back into RetryBackoff. Safe to call from any
// goroutine; a pending notification is coalesced.
func (f *FSM) NotifyRegistrationLost() {
	select {
	case f.lostRegistration <- struct{}{}:
	default:
	}
}

// Run drives the FSM until ctx is canceled. It never returns except
// on cancellation.
func (f *FSM) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		switch f.state {
		case StateBoot:
			f.runBoot(ctx)
		case StateMdns:
			f.runMdns(ctx)
		case StateBroadcast:
			f.runBroadcast(ctx)
		case StateIdle:
			f.runIdle(ctx)
		case StateRetryBackoff:
			f.runRetryBackoff(ctx)
		default:
			f.state = StateMdns
		}
	}
}

func (f *FSM) runBoot(ctx context.Context) {
	f.state = StateTryCache
	addr, ok := f.readCache()
	if !ok {
		f.log().Debug("discovery: no cached server, going to mdns")
		f.state = StateMdns
		return
	}
	f.log().Info("discovery: probing cached server", zap.String("ip", addr.IP), zap.Int("udp_port", addr.UDPPort))
	if err := f.Register(ctx, addr); err != nil {
		f.log().Info("discovery: cache probe failed, falling back to mdns", zap.Error(err))
		f.state = StateMdns
		return
	}
	f.onRegistered(addr)
}

func (f *FSM) runMdns(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, f.MdnsTimeout)
	defer cancel()

	addr, ok := f.MdnsQuery(qctx)
	if !ok {
		f.log().Debug("discovery: mdns query found nothing, falling back to broadcast")
		f.state = StateBroadcast
		return
	}
	if err := f.Register(ctx, addr); err != nil {
		f.log().Warn("discovery: register after mdns discovery failed", zap.Error(err))
		f.state = StateBroadcast
		return
	}
	f.onRegistered(addr)
}

func (f *FSM) runBroadcast(ctx context.Context) {
	addr, ok := f.Broadcast(ctx)
	if !ok {
		// ctx canceled or listener gave up; let the outer Run loop
		// observe ctx.Err() on the next iteration, or retry broadcast.
		if ctx.Err() != nil {
			return
		}
		f.state = StateBroadcast
		return
	}
	if err := f.Register(ctx, addr); err != nil {
		f.log().Warn("discovery: register after broadcast discovery failed", zap.Error(err))
		f.state = StateBroadcast
		return
	}
	f.onRegistered(addr)
}

func (f *FSM) onRegistered(addr ServerAddr) {
	f.writeCache(addr)
	f.backoff = f.MinBackoff
	f.state = StateIdle
	f.log().Info("discovery: registered", zap.String("ip", addr.IP), zap.Int("udp_port", addr.UDPPort))
}

func (f *FSM) runIdle(ctx context.Context) {
	select {
	case <-f.lostRegistration:
		f.log().Warn("discovery: registration lost, retrying")
		f.state = StateRetryBackoff
	case <-ctx.Done():
	}
}

func (f *FSM) runRetryBackoff(ctx context.Context) {
	delay := f.backoff
	// jitter avoids every root on a LAN retrying in lockstep.
	jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
	select {
	case <-time.After(delay + jitter):
	case <-ctx.Done():
		return
	}
	f.backoff *= 2
	if f.backoff > f.MaxBackoff {
		f.backoff = f.MaxBackoff
	}
	f.state = StateMdns
}

func (f *FSM) readCache() (ServerAddr, bool) {
	ip, err := kv.GetString(f.Cache, CacheKeyServerIP)
	if err != nil {
		return ServerAddr{}, false
	}
	portStr, err := kv.GetString(f.Cache, CacheKeyServerPort)
	if err != nil {
		return ServerAddr{}, false
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			return ServerAddr{}, false
		}
		port = port*10 + int(c-'0')
	}
	return ServerAddr{IP: ip, UDPPort: port}, true
}

func (f *FSM) writeCache(addr ServerAddr) {
	_ = kv.PutString(f.Cache, CacheKeyServerIP, addr.IP)
	_ = kv.PutString(f.Cache, CacheKeyServerPort, itoa(addr.UDPPort))
}

func (f *FSM) log() *zap.Logger {
	if f.Log != nil {
		return f.Log
	}
	return zap.NewNop()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [6]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
