package root

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/discovery"
	"github.com/lyktparad/meshbridge/internal/kv"
	"github.com/lyktparad/meshbridge/internal/meshiface"
)

// Config collects the values Bridge needs to wire its subsystems.
// Everything network- or mesh-facing is supplied by the caller so
// Bridge itself owns no global state beyond what is listed here.
type Config struct {
	Cache     kv.Store
	Mesh      meshiface.Sender
	Local     meshiface.LocalInfo
	Observer  meshiface.RoleObserver
	Active    ActiveStateSource
	Collector StateCollector
	Log       *zap.Logger

	// RPCListenAddr is the root's RPC datagram socket address, e.g.
	// ":8082".
	RPCListenAddr string
	Handlers      DispatchTable
}

// Bridge is the process-wide value owning every root-side subsystem's
// lifecycle: discovery, registration, heartbeat/state tasks, the
// mirror wrapper, and the RPC listener.
type Bridge struct {
	cfg Config
	log *zap.Logger

	mu            sync.Mutex
	registerConn  net.PacketConn
	rpcConn       net.PacketConn
	fsm           *discovery.FSM
	glue          *RoleGlue
	heartbeatTask *PeriodicTask
	stateTask     *PeriodicTask
	apiListener   *APIListener
	mirror        *MirrorWrapper
	counter       HeartbeatCounter

	registeredAddr *net.UDPAddr
	cancelRun      context.CancelFunc
	taskCtx        context.Context
}

// NewBridge validates cfg and returns an unstarted Bridge. Call Init
// then Start to bring it up.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("root: bridge config requires a Cache")
	}
	if cfg.Mesh == nil {
		cfg.Mesh = meshiface.NullSender
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Bridge{cfg: cfg, log: cfg.Log}, nil
}

// Init opens the sockets Bridge needs and builds its subsystems
// without starting any of them. Start actually brings them up once
// the root role is held.
func (b *Bridge) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	regConn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("root: open registration socket: %w", err)
	}
	b.registerConn = regConn

	addr := b.cfg.RPCListenAddr
	if addr == "" {
		addr = ":8082"
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("root: resolve rpc listen addr: %w", err)
	}
	rpcConn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("root: open rpc socket: %w", err)
	}
	b.rpcConn = rpcConn

	registrar := &RegistrationEngine{Conn: b.registerConn, Local: b.cfg.Local, Log: b.log}
	b.fsm = discovery.NewFSM(b.cfg.Cache, b.registerAndActivate(registrar), discovery.QueryMdns(b.log), discovery.ListenBroadcast(b.log), b.log)

	b.apiListener = NewAPIListener(b.rpcConn, b.cfg.Handlers, b.log)

	b.mirror = &MirrorWrapper{
		Mesh:       b.cfg.Mesh,
		Conn:       b.registerConn,
		Log:        b.log,
		IsRoot:     func() bool { return b.cfg.Observer == nil || b.cfg.Observer.CurrentRole() == meshiface.RoleRoot },
		Registered: b.currentCoordinator,
	}

	if b.cfg.Observer != nil {
		b.glue = &RoleGlue{
			Observer:   b.cfg.Observer,
			Active:     b.cfg.Active,
			Mesh:       b.cfg.Mesh,
			Log:        b.log,
			OnGainRoot: b.onGainRoot,
			OnLoseRoot: b.onLoseRoot,
		}
	}
	return nil
}

// Start brings Bridge's subsystems up: the RPC listener, the discovery
// FSM (which drives registration), the heartbeat counter and the role
// glue. The heartbeat and state tasks start once the FSM registers
// (registerAndActivate) and restart on a gain-root edge (onGainRoot).
// The RPC listener and discovery run from Start until Stop whatever
// the node's role; losing root does not stop them.
func (b *Bridge) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancelRun = cancel
	b.taskCtx = runCtx
	b.mu.Unlock()

	go b.apiListener.Serve(runCtx)
	go b.fsm.Run(runCtx)
	go b.counter.Start(runCtx, DefaultCounterInterval)
	if b.glue != nil {
		b.glue.Attach(runCtx)
	}
}

// Stop halts every subsystem without closing sockets, so Start can be
// called again (e.g. after a role flap) without reopening them.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelRun != nil {
		b.cancelRun()
		b.cancelRun = nil
	}
	if b.glue != nil {
		b.glue.Detach()
	}
	b.stopPeriodicTasksLocked()
}

// Shutdown stops every subsystem and releases the sockets Init opened.
// The Bridge cannot be restarted after Shutdown; build a new one.
func (b *Bridge) Shutdown() error {
	b.Stop()
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	if b.registerConn != nil {
		if err := b.registerConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.rpcConn != nil {
		if err := b.rpcConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bridge) stopPeriodicTasksLocked() {
	if b.heartbeatTask != nil {
		b.heartbeatTask.Stop()
		b.heartbeatTask = nil
	}
	if b.stateTask != nil {
		b.stateTask.Stop()
		b.stateTask = nil
	}
}

// onGainRoot is invoked by the role glue on the gain-root edge: once
// the FSM has (or achieves) registration, heartbeat/state tasks start.
// Discovery itself is already running continuously from Start, so
// gaining root here only (re)starts the periodic tasks against the
// address the FSM most recently registered with.
func (b *Bridge) onGainRoot(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := b.registeredAddr
	if addr == nil {
		return
	}
	b.stopPeriodicTasksLocked()
	b.heartbeatTask = NewHeartbeatTask(b.registerConn, addr, b.cfg.Local, b.log)
	b.heartbeatTask.Start(ctx)
	if b.cfg.Collector != nil {
		b.stateTask = NewStateTask(b.registerConn, addr, b.cfg.Local, b.cfg.Collector, b.log)
		b.stateTask.Start(ctx)
	}
}

func (b *Bridge) onLoseRoot(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopPeriodicTasksLocked()
}

// registerAndActivate wraps registrar.Register so that, on success,
// Bridge immediately records the coordinator address and (re)starts
// the heartbeat/state tasks, independent of whether a role event
// happens to fire around the same time.
func (b *Bridge) registerAndActivate(registrar *RegistrationEngine) discovery.RegisterFunc {
	return func(ctx context.Context, addr discovery.ServerAddr) error {
		if err := registrar.Register(ctx, addr); err != nil {
			return err
		}
		udpAddr := &net.UDPAddr{IP: net.ParseIP(addr.IP), Port: addr.UDPPort}
		b.NotifyRegistered(udpAddr)

		b.mu.Lock()
		taskCtx := b.taskCtx
		b.stopPeriodicTasksLocked()
		if taskCtx != nil {
			b.heartbeatTask = NewHeartbeatTask(b.registerConn, udpAddr, b.cfg.Local, b.log)
			b.heartbeatTask.Start(taskCtx)
			if b.cfg.Collector != nil {
				b.stateTask = NewStateTask(b.registerConn, udpAddr, b.cfg.Local, b.cfg.Collector, b.log)
				b.stateTask.Start(taskCtx)
			}
		}
		b.mu.Unlock()
		return nil
	}
}

// NotifyRegistered records the coordinator address the FSM most
// recently registered with, so the mirror wrapper and periodic tasks
// know where to send. registerAndActivate calls it after every
// successful registration.
func (b *Bridge) NotifyRegistered(addr *net.UDPAddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registeredAddr = addr
}

func (b *Bridge) currentCoordinator() (*net.UDPAddr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registeredAddr == nil {
		return nil, false
	}
	return b.registeredAddr, true
}
