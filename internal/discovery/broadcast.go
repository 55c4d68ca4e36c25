package discovery

import (
	"context"
	"encoding/json"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ServiceName is the logical service identifier carried in both the
// mDNS service type and the broadcast announcement's "service" field.
const ServiceName = "lyktparad-web"

// BroadcastPort is the UDP port the coordinator emits announcements
// on and the root listens on, used as a discovery fallback when mDNS
// is unavailable on the LAN (e.g. multicast filtered by the AP).
const BroadcastPort = 5353

// Announcement is the JSON payload the coordinator periodically
// broadcasts and the root parses to learn the coordinator's address
// without mDNS.
type Announcement struct {
	Service  string `json:"service"`
	Port     int    `json:"port"`
	UDPPort  int    `json:"udp_port"`
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

// valid reports whether a received announcement is well-formed enough
// to act on: right service name and a usable UDP port.
func (a Announcement) valid() bool {
	if a.Service != ServiceName {
		return false
	}
	if a.UDPPort < 1 || a.UDPPort > 65535 {
		return false
	}
	return true
}

// ListenBroadcast opens a UDP socket on BroadcastPort and blocks until
// a valid Announcement arrives or ctx is canceled. It is meant to be
// used as an FSM's BroadcastListenFunc.
func ListenBroadcast(log *zap.Logger) BroadcastListenFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context) (ServerAddr, bool) {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: BroadcastPort})
		if err != nil {
			log.Warn("discovery: failed to open broadcast listener", zap.Error(err))
			return ServerAddr{}, false
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			<-ctx.Done()
			conn.Close()
			close(done)
		}()

		buf := make([]byte, 2048)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					<-done
					return ServerAddr{}, false
				}
				continue
			}
			var ann Announcement
			if err := json.Unmarshal(buf[:n], &ann); err != nil {
				log.Debug("discovery: dropping malformed broadcast announcement", zap.Error(err))
				continue
			}
			if !ann.valid() {
				log.Debug("discovery: dropping announcement that fails validation", zap.Any("announcement", ann))
				continue
			}
			return ServerAddr{IP: src.IP.String(), UDPPort: ann.UDPPort}, true
		}
	}
}

// setBroadcast enables SO_BROADCAST on conn's underlying fd. Go's net
// package does not set this automatically, and without it a send to
// the broadcast address fails with EACCES on Linux.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// BroadcastEmitter periodically sends an Announcement to the LAN
// broadcast address on BroadcastPort, the coordinator-side half of
// this fallback discovery path.
type BroadcastEmitter struct {
	UDPPort  int
	Protocol string
	Version  string
	Interval time.Duration
	Log      *zap.Logger
}

// Run sends announcements on Interval until ctx is canceled.
func (e *BroadcastEmitter) Run(ctx context.Context) {
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	interval := e.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ann := Announcement{
		Service:  ServiceName,
		Port:     e.UDPPort,
		UDPPort:  e.UDPPort,
		Protocol: e.Protocol,
		Version:  e.Version,
	}
	body, err := json.Marshal(ann)
	if err != nil {
		log.Error("discovery: failed to marshal announcement", zap.Error(err))
		return
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		log.Error("discovery: failed to open broadcast emitter socket", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		log.Error("discovery: failed to enable SO_BROADCAST", zap.Error(err))
		return
	}

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: BroadcastPort}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := conn.WriteToUDP(body, dst); err != nil {
			log.Debug("discovery: broadcast emit failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
