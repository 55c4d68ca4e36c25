package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// mdnsServiceType is the mDNS service type the coordinator advertises
// under and the root queries for.
const mdnsServiceType = "_lyktparad-web._tcp"

// Advertiser runs the coordinator-side discoverability surface: an
// mDNS responder plus the UDP broadcast fallback emitter.
type Advertiser struct {
	// Host is the coordinator's advertised mDNS instance name; left
	// empty the local OS hostname is used.
	Host string
	// UDPPort is the coordinator's RPC/mesh datagram port, carried in
	// the TXT record as udp_port so roots know where to send traffic.
	UDPPort int
	// Version is this coordinator's protocol/software version string.
	Version  string
	Protocol string
	Log      *zap.Logger

	server   *mdns.Server
	emitter  *BroadcastEmitter
	cancelFn context.CancelFunc
}

// Start registers the mDNS service and begins broadcasting
// announcements. Call Stop to tear both down.
func (a *Advertiser) Start(ctx context.Context) error {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}

	txt := []string{
		fmt.Sprintf("version=%s", a.Version),
		fmt.Sprintf("protocol=%s", a.Protocol),
		fmt.Sprintf("udp_port=%d", a.UDPPort),
	}

	instance := a.Host
	if instance == "" {
		if h, err := os.Hostname(); err == nil {
			instance = h
		}
	}

	info, err := mdns.NewMDNSService(instance, mdnsServiceType, "", "", a.UDPPort, nil, txt)
	if err != nil {
		return fmt.Errorf("discovery: build mdns service: %w", err)
	}

	srv, err := mdns.NewServer(&mdns.Config{Zone: info})
	if err != nil {
		return fmt.Errorf("discovery: start mdns server: %w", err)
	}
	a.server = srv

	runCtx, cancel := context.WithCancel(ctx)
	a.cancelFn = cancel

	a.emitter = &BroadcastEmitter{
		UDPPort:  a.UDPPort,
		Protocol: a.Protocol,
		Version:  a.Version,
		Interval: 5 * time.Second,
		Log:      log,
	}
	go a.emitter.Run(runCtx)

	log.Info("discovery: advertising coordinator",
		zap.String("service", mdnsServiceType),
		zap.Int("udp_port", a.UDPPort))
	return nil
}

// Stop shuts down the mDNS responder and the broadcast emitter.
func (a *Advertiser) Stop() error {
	if a.cancelFn != nil {
		a.cancelFn()
	}
	if a.server != nil {
		return a.server.Shutdown()
	}
	return nil
}

// QueryMdns performs a single bounded mDNS lookup for the coordinator
// service, returning the first responder found. Meant to be used as
// an FSM's MdnsQueryFunc on the root side.
func QueryMdns(log *zap.Logger) MdnsQueryFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context) (ServerAddr, bool) {
		entries := make(chan *mdns.ServiceEntry, 4)

		deadline := 5 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			if d := time.Until(dl); d > 0 {
				deadline = d
			}
		}

		params := mdns.DefaultParams(mdnsServiceType)
		params.Entries = entries
		params.Timeout = deadline

		done := make(chan error, 1)
		go func() { done <- mdns.Query(params) }()

		select {
		case entry := <-entries:
			if entry == nil {
				return ServerAddr{}, false
			}
			port := udpPortFromTXT(entry.InfoFields)
			if port == 0 {
				port = entry.Port
			}
			ip := entry.AddrV4.String()
			if entry.AddrV4 == nil && entry.AddrV6 != nil {
				ip = entry.AddrV6.String()
			}
			return ServerAddr{IP: ip, UDPPort: port}, true
		case err := <-done:
			if err != nil {
				log.Debug("discovery: mdns query error", zap.Error(err))
			}
			return ServerAddr{}, false
		case <-ctx.Done():
			return ServerAddr{}, false
		}
	}
}

func udpPortFromTXT(fields []string) int {
	for _, f := range fields {
		var port int
		if n, err := fmt.Sscanf(f, "udp_port=%d", &port); err == nil && n == 1 {
			return port
		}
	}
	return 0
}
