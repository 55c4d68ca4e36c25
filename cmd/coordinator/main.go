// Package main implements the mesh bridge coordinator: the optional
// external control plane that wireless lighting-mesh roots discover,
// register with, and exchange command/mirror traffic through.
//
// The coordinator is responsible for:
//   - Advertising itself over mDNS and UDP broadcast so roots can find it
//   - Accepting root registrations and tracking per-mesh liveness
//   - Translating the public HTTP API into binary RPC datagrams sent to
//     the currently registered root, and decoding the matching response
//   - Holding the most recent mesh-state snapshot reported by each root
//   - Observing the mirror plane (a copy of every command a root applies
//     to its own mesh, forwarded here for logging/inspection)
//
// Configuration is via environment variables:
//   - COORDINATOR_HTTP_ADDR: HTTP API listen address (default ":8080")
//   - COORDINATOR_UDP_ADDR: datagram listen address (default ":8081")
//   - COORDINATOR_DISCOVERY_PORT: mDNS/broadcast advertised port (default 8081)
//   - COORDINATOR_VERSION: advertised protocol/software version (default "1.0.0")
//   - LOG_LEVEL: zap level name (default "info")
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/coordinator"
	"github.com/lyktparad/meshbridge/internal/discovery"
	"github.com/lyktparad/meshbridge/internal/proto"
)

const (
	shutdownTimeout = 5 * time.Second
)

func main() {
	log := newLogger()
	defer log.Sync()

	httpAddr := getenv("COORDINATOR_HTTP_ADDR", ":8080")
	udpAddr := getenv("COORDINATOR_UDP_ADDR", ":8081")
	discoveryPort := getenvInt("COORDINATOR_DISCOVERY_PORT", 8081)
	version := getenv("COORDINATOR_VERSION", "1.0.0")

	udpConn, err := net.ListenPacket("udp4", udpAddr)
	if err != nil {
		log.Fatal("coordinator: failed to open udp listener", zap.String("addr", udpAddr), zap.Error(err))
	}
	defer udpConn.Close()

	sessions := coordinator.NewSessionRegistry()
	state := coordinator.NewStateStore()
	pending := coordinator.NewPendingRPCTable(log)
	liveness := coordinator.NewLivenessMonitor(sessions, state, log)

	listener := coordinator.NewListener(udpConn, sessions, state, pending, liveness, log)
	listener.OnMirror = func(mp proto.MirrorPayload) {
		log.Debug("coordinator: mirror observed", zap.Uint8("mesh_cmd", mp.MeshCommand), zap.Int("bytes", len(mp.MeshPayload)))
	}

	translator := coordinator.NewTranslator(sessions, state, pending, udpConn, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go listener.Serve(ctx)
	go liveness.Start(ctx)
	go pending.RunJanitor(ctx, coordinator.DefaultJanitorSweep, coordinator.DefaultRPCDeadline, errors.New("coordinator: rpc timed out"), errors.New("coordinator: rpc stale, swept"))

	advertiser := &discovery.Advertiser{
		UDPPort:  discoveryPort,
		Version:  version,
		Protocol: proto.WireProtocolVersion,
		Log:      log,
	}
	if err := advertiser.Start(ctx); err != nil {
		log.Fatal("coordinator: failed to start discovery advertiser", zap.Error(err))
	}
	defer advertiser.Stop()

	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           translator.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("coordinator: http api listening", zap.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("coordinator: http listen failed", zap.Error(err))
		}
	}()

	log.Info("coordinator: datagram ingress listening", zap.String("addr", udpConn.LocalAddr().String()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("coordinator: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("coordinator: http shutdown error", zap.Error(err))
	}
	log.Info("coordinator: stopped")
}

func newLogger() *zap.Logger {
	level := zap.NewAtomicLevel()
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := zap.ParseAtomicLevel(lvl); err == nil {
			level = parsed
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
