// Package main implements the root-side bridge binary: the process a
// wireless lighting-mesh root node runs to discover an external
// coordinator, register with it, maintain liveness, answer the
// coordinator's RPC calls, and mirror applied commands back for
// observability.
//
// This binary only wires the protocol/discovery/session machinery
// defined in this module. It does not implement the mesh radio stack,
// the lighting/plugin runtime, or OTA firmware transfer; those are
// the deliberate meshiface boundary (see internal/meshiface's package
// doc) and are left for the vendor firmware to supply. The dispatch
// table built here answers each RPC with a placeholder response so
// the binary is runnable end-to-end for integration testing; a real
// deployment replaces defaultDispatchTable with handlers backed by the
// actual mesh state.
//
// Configuration is via environment variables:
//   - ROOT_RPC_ADDR: RPC datagram listen address (default ":8082")
//   - MESH_ID: 6-byte mesh identifier as 12 hex chars (default derived from hostname)
//   - FIRMWARE_VERSION: advertised firmware version string (default "0.0.0-dev")
//   - LOG_LEVEL: zap level name (default "info")
package main

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/kv"
	"github.com/lyktparad/meshbridge/internal/meshiface"
	"github.com/lyktparad/meshbridge/internal/proto"
	"github.com/lyktparad/meshbridge/internal/root"
)

func main() {
	log := newLogger()
	defer log.Sync()

	local := newEnvLocalInfo()
	cache := kv.NewMemoryStore()

	bridge, err := root.NewBridge(root.Config{
		Cache:         cache,
		Mesh:          meshiface.NullSender,
		Local:         local,
		Collector:     staticStateCollector{},
		Log:           log,
		RPCListenAddr: getenv("ROOT_RPC_ADDR", ":8082"),
		Handlers:      defaultDispatchTable(local),
	})
	if err != nil {
		log.Fatal("root: failed to build bridge", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bridge.Init(ctx); err != nil {
		log.Fatal("root: failed to initialize bridge", zap.Error(err))
	}
	bridge.Start(ctx)
	log.Info("root: bridge started", zap.String("mesh_id", hex.EncodeToString(local.meshID[:])))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("root: shutting down")
	cancel()
	if err := bridge.Shutdown(); err != nil {
		log.Warn("root: shutdown error", zap.Error(err))
	}
	log.Info("root: stopped")
}

// envLocalInfo is a minimal meshiface.LocalInfo backed by environment
// configuration, standing in for the real mesh routing table so this
// binary can run and register standalone.
type envLocalInfo struct {
	meshID  [6]byte
	version string
}

func newEnvLocalInfo() *envLocalInfo {
	info := &envLocalInfo{version: getenv("FIRMWARE_VERSION", "0.0.0-dev")}
	if raw := os.Getenv("MESH_ID"); raw != "" {
		if b, err := hex.DecodeString(raw); err == nil && len(b) == 6 {
			copy(info.meshID[:], b)
			return info
		}
	}
	copy(info.meshID[:], hostnameMeshID())
	return info
}

// hostnameMeshID derives a stable pseudo mesh-id from the local
// hostname when MESH_ID is not set, so repeated runs on the same host
// reuse the same identifier.
func hostnameMeshID() []byte {
	host, err := os.Hostname()
	if err != nil {
		host = "meshbridge-root"
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(host))
	sum := h.Sum(nil)
	return sum[:6]
}

func (e *envLocalInfo) RootAddress() [4]byte    { return [4]byte{} }
func (e *envLocalInfo) MeshID() [6]byte         { return e.meshID }
func (e *envLocalInfo) NodeCount() uint8        { return 1 }
func (e *envLocalInfo) FirmwareVersion() string { return e.version }

// staticStateCollector reports an idle mesh with no active sequence or
// OTA transfer, standing in for the real lighting/OTA runtime.
type staticStateCollector struct{}

func (staticStateCollector) MeshState() uint8                   { return 0 }
func (staticStateCollector) Nodes() []proto.NodeEntry            { return nil }
func (staticStateCollector) SequenceActive() bool                { return false }
func (staticStateCollector) SequencePosition() (pos, total uint16) { return 0, 0 }
func (staticStateCollector) OTAActive() bool                     { return false }
func (staticStateCollector) OTAPercent() uint8                   { return 0 }

// defaultDispatchTable answers every RPC command with a placeholder
// response built from local's static values. Real deployments supply
// their own root.DispatchTable backed by the lighting/plugin/OTA
// runtime (the meshiface boundary).
func defaultDispatchTable(local *envLocalInfo) root.DispatchTable {
	success := func(ctx context.Context, req []byte) ([]byte, error) { return proto.MarshalSuccess(true), nil }
	return root.DispatchTable{
		proto.RPCNodes:    func(ctx context.Context, req []byte) ([]byte, error) { return proto.EncodeNodeCount1(local.NodeCount()), nil },
		proto.RPCColorGet: func(ctx context.Context, req []byte) ([]byte, error) { return proto.MarshalColorResponse(proto.ColorResponse{}), nil },
		proto.RPCColorSet: success,

		proto.RPCSequenceUpload:  success,
		proto.RPCSequencePointer: func(ctx context.Context, req []byte) ([]byte, error) { return proto.EncodeSequencePointer1(0), nil },
		proto.RPCSequenceStart:   success,
		proto.RPCSequenceStop:    success,
		proto.RPCSequenceReset:   success,
		proto.RPCSequenceStatus:  func(ctx context.Context, req []byte) ([]byte, error) { return proto.EncodeSequenceStatus(false), nil },

		proto.RPCOTADownload: success,
		proto.RPCOTAStatus:   func(ctx context.Context, req []byte) ([]byte, error) { return proto.EncodeOTAStatusPercent(false, 0), nil },
		proto.RPCOTAVersion: func(ctx context.Context, req []byte) ([]byte, error) {
			return proto.EncodeOTAVersion(local.FirmwareVersion())
		},
		proto.RPCOTACancel:               success,
		proto.RPCOTADistribute:           success,
		proto.RPCOTADistributionStatus:   func(ctx context.Context, req []byte) ([]byte, error) { return proto.EncodeSequenceStatus(false), nil },
		proto.RPCOTADistributionProgress: func(ctx context.Context, req []byte) ([]byte, error) { return proto.EncodeOTAStatusPercent(false, 0), nil },
		proto.RPCOTADistributionCancel:   success,
		proto.RPCOTAReboot:               success,
	}
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
