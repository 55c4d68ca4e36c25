package root

import (
	"context"
	"testing"
	"time"

	"github.com/lyktparad/meshbridge/internal/kv"
	"github.com/lyktparad/meshbridge/internal/meshiface"
	"github.com/lyktparad/meshbridge/internal/proto"
)

func TestBridgeInitStartShutdown(t *testing.T) {
	cache := kv.NewMemoryStore()
	local := fakeLocalInfo{nodes: 3, version: "1.2.3"}

	b, err := NewBridge(Config{
		Cache:         cache,
		Local:         local,
		RPCListenAddr: "127.0.0.1:0",
		Handlers: DispatchTable{
			proto.RPCNodes: func(ctx context.Context, req []byte) ([]byte, error) {
				return proto.EncodeNodeCount1(local.nodes), nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b.Start(ctx)

	time.Sleep(50 * time.Millisecond)

	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestBridgeRequiresCache(t *testing.T) {
	if _, err := NewBridge(Config{}); err == nil {
		t.Fatal("expected error when Cache is nil")
	}
}

func TestBridgeDefaultsToNullSender(t *testing.T) {
	b, err := NewBridge(Config{Cache: kv.NewMemoryStore(), Local: fakeLocalInfo{}})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	if b.cfg.Mesh == nil {
		t.Fatal("expected default NullSender when Mesh is unset")
	}
	if _, ok := b.cfg.Mesh.(meshiface.SenderFunc); !ok {
		t.Fatalf("expected meshiface.SenderFunc, got %T", b.cfg.Mesh)
	}
}
