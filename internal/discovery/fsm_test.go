package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lyktparad/meshbridge/internal/kv"
)

func TestFSMUsesCachedServerFirst(t *testing.T) {
	store := kv.NewMemoryStore()
	_ = kv.PutString(store, CacheKeyServerIP, "10.0.0.5")
	_ = kv.PutString(store, CacheKeyServerPort, "8081")

	registered := make(chan ServerAddr, 1)
	f := NewFSM(store,
		func(ctx context.Context, addr ServerAddr) error {
			registered <- addr
			return nil
		},
		func(ctx context.Context) (ServerAddr, bool) {
			t.Fatal("mdns query should not run when cache hits")
			return ServerAddr{}, false
		},
		func(ctx context.Context) (ServerAddr, bool) {
			t.Fatal("broadcast listen should not run when cache hits")
			return ServerAddr{}, false
		},
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go f.Run(ctx)

	select {
	case addr := <-registered:
		if addr.IP != "10.0.0.5" || addr.UDPPort != 8081 {
			t.Errorf("got %+v, want 10.0.0.5:8081", addr)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for registration")
	}

	deadline := time.After(500 * time.Millisecond)
	for f.State() != StateIdle {
		select {
		case <-deadline:
			t.Fatalf("fsm never reached idle, stuck at %s", f.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFSMFallsBackToMdnsThenBroadcast(t *testing.T) {
	store := kv.NewMemoryStore()

	mdnsCalled := make(chan struct{}, 1)
	broadcastCalled := make(chan struct{}, 1)
	registered := make(chan ServerAddr, 1)

	f := NewFSM(store,
		func(ctx context.Context, addr ServerAddr) error {
			registered <- addr
			return nil
		},
		func(ctx context.Context) (ServerAddr, bool) {
			mdnsCalled <- struct{}{}
			return ServerAddr{}, false
		},
		func(ctx context.Context) (ServerAddr, bool) {
			broadcastCalled <- struct{}{}
			return ServerAddr{IP: "192.168.1.50", UDPPort: 8081}, true
		},
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go f.Run(ctx)

	select {
	case <-mdnsCalled:
	case <-time.After(time.Second):
		t.Fatal("mdns query never invoked")
	}
	select {
	case <-broadcastCalled:
	case <-time.After(time.Second):
		t.Fatal("broadcast listen never invoked")
	}
	select {
	case addr := <-registered:
		if addr.IP != "192.168.1.50" {
			t.Errorf("got %+v", addr)
		}
	case <-time.After(time.Second):
		t.Fatal("never registered via broadcast")
	}
}

func TestFSMRetriesAfterCacheProbeFails(t *testing.T) {
	store := kv.NewMemoryStore()
	_ = kv.PutString(store, CacheKeyServerIP, "10.0.0.5")
	_ = kv.PutString(store, CacheKeyServerPort, "8081")

	mdnsCalled := make(chan struct{}, 1)
	f := NewFSM(store,
		func(ctx context.Context, addr ServerAddr) error {
			return errors.New("no ack")
		},
		func(ctx context.Context) (ServerAddr, bool) {
			select {
			case mdnsCalled <- struct{}{}:
			default:
			}
			return ServerAddr{}, false
		},
		func(ctx context.Context) (ServerAddr, bool) {
			<-ctx.Done()
			return ServerAddr{}, false
		},
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go f.Run(ctx)

	select {
	case <-mdnsCalled:
	case <-time.After(900 * time.Millisecond):
		t.Fatal("expected fallback to mdns after failed cache probe")
	}
}

func TestFSMIdleReturnsToRetryBackoffOnLostRegistration(t *testing.T) {
	store := kv.NewMemoryStore()

	var mdnsCalls int32
	f := NewFSM(store,
		func(ctx context.Context, addr ServerAddr) error { return nil },
		func(ctx context.Context) (ServerAddr, bool) {
			atomic.AddInt32(&mdnsCalls, 1)
			return ServerAddr{IP: "1.2.3.4", UDPPort: 8081}, true
		},
		func(ctx context.Context) (ServerAddr, bool) {
			<-ctx.Done()
			return ServerAddr{}, false
		},
		nil,
	)
	f.MinBackoff = 10 * time.Millisecond
	f.MaxBackoff = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go f.Run(ctx)

	deadline := time.After(time.Second)
	for f.State() != StateIdle {
		select {
		case <-deadline:
			t.Fatalf("never reached idle, stuck at %s", f.State())
		case <-time.After(5 * time.Millisecond):
		}
	}

	f.NotifyRegistrationLost()

	// RetryBackoff hands over to Mdns, so a second mdns query shows the
	// loss drove the FSM out of Idle and through the backoff.
	deadline = time.After(time.Second)
	for atomic.LoadInt32(&mdnsCalls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("never left idle through retry backoff, stuck at %s", f.State())
		case <-time.After(5 * time.Millisecond):
		}
	}

	deadline = time.After(time.Second)
	for f.State() != StateIdle {
		select {
		case <-deadline:
			t.Fatalf("never returned to idle after simulated loss, stuck at %s", f.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
