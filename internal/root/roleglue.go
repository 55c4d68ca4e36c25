package root

import (
	"context"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/meshiface"
)

// ActivePluginState is the currently-running plugin/playback command,
// pushed to a freshly promoted root so the mesh's user-visible state
// survives root churn. The fields are opaque to the bridge; it only
// relays them through meshiface.
type ActivePluginState struct {
	Command uint8
	Payload []byte
}

// ActiveStateSource is queried by the role glue when a root is gained
// so it can push whatever plugin/playback command is already running
// to the newly promoted root.
type ActiveStateSource interface {
	CurrentActiveState() (ActivePluginState, bool)
}

// RoleGlue reacts to mesh-role changes: gaining root calls OnGainRoot
// and then pushes any active plugin/playback state, losing root calls
// OnLoseRoot. It never starts subsystems itself - it calls back into
// the Bridge, which owns their lifecycle. Bridge's callbacks restart
// and stop only the heartbeat/state tasks; discovery and the RPC
// listener are not stopped when root is lost.
type RoleGlue struct {
	Observer meshiface.RoleObserver
	Active   ActiveStateSource
	Mesh     meshiface.Sender
	Log      *zap.Logger

	OnGainRoot func(ctx context.Context)
	OnLoseRoot func(ctx context.Context)

	unsubscribe func()
}

// Attach subscribes to role-change events. ctx bounds any work done
// inside the callbacks; it does not bound the subscription itself,
// call Detach to stop reacting to events.
func (g *RoleGlue) Attach(ctx context.Context) {
	g.unsubscribe = g.Observer.Subscribe(func(ev meshiface.RoleEvent) {
		switch ev.Role {
		case meshiface.RoleRoot:
			g.log().Info("role glue: gained root")
			if g.OnGainRoot != nil {
				g.OnGainRoot(ctx)
			}
			g.pushActiveState(ctx)
		case meshiface.RoleChild:
			g.log().Info("role glue: lost root")
			if g.OnLoseRoot != nil {
				g.OnLoseRoot(ctx)
			}
		}
	})
}

// Detach cancels the subscription. Safe to call multiple times.
func (g *RoleGlue) Detach() {
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
}

func (g *RoleGlue) pushActiveState(ctx context.Context) {
	if g.Active == nil || g.Mesh == nil {
		return
	}
	state, ok := g.Active.CurrentActiveState()
	if !ok {
		return
	}
	// dest is the mesh-wide broadcast address in this context; the
	// radio/routing layer (out of scope) resolves how that is framed.
	if err := g.Mesh.Send(ctx, [6]byte{}, state.Payload); err != nil {
		g.log().Warn("role glue: failed to push active state to new root", zap.Error(err))
	}
}

func (g *RoleGlue) log() *zap.Logger {
	if g.Log != nil {
		return g.Log
	}
	return zap.NewNop()
}
