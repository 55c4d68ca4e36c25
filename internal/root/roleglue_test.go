package root

import (
	"context"
	"sync"
	"testing"

	"github.com/lyktparad/meshbridge/internal/meshiface"
)

type fakeRoleObserver struct {
	mu   sync.Mutex
	fn   func(meshiface.RoleEvent)
	role meshiface.Role
}

func (f *fakeRoleObserver) Subscribe(fn func(meshiface.RoleEvent)) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.fn = nil
		f.mu.Unlock()
	}
}

func (f *fakeRoleObserver) CurrentRole() meshiface.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role
}

func (f *fakeRoleObserver) fire(ev meshiface.RoleEvent) {
	f.mu.Lock()
	f.role = ev.Role
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

type fakeActiveState struct {
	state ActivePluginState
	ok    bool
}

func (f fakeActiveState) CurrentActiveState() (ActivePluginState, bool) {
	return f.state, f.ok
}

func TestRoleGlueGainRootInvokesCallback(t *testing.T) {
	observer := &fakeRoleObserver{}
	var gained, lost int
	glue := &RoleGlue{
		Observer:   observer,
		OnGainRoot: func(ctx context.Context) { gained++ },
		OnLoseRoot: func(ctx context.Context) { lost++ },
	}
	glue.Attach(context.Background())
	defer glue.Detach()

	observer.fire(meshiface.RoleEvent{Role: meshiface.RoleRoot})
	if gained != 1 {
		t.Fatalf("gained = %d, want 1", gained)
	}
	if lost != 0 {
		t.Fatalf("lost = %d, want 0", lost)
	}
}

func TestRoleGlueLoseRootInvokesCallback(t *testing.T) {
	observer := &fakeRoleObserver{}
	var gained, lost int
	glue := &RoleGlue{
		Observer:   observer,
		OnGainRoot: func(ctx context.Context) { gained++ },
		OnLoseRoot: func(ctx context.Context) { lost++ },
	}
	glue.Attach(context.Background())
	defer glue.Detach()

	observer.fire(meshiface.RoleEvent{Role: meshiface.RoleChild})
	if lost != 1 {
		t.Fatalf("lost = %d, want 1", lost)
	}
	if gained != 0 {
		t.Fatalf("gained = %d, want 0", gained)
	}
}

func TestRoleGluePushesActiveStateOnGainRoot(t *testing.T) {
	observer := &fakeRoleObserver{}
	sender := &fakeSender{}
	active := fakeActiveState{state: ActivePluginState{Command: 0x07, Payload: []byte{1, 2, 3}}, ok: true}
	glue := &RoleGlue{
		Observer: observer,
		Active:   active,
		Mesh:     sender,
	}
	glue.Attach(context.Background())
	defer glue.Detach()

	observer.fire(meshiface.RoleEvent{Role: meshiface.RoleRoot})
	if sender.calls != 1 {
		t.Fatalf("mesh Send called %d times, want 1", sender.calls)
	}
}

func TestRoleGlueSkipsActiveStateWhenNoneRunning(t *testing.T) {
	observer := &fakeRoleObserver{}
	sender := &fakeSender{}
	active := fakeActiveState{ok: false}
	glue := &RoleGlue{
		Observer: observer,
		Active:   active,
		Mesh:     sender,
	}
	glue.Attach(context.Background())
	defer glue.Detach()

	observer.fire(meshiface.RoleEvent{Role: meshiface.RoleRoot})
	if sender.calls != 0 {
		t.Fatalf("mesh Send called %d times, want 0", sender.calls)
	}
}

func TestRoleGlueDetachStopsReacting(t *testing.T) {
	observer := &fakeRoleObserver{}
	var gained int
	glue := &RoleGlue{
		Observer:   observer,
		OnGainRoot: func(ctx context.Context) { gained++ },
	}
	glue.Attach(context.Background())
	glue.Detach()

	observer.fire(meshiface.RoleEvent{Role: meshiface.RoleRoot})
	if gained != 0 {
		t.Fatalf("gained = %d after detach, want 0", gained)
	}
}
