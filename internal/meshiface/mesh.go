// Package meshiface defines the boundary between the bridge and the
// parts of the mesh node deliberately left out of this module's scope:
// the radio/routing layer, the lighting/plugin runtime, and OTA
// firmware transfer. The bridge only ever talks to these through the
// small interfaces below; no radio stack, lighting engine, or OTA
// transfer implementation lives in this repository.
package meshiface

import "context"

// Sender is the mesh radio/routing layer's outbound half: send raw
// bytes to a mesh destination. The bridge never constructs or parses
// mesh-internal frames; dest and data are opaque to it.
type Sender interface {
	Send(ctx context.Context, dest [6]byte, data []byte) error
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(ctx context.Context, dest [6]byte, data []byte) error

func (f SenderFunc) Send(ctx context.Context, dest [6]byte, data []byte) error {
	return f(ctx, dest, data)
}

// NullSender is a Sender that does nothing and never fails. It exists
// so the bridge can be constructed and exercised in isolation (tests,
// local development) without a real mesh radio stack.
var NullSender Sender = SenderFunc(func(context.Context, [6]byte, []byte) error { return nil })

// Role identifies whether the local node currently holds the mesh's
// elected root role.
type Role int

const (
	RoleChild Role = iota
	RoleRoot
)

// RoleEvent is published by the mesh layer's role observer whenever
// the local node's role changes.
type RoleEvent struct {
	Role Role
}

// RoleObserver lets the bridge subscribe to root-gain/root-lost edges
// without depending on how the mesh layer elects a root.
type RoleObserver interface {
	// Subscribe registers fn to be called on every role change. The
	// returned function cancels the subscription.
	Subscribe(fn func(RoleEvent)) (unsubscribe func())

	// CurrentRole returns the node's role at the time of the call.
	CurrentRole() Role
}

// LocalInfo is queried from the mesh layer to build registration and
// state-update payloads; the bridge never computes these values
// itself.
type LocalInfo interface {
	// RootAddress returns the current root's address as seen by the
	// mesh layer, valid only when CurrentRole() == RoleRoot.
	RootAddress() [4]byte

	// MeshID returns this mesh's 6-byte identifier.
	MeshID() [6]byte

	// NodeCount returns the number of nodes currently in the mesh
	// (including the root).
	NodeCount() uint8

	// FirmwareVersion returns this node's firmware version string.
	FirmwareVersion() string
}

// DispatchResult pairs whether the mesh layer accepted a command with
// the data that should be considered for mirroring. Nothing in this
// module builds one; the mirror wrapper takes the command data directly.
type DispatchResult struct {
	Err  error
	Data []byte
}

// CommandHandler is one entry in the lighting/plugin/OTA dispatch
// table: it knows how to turn an RPC's decoded request into a mesh
// command and opaque payload, and is solely responsible for
// interpreting vendor-specific payload formats this module does not
// parse.
type CommandHandler func(ctx context.Context, req []byte) (resp []byte, err error)
