package merge

import "errors"

// ErrForkAlreadyActive is the loud half of the single-fork invariant: the
// machine checks before forking and treats a violation as a programming
// error in tests while no-opping defensively in production paths.
var ErrForkAlreadyActive = errors.New("merge: fork already active")

// Gate decides, at any instant, whether CRDT updates may flow between the
// local and remote documents. It serializes the two origins of mutation:
// a disk-derived delta under reconciliation and remote-derived deltas would
// otherwise race on the local document's version bookkeeping.
//
// The gate is owned by a single machine and shares its single-threaded
// execution model; it needs no locking.
type Gate struct {
	providerConnected bool
	providerSynced    bool
	forkActive        bool
	pendingInbound    [][]byte
}

// NewGate returns a closed gate: offline, unsynced, no fork.
func NewGate() *Gate { return &Gate{} }

// Connected records provider connectivity.
func (g *Gate) Connected() { g.providerConnected = true }

// Disconnected clears connectivity. Synced status cannot survive a
// disconnect.
func (g *Gate) Disconnected() {
	g.providerConnected = false
	g.providerSynced = false
}

// Synced records that the provider has finished its sync handshake.
func (g *Gate) Synced() { g.providerSynced = true }

// ProviderConnected reports current connectivity.
func (g *Gate) ProviderConnected() bool { return g.providerConnected }

// ProviderSynced reports whether the provider is connected and synced.
func (g *Gate) ProviderSynced() bool { return g.providerConnected && g.providerSynced }

// ForkActive reports whether a fork is in flight.
func (g *Gate) ForkActive() bool { return g.forkActive }

// LocalToRemote reports whether local updates may be pushed to the remote
// document.
func (g *Gate) LocalToRemote() bool {
	return g.providerConnected && g.providerSynced && !g.forkActive
}

// RemoteToLocal reports whether inbound remote updates may be applied to
// the local document.
func (g *Gate) RemoteToLocal() bool { return !g.forkActive }

// BeginFork closes remote->local while a reconciliation is in flight.
func (g *Gate) BeginFork() error {
	if g.forkActive {
		return ErrForkAlreadyActive
	}
	g.forkActive = true
	return nil
}

// EnqueueInbound queues an inbound update that arrived while a fork was
// active. Queued updates are flushed in receipt order on fork clear.
func (g *Gate) EnqueueInbound(update []byte) {
	g.pendingInbound = append(g.pendingInbound, update)
}

// PendingInboundCount returns the number of queued inbound updates.
func (g *Gate) PendingInboundCount() int { return len(g.pendingInbound) }

// ClearFork reopens remote->local and returns the queued inbound updates
// in receipt order for the caller to flush into the local document. Called
// on every reconcile outcome, win or lose.
func (g *Gate) ClearFork() [][]byte {
	g.forkActive = false
	queued := g.pendingInbound
	g.pendingInbound = nil
	return queued
}
