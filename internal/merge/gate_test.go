package merge

import "testing"

func TestGateDefaultsClosed(t *testing.T) {
	g := NewGate()
	if g.LocalToRemote() {
		t.Fatal("local->remote open on a fresh gate")
	}
	if !g.RemoteToLocal() {
		t.Fatal("remote->local should be open with no fork")
	}
	if g.ProviderSynced() {
		t.Fatal("fresh gate reports synced")
	}
}

func TestGateLocalToRemoteRequiresAll(t *testing.T) {
	g := NewGate()

	g.Connected()
	if g.LocalToRemote() {
		t.Fatal("open with connected only")
	}
	g.Synced()
	if !g.LocalToRemote() {
		t.Fatal("closed with connected and synced")
	}

	if err := g.BeginFork(); err != nil {
		t.Fatalf("BeginFork: %v", err)
	}
	if g.LocalToRemote() {
		t.Fatal("open while fork active")
	}
	g.ClearFork()
	if !g.LocalToRemote() {
		t.Fatal("closed after fork cleared")
	}
}

func TestGateDisconnectClearsSynced(t *testing.T) {
	g := syncedGate()
	g.Disconnected()
	if g.ProviderSynced() {
		t.Fatal("synced survived a disconnect")
	}
	g.Connected()
	if g.ProviderSynced() {
		t.Fatal("synced restored by reconnect without a sync handshake")
	}
	g.Synced()
	if !g.ProviderSynced() {
		t.Fatal("not synced after handshake")
	}
}

func TestGateForkQueuesInbound(t *testing.T) {
	g := syncedGate()
	if err := g.BeginFork(); err != nil {
		t.Fatalf("BeginFork: %v", err)
	}
	if g.RemoteToLocal() {
		t.Fatal("remote->local open during fork")
	}

	g.EnqueueInbound([]byte("u1"))
	g.EnqueueInbound([]byte("u2"))
	if n := g.PendingInboundCount(); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}

	queued := g.ClearFork()
	if len(queued) != 2 || string(queued[0]) != "u1" || string(queued[1]) != "u2" {
		t.Fatalf("flush out of order: %q", queued)
	}
	if g.PendingInboundCount() != 0 {
		t.Fatal("queue not emptied by ClearFork")
	}
	if !g.RemoteToLocal() {
		t.Fatal("remote->local closed after fork cleared")
	}
}

func TestGateSingleFork(t *testing.T) {
	g := NewGate()
	if err := g.BeginFork(); err != nil {
		t.Fatalf("first BeginFork: %v", err)
	}
	if err := g.BeginFork(); err != ErrForkAlreadyActive {
		t.Fatalf("second BeginFork = %v, want ErrForkAlreadyActive", err)
	}
}
