package tasks

import "testing"

type fakePeer struct {
	id           int
	listLen      int
	pending      int
	requested    bool
	received     [][]Task
	sentChunks   [][]Task
	onReceiveArg func([]Task)
}

func (p *fakePeer) ListLen() int      { return p.listLen }
func (p *fakePeer) CombinedLoad() int { return p.listLen + p.pending }
func (p *fakePeer) Target() int       { return p.id }

func (p *fakePeer) RequestChunk(onReceive func([]Task)) {
	p.requested = true
	p.onReceiveArg = onReceive
}

func (p *fakePeer) SendChunk(ts []Task) {
	p.sentChunks = append(p.sentChunks, ts)
}

func TestMaybeRebalance_RequestsFromOverloadedPeer(t *testing.T) {
	self := NewList()
	for i := 0; i < 3; i++ {
		self.Append(Func(func() {}))
	}

	overloaded := &fakePeer{id: 1, listLen: 3 + 9 + 1} // > selfLen + RequestThreshold
	idle := &fakePeer{id: 2, listLen: 1}

	b := NewBalancer(self, []PeerHandle{idle, overloaded}, 256)
	b.MaybeRebalance()

	if !overloaded.requested {
		t.Error("expected the overloaded peer to receive a reassignment request")
	}
	if idle.requested {
		t.Error("did not expect the idle peer to receive a request")
	}
}

func TestMaybeRebalance_NoRequestWhenNoPeerOverloaded(t *testing.T) {
	self := NewList()
	for i := 0; i < 3; i++ {
		self.Append(Func(func() {}))
	}
	peer := &fakePeer{id: 1, listLen: 5}

	b := NewBalancer(self, []PeerHandle{peer}, 256)
	b.MaybeRebalance()

	if peer.requested {
		t.Error("did not expect a request when no peer exceeds the threshold")
	}
}

func TestMaybeRebalance_DistributesToLeastLoadedEligiblePeer(t *testing.T) {
	self := NewList()
	// distributeThreshold for eventBatch=256 is 256*3/4 = 192
	for i := 0; i < 200; i++ {
		self.Append(Func(func() {}))
	}

	tooBusy := &fakePeer{id: 1, listLen: 4, pending: 4} // combined 8 > 6, ineligible
	lightest := &fakePeer{id: 2, listLen: 1, pending: 1} // combined 2
	moderate := &fakePeer{id: 3, listLen: 2, pending: 2} // combined 4

	b := NewBalancer(self, []PeerHandle{tooBusy, moderate, lightest}, 256)
	b.MaybeRebalance()

	if len(lightest.sentChunks) != 1 {
		t.Fatalf("expected the lightest eligible peer to receive a chunk, got %d sends", len(lightest.sentChunks))
	}
	if len(moderate.sentChunks) != 0 || len(tooBusy.sentChunks) != 0 {
		t.Error("expected only the lightest peer to receive a chunk")
	}
	if self.Len() != 200-chunkSize {
		t.Errorf("self.Len() after distribute = %d, want %d", self.Len(), 200-chunkSize)
	}
}

func TestMaybeRebalance_NoEligiblePeerSkipsDistribute(t *testing.T) {
	self := NewList()
	for i := 0; i < 200; i++ {
		self.Append(Func(func() {}))
	}
	busy := &fakePeer{id: 1, listLen: 10, pending: 10}

	b := NewBalancer(self, []PeerHandle{busy}, 256)
	b.MaybeRebalance()

	if len(busy.sentChunks) != 0 {
		t.Error("expected no chunk sent when every peer exceeds the combined-load cap")
	}
	if self.Len() != 200 {
		t.Errorf("self.Len() = %d, want unchanged 200", self.Len())
	}
}

func TestMaybeRebalance_RequestCompletesViaCallback(t *testing.T) {
	self := NewList()
	overloaded := &fakePeer{id: 1, listLen: 20}

	b := NewBalancer(self, []PeerHandle{overloaded}, 256)
	b.MaybeRebalance()
	if !overloaded.requested {
		t.Fatal("expected a request to be issued")
	}

	chunk := []Task{Func(func() {}), Func(func() {})}
	overloaded.onReceiveArg(chunk)

	if self.Len() != len(chunk) {
		t.Errorf("self.Len() after callback = %d, want %d", self.Len(), len(chunk))
	}
	if b.requestInFlight {
		t.Error("expected requestInFlight to clear once the callback ran")
	}
}

// TestMaybeRebalance_DistributePassesPeerTargetToPopChunk confirms the
// chunk popped for an over-loaded self is gated against the chosen
// peer's own id, not some other peer's.
func TestMaybeRebalance_DistributePassesPeerTargetToPopChunk(t *testing.T) {
	self := NewList()
	var sawTarget int
	self.Append(Task{
		Execute: func(uintptr) uintptr { return 0 },
		Reassign: func(arg uintptr, target int) bool {
			sawTarget = target
			return true
		},
	})
	for i := 1; i < 200; i++ {
		self.Append(Func(func() {}))
	}

	lightest := &fakePeer{id: 99, listLen: 0}
	b := NewBalancer(self, []PeerHandle{lightest}, 256)
	b.MaybeRebalance()

	if sawTarget != 99 {
		t.Errorf("Reassign saw target %d, want peer id 99", sawTarget)
	}
}
