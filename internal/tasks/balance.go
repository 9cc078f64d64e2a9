package tasks

import "github.com/behrlich/go-fiberrt/internal/constants"

// PeerHandle is the view a Balancer has of another context's task
// list. Concrete implementations (wired in internal/bootstrap) cross
// the thread boundary via an async call so the peer's own thread
// performs the actual PopChunk/PushChunk, never the caller's.
type PeerHandle interface {
	// ListLen returns the peer's task-list length alone, used for the
	// request-threshold comparison.
	ListLen() int
	// CombinedLoad returns the peer's task-list length plus its pending
	// async-call count, used for distribute-threshold eligibility.
	CombinedLoad() int
	// Target identifies this peer for a Task's Reassign(arg, target)
	// check when distributing a chunk to it.
	Target() int
	// RequestChunk asks the peer to reassign a chunk of its queued tasks
	// to us. onReceive runs on our own thread once the chunk arrives.
	RequestChunk(onReceive func([]Task))
	// SendChunk pushes a chunk of our own tasks onto the peer.
	SendChunk(tasks []Task)
}

// Balancer implements the §4.3 load-balancing policy for a single
// context's task list against its peers.
type Balancer struct {
	self            *List
	peers           []PeerHandle
	eventBatch      int
	requestInFlight bool
}

// NewBalancer builds a Balancer over self's task list. eventBatch is
// the dispatcher's per-poll event batch size; DistributeThreshold is
// derived as a fraction of it.
func NewBalancer(self *List, peers []PeerHandle, eventBatch int) *Balancer {
	return &Balancer{self: self, peers: peers, eventBatch: eventBatch}
}

func (b *Balancer) distributeThreshold() int {
	return b.eventBatch * constants.DistributeThresholdNum / constants.DistributeThresholdDen
}

// MaybeRebalance evaluates both halves of the policy once: issue a
// single in-flight reassignment request if under-loaded, or push a
// chunk to a lightly-loaded peer if over-loaded. Call once per
// scheduler tick.
func (b *Balancer) MaybeRebalance() {
	selfLen := b.self.Len()

	if selfLen < constants.RequestThreshold && !b.requestInFlight {
		for _, p := range b.peers {
			if p.ListLen() > selfLen+constants.RequestThreshold {
				b.requestInFlight = true
				p.RequestChunk(func(ts []Task) {
					b.self.PushChunk(ts)
					b.requestInFlight = false
				})
				return
			}
		}
	}

	if selfLen >= b.distributeThreshold() {
		var best PeerHandle
		bestLoad := -1
		for _, p := range b.peers {
			load := p.CombinedLoad()
			if load > constants.PeerReassignCombinedMax {
				continue
			}
			if best == nil || load < bestLoad {
				best = p
				bestLoad = load
			}
		}
		if best != nil {
			if chunk := b.self.PopChunk(best.Target()); len(chunk) > 0 {
				best.SendChunk(chunk)
			}
		}
	}
}
