package router

import (
	"sync"
	"sync/atomic"
)

// DefaultPortBuffer is how many envelopes a port queues before dropping
const DefaultPortBuffer = 256

// Hub is a broadcast channel shared by the canvases of one origin
type Hub struct {
	mu     sync.RWMutex
	name   string
	buffer int
	ports  []*Port
}

// NewHub creates an empty hub
func NewHub(name string) *Hub {
	return &Hub{name: name, buffer: DefaultPortBuffer}
}

// WithBuffer sets the inbox size of ports joined afterwards
func (h *Hub) WithBuffer(n int) *Hub {
	if n > 0 {
		h.buffer = n
	}
	return h
}

// Name returns the channel name
func (h *Hub) Name() string {
	return h.name
}

// Port is one member's attachment to a hub. Envelopes published to it
// queue in its inbox and reach recv one at a time on the port's own
// goroutine, never on the publisher's.
type Port struct {
	hub     *Hub
	name    string
	recv    func([]byte)
	inbox   chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Join attaches recv to the hub
func (h *Hub) Join(name string, recv func([]byte)) *Port {
	h.mu.Lock()
	p := &Port{
		hub:   h,
		name:  name,
		recv:  recv,
		inbox: make(chan []byte, h.buffer),
		done:  make(chan struct{}),
	}
	h.ports = append(h.ports, p)
	h.mu.Unlock()

	go p.drain()
	return p
}

// Size returns the number of joined ports
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ports)
}

// Publish queues a private copy of data for every other port and returns
// how many accepted it. A port whose inbox is full misses the envelope.
func (p *Port) Publish(data []byte) int {
	p.hub.mu.RLock()
	peers := make([]*Port, 0, len(p.hub.ports))
	for _, q := range p.hub.ports {
		if q != p {
			peers = append(peers, q)
		}
	}
	p.hub.mu.RUnlock()

	accepted := 0
	for _, q := range peers {
		if q.offer(data) {
			accepted++
		}
	}
	return accepted
}

func (p *Port) offer(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case p.inbox <- buf:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *Port) drain() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.inbox:
			p.recv(data)
		}
	}
}

// Dropped returns how many envelopes missed the port on a full inbox
func (p *Port) Dropped() int {
	return int(p.dropped.Load())
}

// Close detaches the port and stops its delivery goroutine. Envelopes
// still queued are discarded.
func (p *Port) Close() {
	p.once.Do(func() {
		close(p.done)

		h := p.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, q := range h.ports {
			if q == p {
				h.ports = append(h.ports[:i:i], h.ports[i+1:]...)
				return
			}
		}
	})
}
