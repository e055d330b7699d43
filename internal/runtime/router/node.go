package router

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bus"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

// Rejection reasons
const (
	ReasonVisited   = "visited"
	ReasonHops      = "hops"
	ReasonTTL       = "ttl"
	ReasonExpired   = "expired"
	ReasonDuplicate = "duplicate"
	ReasonVersion   = "version"
	ReasonMalformed = "malformed"
	ReasonOverflow  = "overflow" // inbox full, counted by the hub port
)

// Config configures a node
type Config struct {
	HopCeiling int
	MaxAge     time.Duration
	SeenCache  int
	PortBuffer int // inbox size of each hub port
}

// DefaultConfig returns the standard loop-guard limits
func DefaultConfig() Config {
	return Config{
		HopCeiling: 10,
		MaxAge:     30 * time.Second,
		SeenCache:  4096,
		PortBuffer: DefaultPortBuffer,
	}
}

// Rejected is returned for an inbound envelope the loop guard refused
type Rejected struct {
	Reason     string
	EnvelopeID string
	Err        error
}

func (e *Rejected) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope %q rejected (%s): %v", e.EnvelopeID, e.Reason, e.Err)
	}
	return fmt.Sprintf("envelope %q rejected (%s)", e.EnvelopeID, e.Reason)
}

func (e *Rejected) Unwrap() error {
	return e.Err
}

// Deliverer runs local handlers for an inbound event
type Deliverer interface {
	Deliver(ev bus.Event) int
}

// Stats counts a node's traffic
type Stats struct {
	Sent      int            `json:"sent"`
	Received  int            `json:"received"`
	Delivered int            `json:"delivered"`
	Forwarded int            `json:"forwarded"`
	Dropped   map[string]int `json:"dropped"`
}

// Node is one canvas's endpoint on a hub
type Node struct {
	id      string
	channel string
	config  Config
	port    *Port
	local   Deliverer
	seen    *lru.Cache[string, struct{}]
	now     func() time.Time
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu    sync.Mutex
	stats Stats
}

// NewNode joins hub as nodeID and delivers accepted envelopes to local
func NewNode(nodeID string, hub *Hub, config Config, local Deliverer, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultConfig()
	if config.HopCeiling <= 0 {
		config.HopCeiling = d.HopCeiling
	}
	if config.SeenCache <= 0 {
		config.SeenCache = d.SeenCache
	}
	seen, err := lru.New[string, struct{}](config.SeenCache)
	if err != nil {
		return nil, fmt.Errorf("seen cache: %w", err)
	}

	n := &Node{
		id:      nodeID,
		channel: hub.Name(),
		config:  config,
		local:   local,
		seen:    seen,
		now:     time.Now,
		logger:  logger.Named("router").With(zap.String("node", nodeID)),
		stats:   Stats{Dropped: map[string]int{}},
	}
	n.port = hub.Join(nodeID, n.receive)
	return n, nil
}

// WithMetrics adds metrics tracking to the node
func (n *Node) WithMetrics(metrics *monitoring.Metrics) *Node {
	n.metrics = metrics
	return n
}

// ID returns the node id
func (n *Node) ID() string {
	return n.id
}

// Forward implements bus.Forwarder for global emissions
func (n *Node) Forward(ev bus.Event) {
	if ev.Remote {
		return
	}
	if _, err := n.Broadcast(ev.Name, ev.Payload, ev.Source); err != nil {
		n.logger.Warn("Broadcast failed", zap.String("event", ev.Name), zap.Error(err))
	}
}

// Broadcast stamps and publishes a new envelope
func (n *Node) Broadcast(event string, payload interface{}, sourceInstance string) (*Envelope, error) {
	env := &Envelope{
		V:       Version,
		ID:      id.NewEnvelopeID().String(),
		Source:  Identity{Canvas: n.id, Instance: sourceInstance},
		Target:  TargetAll,
		Channel: n.channel,
		Type:    event,
		Payload: payload,
		TS:      n.now().UnixMilli(),
		Guard: Guard{
			Visited: []string{n.id},
			Hops:    0,
			TTL:     n.config.HopCeiling,
		},
	}
	data, err := Encode(env)
	if err != nil {
		return nil, err
	}
	n.seen.Add(env.ID, struct{}{})

	n.mu.Lock()
	n.stats.Sent++
	n.mu.Unlock()
	n.metrics.RecordEnvelope("out")

	n.port.Publish(data)
	return env, nil
}

// Receive applies the loop guard to an inbound envelope, delivers it
// locally and re-broadcasts it. Envelopes from the hub arrive here on the
// node's port goroutine, one at a time.
func (n *Node) Receive(data []byte) error {
	n.mu.Lock()
	n.stats.Received++
	n.mu.Unlock()
	n.metrics.RecordEnvelope("in")

	env, err := n.admit(data)
	if err != nil {
		var rej *Rejected
		if errors.As(err, &rej) {
			n.mu.Lock()
			n.stats.Dropped[rej.Reason]++
			n.mu.Unlock()
			n.metrics.RecordEnvelopeDrop(rej.Reason)
		}
		n.logger.Debug("Envelope rejected", zap.Error(err))
		return err
	}

	if env.Target == "" || env.Target == TargetAll || env.Target == n.id {
		n.local.Deliver(bus.Event{
			Name:    env.Type,
			Payload: env.Payload,
			Scope:   types.GlobalScope(),
			Source:  env.Source.Instance,
			Origin:  env.Source.Canvas,
			Remote:  true,
		})
		n.mu.Lock()
		n.stats.Delivered++
		n.mu.Unlock()
	}

	next := env.restamp(n.id)
	if next.Guard.Hops >= n.config.HopCeiling || next.Guard.TTL <= 0 {
		return nil
	}
	out, err := Encode(next)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.stats.Forwarded++
	n.mu.Unlock()
	n.port.Publish(out)
	return nil
}

func (n *Node) receive(data []byte) {
	_ = n.Receive(data)
}

func (n *Node) admit(data []byte) (*Envelope, error) {
	env, err := Decode(data)
	if err != nil {
		return nil, &Rejected{Reason: ReasonMalformed, Err: err}
	}
	reject := func(reason string) (*Envelope, error) {
		return nil, &Rejected{Reason: reason, EnvelopeID: env.ID}
	}

	switch {
	case env.V != Version:
		return reject(ReasonVersion)
	case env.Channel != n.channel:
		return reject(ReasonMalformed)
	case env.Guard.Visits(n.id):
		return reject(ReasonVisited)
	case env.Guard.Hops >= n.config.HopCeiling:
		return reject(ReasonHops)
	case env.Guard.TTL <= 0:
		return reject(ReasonTTL)
	case n.config.MaxAge > 0 && n.now().Sub(time.UnixMilli(env.TS)) > n.config.MaxAge:
		return reject(ReasonExpired)
	}

	if seen, _ := n.seen.ContainsOrAdd(env.ID, struct{}{}); seen {
		return reject(ReasonDuplicate)
	}
	return env, nil
}

// Stats returns a snapshot of the node's counters
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := n.stats
	s.Dropped = make(map[string]int, len(n.stats.Dropped)+1)
	for k, v := range n.stats.Dropped {
		s.Dropped[k] = v
	}
	if overflow := n.port.Dropped(); overflow > 0 {
		s.Dropped[ReasonOverflow] = overflow
	}
	return s
}

// Close leaves the hub
func (n *Node) Close() {
	n.port.Close()
}
