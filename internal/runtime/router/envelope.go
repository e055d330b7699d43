package router

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// Version is the only envelope version this node understands
const Version = 1

// Broadcast target addressing every node
const TargetAll = "*"

// Identity names where an envelope came from
type Identity struct {
	Canvas   string `json:"canvas"`
	Instance string `json:"instance,omitempty"`
}

// Guard is the loop-guard block
type Guard struct {
	Visited []string `json:"visited"`
	Hops    int      `json:"hops"`
	TTL     int      `json:"ttl"`
}

// Visits reports whether nodeID is in the visited set
func (g Guard) Visits(nodeID string) bool {
	for _, v := range g.Visited {
		if v == nodeID {
			return true
		}
	}
	return false
}

// Envelope wraps one cross-canvas event
type Envelope struct {
	V       int         `json:"v"`
	ID      string      `json:"id"`
	Source  Identity    `json:"source"`
	Target  string      `json:"target,omitempty"`
	Channel string      `json:"channel"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	TS      int64       `json:"ts"`
	Guard   Guard       `json:"guard"`
}

// restamp returns the copy a node re-broadcasts after delivering
func (e *Envelope) restamp(nodeID string) *Envelope {
	next := *e
	next.Guard.Visited = append(append(make([]string, 0, len(e.Guard.Visited)+1), e.Guard.Visited...), nodeID)
	next.Guard.Hops = e.Guard.Hops + 1
	next.Guard.TTL = e.Guard.TTL - 1
	return &next
}

// Encode serializes an envelope
func Encode(e *Envelope) ([]byte, error) {
	return sonic.Marshal(e)
}

// Decode parses and structurally checks an envelope
func Decode(data []byte) (*Envelope, error) {
	if err := utils.ValidateSize(data, utils.MaxMessageSize, "envelope"); err != nil {
		return nil, err
	}
	var e Envelope
	if err := sonic.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if e.ID == "" || e.Type == "" || e.Source.Canvas == "" {
		return nil, errors.New("envelope missing id, type or source")
	}
	return &e, nil
}
