package bridge

import (
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
)

// Inbound message types
const (
	TypeOutput      = "output"
	TypeState       = "state"
	TypeLog         = "log"
	TypeRequest     = "request"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeEmit        = "emit"
)

// Outbound message types
const (
	OutMount        = "mount"
	OutInput        = "input"
	OutStateChanged = "state-changed"
	OutEvent        = "event"
	OutResponse     = "response"
	OutActivate     = "activate"
	OutDeactivate   = "deactivate"
	OutDestroy      = "destroy"
)

// Handle is the host-side reference to one isolated context. Its address
// is the context's identity.
type Handle struct {
	instanceID string
	deliver    func(Outbound) bool
	closed     atomic.Bool
}

// NewHandle wraps the delivery function of a context
func NewHandle(instanceID string, deliver func(Outbound) bool) *Handle {
	return &Handle{instanceID: instanceID, deliver: deliver}
}

// InstanceID returns the instance the handle was created for
func (h *Handle) InstanceID() string {
	return h.instanceID
}

// Close stops further deliveries through the handle
func (h *Handle) Close() {
	h.closed.Store(true)
}

// Closed reports whether the handle was closed
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

func (h *Handle) post(o Outbound) bool {
	if h.closed.Load() || h.deliver == nil {
		return false
	}
	return h.deliver(o)
}

// Message is one inbound message as stamped by the trusted shim. Data is
// the JSON body produced inside the sending context.
type Message struct {
	Origin     string
	InstanceID string
	Source     *Handle
	Type       string
	Data       []byte
}

// Outbound is a host-to-widget message. It is serialized before it enters
// the target context.
type Outbound struct {
	Type         string                 `json:"type"`
	Port         string                 `json:"port,omitempty"`
	Value        interface{}            `json:"value"`
	State        map[string]interface{} `json:"state,omitempty"`
	Inputs       map[string]interface{} `json:"inputs,omitempty"`
	Subscription string                 `json:"subscription,omitempty"`
	Event        string                 `json:"event,omitempty"`
	Payload      interface{}            `json:"payload"`
	Source       string                 `json:"source,omitempty"`
	Result       *capability.Result     `json:"result,omitempty"`
}

// OutputPayload is the body of an output message
type OutputPayload struct {
	Port  string      `json:"port"`
	Value interface{} `json:"value"`
}

// LogPayload is the body of a log message
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SubscribePayload is the body of a subscribe message. ID is chosen by the
// context and echoed on every delivered event.
type SubscribePayload struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Scope string `json:"scope,omitempty"`
}

// UnsubscribePayload is the body of an unsubscribe message
type UnsubscribePayload struct {
	ID string `json:"id"`
}

// EmitPayload is the body of an emit message
type EmitPayload struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Scope   string      `json:"scope,omitempty"`
}

// Sink receives classified messages from accepted senders
type Sink interface {
	Output(instanceID string, msg OutputPayload)
	State(instanceID string, partial map[string]interface{})
	Log(instanceID string, msg LogPayload)
	Request(instanceID string, req capability.Request)
	Subscribe(instanceID string, msg SubscribePayload)
	Unsubscribe(instanceID string, msg UnsubscribePayload)
	Emit(instanceID string, msg EmitPayload)
}
