package canvas

import (
	"errors"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bridge"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bus"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// The Canvas receives every accepted widget message from its bridge. These
// methods run on the bridge loop.
var _ bridge.Sink = (*Canvas)(nil)

func (c *Canvas) Output(instanceID string, msg bridge.OutputPayload) {
	c.pipeline.RouteOutput(instanceID, msg.Port, msg.Value)
}

// State shallow-merges partial into the instance's state, schedules
// persistence and echoes the result to that instance only. Scheduling
// happens under the canvas lock so a concurrent removal either sees the
// write pending or the instance gone.
func (c *Canvas) State(instanceID string, partial map[string]interface{}) {
	c.mu.Lock()
	inst, ok := c.instances[instanceID]
	if !ok {
		c.mu.Unlock()
		return
	}
	merged := copyState(inst.State)
	for k, v := range partial {
		merged[k] = v
	}
	blob, err := sonic.Marshal(merged)
	if err == nil {
		err = utils.ValidateSize(blob, utils.MaxStateSize, "state")
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("State update refused", logging.Instance(instanceID), zap.Error(err))
		c.notice(NoticeLog, LogNotice{InstanceID: instanceID, Level: "error", Message: "state update refused: " + err.Error()})
		return
	}
	inst.State = merged
	c.persister.Schedule(instanceID, blob)
	c.mu.Unlock()

	if err := c.bridge.Send(instanceID, bridge.Outbound{Type: bridge.OutStateChanged, State: copyState(merged)}); err != nil {
		c.logger.Debug("State echo not delivered", logging.Instance(instanceID), zap.Error(err))
	}
}

func (c *Canvas) Log(instanceID string, msg bridge.LogPayload) {
	level := strings.ToLower(msg.Level)
	fields := []zap.Field{logging.Instance(instanceID), logging.WidgetText("text", msg.Message)}
	switch level {
	case "error":
		c.logger.Warn("Widget error", fields...)
	case "warn":
		c.logger.Info("Widget warning", fields...)
	default:
		level = "info"
		c.logger.Debug("Widget log", fields...)
	}
	c.notice(NoticeLog, LogNotice{
		InstanceID: instanceID,
		Level:      level,
		Message:    c.sanitizer.Sanitize(logging.Truncate(msg.Message, logging.MaxWidgetTextLength)),
	})
}

func (c *Canvas) Request(instanceID string, req capability.Request) {
	span, ctx := c.tracer.StartSpan(c.ctx, "capability "+req.Capability)
	span.SetTag("canvas_id", c.id)
	span.SetTag("instance_id", instanceID)

	c.gate.Handle(ctx, instanceID, req, func(res capability.Result) {
		if res.Error != nil {
			span.SetError(errors.New(res.Error.Name + ": " + res.Error.Message))
		}
		span.Finish()
		c.tracer.Submit(span)

		if err := c.bridge.Send(instanceID, bridge.Outbound{Type: bridge.OutResponse, Result: &res}); err != nil {
			c.logger.Debug("Response not delivered", logging.Instance(instanceID), zap.Error(err))
		}
	})
}

func (c *Canvas) Subscribe(instanceID string, msg bridge.SubscribePayload) {
	kind, ok := types.ParseScopeKind(msg.Scope)
	if !ok || isNotice(msg.Event) {
		c.logger.Debug("Subscription refused",
			logging.Instance(instanceID), zap.String("event", msg.Event), zap.String("scope", msg.Scope))
		return
	}
	scope := types.Scope{Kind: kind}
	if kind == types.ScopeInstance {
		scope.InstanceID = instanceID
	}

	subID := msg.ID
	unsubscribe := c.bus.On(msg.Event, scope, instanceID, func(ev bus.Event) {
		if isNotice(ev.Name) {
			return
		}
		_ = c.bridge.Send(instanceID, bridge.Outbound{
			Type:         bridge.OutEvent,
			Subscription: subID,
			Event:        ev.Name,
			Payload:      ev.Payload,
			Source:       ev.Source,
		})
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, live := c.instances[instanceID]; !live {
		unsubscribe()
		return
	}
	subs, ok := c.subs[instanceID]
	if !ok {
		subs = make(map[string]func())
		c.subs[instanceID] = subs
	}
	if prev, ok := subs[subID]; ok {
		prev()
	}
	subs[subID] = unsubscribe
}

func (c *Canvas) Unsubscribe(instanceID string, msg bridge.UnsubscribePayload) {
	c.mu.Lock()
	unsubscribe, ok := c.subs[instanceID][msg.ID]
	if ok {
		delete(c.subs[instanceID], msg.ID)
	}
	c.mu.Unlock()
	if ok {
		unsubscribe()
	}
}

func (c *Canvas) Emit(instanceID string, msg bridge.EmitPayload) {
	kind, ok := types.ParseScopeKind(msg.Scope)
	if !ok || isNotice(msg.Event) {
		c.logger.Debug("Emission refused",
			logging.Instance(instanceID), zap.String("event", msg.Event), zap.String("scope", msg.Scope))
		return
	}
	c.bus.Emit(msg.Event, msg.Payload, types.Scope{Kind: kind}, instanceID)
}
