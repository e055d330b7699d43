package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bridge"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/id"
)

type inbound struct {
	kind string
	data []byte
}

// wctx is one isolated context. Every field below vm is touched only by
// the context goroutine.
type wctx struct {
	instanceID string
	config     Config
	handle     *bridge.Handle
	submit     func(bridge.Message)
	mailbox    *mailbox
	done       chan struct{}
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	// guards interrupt delivery against a callback that already returned
	callMu  sync.Mutex
	inCall  bool
	callSeq uint64

	ready     chan error // receives the load outcome once
	evaluated atomic.Bool

	vm        *goja.Runtime
	stringify goja.Callable
	parse     goja.Callable
	errorCtor goja.Value

	loading     bool
	deferred    bool
	readyCalled bool
	readied     bool

	mounted      bool
	onMount      goja.Callable
	onState      goja.Callable
	onDestroy    goja.Callable
	onActivate   goja.Callable
	onDeactivate goja.Callable
	inputs       map[string]goja.Callable
	subs         map[string]goja.Callable
	pending      map[string]func(ok bool, v goja.Value)
}

func newContext(instanceID string, config Config, submit func(bridge.Message), logger *zap.Logger, metrics *monitoring.Metrics) *wctx {
	c := &wctx{
		instanceID: instanceID,
		config:     config,
		submit:     submit,
		mailbox:    newMailbox(),
		done:       make(chan struct{}),
		ready:      make(chan error, 1),
		logger:     logger,
		metrics:    metrics,
		vm:         goja.New(),
		inputs:     make(map[string]goja.Callable),
		subs:       make(map[string]goja.Callable),
		pending:    make(map[string]func(bool, goja.Value)),
	}
	c.handle = bridge.NewHandle(instanceID, c.deliver)
	return c
}

// run is the context goroutine
func (c *wctx) run() {
	defer close(c.done)
	for {
		task, ok := c.mailbox.next()
		if !ok {
			return
		}
		c.safely(task)
	}
}

func (c *wctx) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Context task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// deliver is the handle's delivery function. It serializes on the caller's
// goroutine so no host value is shared with the context.
func (c *wctx) deliver(out bridge.Outbound) bool {
	data, err := sonic.Marshal(out)
	if err != nil {
		c.logger.Warn("Outbound message not serializable",
			zap.String("type", out.Type),
			zap.Error(err),
		)
		return false
	}
	msg := inbound{kind: out.Type, data: data}
	return c.mailbox.push(func() { c.handleInbound(msg) })
}

// load installs the shim and evaluates the payload. The outcome lands on
// c.ready when evaluation ends, unless the payload deferred readiness and
// has not signalled it yet.
func (c *wctx) load(payload string) {
	if err := c.setup(); err != nil {
		c.signalReady(fmt.Errorf("shim setup: %w", err))
		return
	}
	c.loading = true
	_, err := c.vm.RunScript(c.instanceID+".js", payload)
	c.vm.ClearInterrupt()
	c.loading = false
	c.evaluated.Store(true)

	switch {
	case err != nil:
		c.signalReady(err)
	case !c.deferred || c.readyCalled:
		c.signalReady(nil)
	}
}

func (c *wctx) signalReady(err error) {
	if c.readied {
		return
	}
	c.readied = true
	c.ready <- err
}

func (c *wctx) setup() error {
	vm := c.vm
	vm.SetMaxCallStackSize(c.config.MaxCallStack)

	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	// Timers are disabled
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := vm.Set(name, noop); err != nil {
			return err
		}
	}

	// Captured before the payload can replace them
	jsonObj := vm.Get("JSON").ToObject(vm)
	var ok bool
	if c.stringify, ok = goja.AssertFunction(jsonObj.Get("stringify")); !ok {
		return errors.New("JSON.stringify unavailable")
	}
	if c.parse, ok = goja.AssertFunction(jsonObj.Get("parse")); !ok {
		return errors.New("JSON.parse unavailable")
	}
	c.errorCtor = vm.Get("Error")
	freeze, ok := goja.AssertFunction(vm.Get("Object").ToObject(vm).Get("freeze"))
	if !ok {
		return errors.New("Object.freeze unavailable")
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, c.logFunc(level)); err != nil {
			return err
		}
	}
	if _, err := freeze(goja.Undefined(), console); err != nil {
		return err
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	api := vm.NewObject()
	fns := map[string]func(goja.FunctionCall) goja.Value{
		"onMount":       c.setHook("onMount", &c.onMount),
		"onStateChange": c.setHook("onStateChange", &c.onState),
		"onDestroy":     c.setHook("onDestroy", &c.onDestroy),
		"onActivate":    c.setHook("onActivate", &c.onActivate),
		"onDeactivate":  c.setHook("onDeactivate", &c.onDeactivate),
		"onInput":       c.apiOnInput,
		"emitOutput":    c.apiEmitOutput,
		"setState":      c.apiSetState,
		"on":            c.apiOn,
		"emit":          c.apiEmit,
		"request":       c.apiRequest,
		"deferReady":    c.apiDeferReady,
		"log":           c.logFunc("info"),
	}
	for name, fn := range fns {
		if err := api.Set(name, fn); err != nil {
			return err
		}
	}
	if err := api.Set("instanceId", c.instanceID); err != nil {
		return err
	}
	if _, err := freeze(goja.Undefined(), api); err != nil {
		return err
	}
	return vm.GlobalObject().DefineDataProperty("widget", api, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

// ---------------------------------------------------------------------------
// Widget -> host
// ---------------------------------------------------------------------------

func (c *wctx) post(kind string, body goja.Value) {
	data, err := c.encode(body)
	if err != nil {
		panic(c.vm.NewTypeError("value could not be cloned: " + err.Error()))
	}
	c.submit(bridge.Message{
		Origin:     c.config.Origin,
		InstanceID: c.instanceID,
		Source:     c.handle,
		Type:       kind,
		Data:       data,
	})
}

func (c *wctx) encode(v goja.Value) ([]byte, error) {
	out, err := c.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if out == nil || goja.IsUndefined(out) {
		return []byte("null"), nil
	}
	return []byte(out.String()), nil
}

func (c *wctx) requireMounted(op string) {
	if !c.mounted {
		panic(c.vm.NewTypeError("widget." + op + " is unavailable before mount"))
	}
}

func (c *wctx) requireFunction(v goja.Value, op string) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(c.vm.NewTypeError("widget." + op + " expects a function"))
	}
	return fn
}

func (c *wctx) setHook(name string, slot *goja.Callable) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		*slot = c.requireFunction(call.Argument(0), name)
		return goja.Undefined()
	}
}

func (c *wctx) apiOnInput(call goja.FunctionCall) goja.Value {
	port := call.Argument(0).String()
	c.inputs[port] = c.requireFunction(call.Argument(1), "onInput")
	return goja.Undefined()
}

// apiDeferReady holds readiness back until the returned function is called
func (c *wctx) apiDeferReady(goja.FunctionCall) goja.Value {
	if !c.loading {
		panic(c.vm.NewTypeError("widget.deferReady is only available while loading"))
	}
	c.deferred = true
	called := false
	return c.vm.ToValue(func(goja.FunctionCall) goja.Value {
		if called {
			return goja.Undefined()
		}
		called = true
		if c.loading {
			c.readyCalled = true
		} else {
			c.signalReady(nil)
		}
		return goja.Undefined()
	})
}

func (c *wctx) apiEmitOutput(call goja.FunctionCall) goja.Value {
	c.requireMounted("emitOutput")
	body := c.vm.NewObject()
	_ = body.Set("port", call.Argument(0).String())
	_ = body.Set("value", call.Argument(1))
	c.post(bridge.TypeOutput, body)
	return goja.Undefined()
}

func (c *wctx) apiSetState(call goja.FunctionCall) goja.Value {
	c.requireMounted("setState")
	partial := call.Argument(0)
	if goja.IsUndefined(partial) || goja.IsNull(partial) {
		panic(c.vm.NewTypeError("widget.setState expects an object"))
	}
	if obj, ok := partial.(*goja.Object); !ok || obj.ClassName() == "Array" {
		panic(c.vm.NewTypeError("widget.setState expects an object"))
	}
	c.post(bridge.TypeState, partial)
	return goja.Undefined()
}

func (c *wctx) apiOn(call goja.FunctionCall) goja.Value {
	c.requireMounted("on")
	event := call.Argument(0).String()
	handler := c.requireFunction(call.Argument(1), "on")
	scope := optionalString(call.Argument(2))

	subID := id.NewSubscriptionID().String()
	c.subs[subID] = handler

	body := c.vm.NewObject()
	_ = body.Set("id", subID)
	_ = body.Set("event", event)
	_ = body.Set("scope", scope)
	c.post(bridge.TypeSubscribe, body)

	unsubscribed := false
	return c.vm.ToValue(func(goja.FunctionCall) goja.Value {
		if unsubscribed {
			return goja.Undefined()
		}
		unsubscribed = true
		delete(c.subs, subID)
		if c.mounted {
			body := c.vm.NewObject()
			_ = body.Set("id", subID)
			c.post(bridge.TypeUnsubscribe, body)
		}
		return goja.Undefined()
	})
}

func (c *wctx) apiEmit(call goja.FunctionCall) goja.Value {
	c.requireMounted("emit")
	body := c.vm.NewObject()
	_ = body.Set("event", call.Argument(0).String())
	_ = body.Set("payload", call.Argument(1))
	_ = body.Set("scope", optionalString(call.Argument(2)))
	c.post(bridge.TypeEmit, body)
	return goja.Undefined()
}

func (c *wctx) apiRequest(call goja.FunctionCall) goja.Value {
	c.requireMounted("request")

	reqID := id.NewRequestID().String()
	body := c.vm.NewObject()
	_ = body.Set("id", reqID)
	_ = body.Set("capability", call.Argument(0).String())
	if args := call.Argument(1); !goja.IsUndefined(args) {
		_ = body.Set("args", args)
	}

	promise, resolve, reject := c.vm.NewPromise()
	c.post(bridge.TypeRequest, body)
	c.pending[reqID] = func(ok bool, v goja.Value) {
		if ok {
			resolve(v)
		} else {
			reject(v)
		}
	}
	return c.vm.ToValue(promise)
}

func (c *wctx) logFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, c.describe(arg))
		}
		c.postLog(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (c *wctx) postLog(level, message string) {
	body := c.vm.NewObject()
	_ = body.Set("level", level)
	_ = body.Set("message", message)
	c.post(bridge.TypeLog, body)
}

func (c *wctx) describe(v goja.Value) string {
	if s, ok := v.Export().(string); ok {
		return s
	}
	if data, err := c.encode(v); err == nil {
		return string(data)
	}
	return v.String()
}

// field reads a property, mapping absent to undefined
func field(obj *goja.Object, key string) goja.Value {
	if v := obj.Get(key); v != nil {
		return v
	}
	return goja.Undefined()
}

func optionalString(v goja.Value) string {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// ---------------------------------------------------------------------------
// Host -> widget
// ---------------------------------------------------------------------------

func (c *wctx) handleInbound(msg inbound) {
	parsed, err := c.parse(goja.Undefined(), c.vm.ToValue(string(msg.data)))
	if err != nil {
		c.logger.Warn("Inbound message unparseable", zap.String("type", msg.kind), zap.Error(err))
		return
	}
	obj := parsed.ToObject(c.vm)

	switch msg.kind {
	case bridge.OutMount:
		state := field(obj, "state")
		if goja.IsUndefined(state) || goja.IsNull(state) {
			state = c.vm.NewObject()
		}
		inputs := field(obj, "inputs")
		if goja.IsUndefined(inputs) || goja.IsNull(inputs) {
			inputs = c.vm.NewObject()
		}
		mctx := c.vm.NewObject()
		_ = mctx.Set("instanceId", c.instanceID)
		_ = mctx.Set("state", state)
		_ = mctx.Set("inputs", inputs)
		c.mounted = true
		c.invoke("onMount", c.onMount, mctx)

	case bridge.OutInput:
		if !c.mounted {
			return
		}
		handler, ok := c.inputs[field(obj, "port").String()]
		if !ok {
			return
		}
		c.invoke("onInput", handler, field(obj, "value"))

	case bridge.OutStateChanged:
		if c.mounted {
			c.invoke("onStateChange", c.onState, field(obj, "state"))
		}

	case bridge.OutEvent:
		handler, ok := c.subs[field(obj, "subscription").String()]
		if !ok || !c.mounted {
			return
		}
		meta := c.vm.NewObject()
		_ = meta.Set("event", field(obj, "event"))
		_ = meta.Set("source", field(obj, "source"))
		c.invoke("event handler", handler, field(obj, "payload"), meta)

	case bridge.OutResponse:
		c.settle(field(obj, "result"))

	case bridge.OutActivate:
		if c.mounted {
			c.invoke("onActivate", c.onActivate)
		}

	case bridge.OutDeactivate:
		if c.mounted {
			c.invoke("onDeactivate", c.onDeactivate)
		}

	case bridge.OutDestroy:
		if c.mounted {
			c.invoke("onDestroy", c.onDestroy)
		}
		c.mounted = false
		c.inputs = map[string]goja.Callable{}
		c.subs = map[string]goja.Callable{}
		c.pending = map[string]func(bool, goja.Value){}
	}
}

func (c *wctx) settle(resultVal goja.Value) {
	if goja.IsUndefined(resultVal) || goja.IsNull(resultVal) {
		return
	}
	result := resultVal.ToObject(c.vm)
	reqID := field(result, "id").String()
	finish, ok := c.pending[reqID]
	if !ok {
		return
	}
	delete(c.pending, reqID)

	errVal := field(result, "error")
	if goja.IsUndefined(errVal) || goja.IsNull(errVal) {
		value := field(result, "value")
		c.guarded("request resolve", func() error {
			finish(true, value)
			return nil
		})
		return
	}

	errObj := errVal.ToObject(c.vm)
	jsErr, err := c.vm.New(c.errorCtor, field(errObj, "message"))
	if err != nil {
		return
	}
	_ = jsErr.Set("name", field(errObj, "name"))
	c.guarded("request reject", func() error {
		finish(false, jsErr)
		return nil
	})
}

// invoke calls a widget callback under the call deadline
func (c *wctx) invoke(what string, fn goja.Callable, args ...goja.Value) {
	if fn == nil {
		return
	}
	c.guarded(what, func() error {
		_, err := fn(goja.Undefined(), args...)
		return err
	})
}

func (c *wctx) guarded(what string, fn func() error) {
	seq := c.begin()
	timer := time.AfterFunc(c.config.CallTimeout, func() { c.expire(seq) })

	err := c.capture(fn)

	timer.Stop()
	c.end()

	if err != nil {
		c.report(what, err)
	}
}

// begin marks a callback as running and returns its sequence number
func (c *wctx) begin() uint64 {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	c.callSeq++
	c.inCall = true
	return c.callSeq
}

func (c *wctx) end() {
	c.callMu.Lock()
	c.inCall = false
	c.callMu.Unlock()
	c.vm.ClearInterrupt()
}

// expire interrupts callback seq if it is still the one running. A timer
// that fires after its callback returned never reaches a later one.
func (c *wctx) expire(seq uint64) bool {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	if !c.inCall || c.callSeq != seq {
		return false
	}
	c.vm.Interrupt(ErrCallTimeout)
	return true
}

// capture turns a Go panic escaping widget code into an error
func (c *wctx) capture(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (c *wctx) report(what string, err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		c.metrics.RecordCallTimeout()
	}
	c.logger.Debug("Widget callback failed",
		zap.String("instance_id", c.instanceID),
		zap.String("callback", what),
		zap.Error(err),
	)
	if c.mounted {
		c.safely(func() { c.postLog("error", what+": "+err.Error()) })
	}
}
