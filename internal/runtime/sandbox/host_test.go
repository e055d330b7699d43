package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bridge"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

type call struct {
	kind     string
	instance string
	payload  interface{}
}

// recordingSink records accepted messages and answers requests and state
// updates the way a canvas would
type recordingSink struct {
	calls  chan call
	bridge *bridge.Bridge

	mu    sync.Mutex
	state map[string]interface{}
}

func (s *recordingSink) Output(id string, m bridge.OutputPayload) {
	s.calls <- call{"output", id, m}
}

func (s *recordingSink) State(id string, partial map[string]interface{}) {
	s.mu.Lock()
	for k, v := range partial {
		s.state[k] = v
	}
	snapshot := make(map[string]interface{}, len(s.state))
	for k, v := range s.state {
		snapshot[k] = v
	}
	s.mu.Unlock()
	_ = s.bridge.Send(id, bridge.Outbound{Type: bridge.OutStateChanged, State: snapshot})
	s.calls <- call{"state", id, partial}
}

func (s *recordingSink) Log(id string, m bridge.LogPayload) {
	s.calls <- call{"log", id, m}
}

func (s *recordingSink) Request(id string, req capability.Request) {
	res := &capability.Result{ID: req.ID, Value: "pong"}
	if req.Capability != "network.fetch" {
		res = &capability.Result{ID: req.ID, Error: &capability.ResultError{Name: capability.ErrorPermissionDenied}}
	}
	_ = s.bridge.Send(id, bridge.Outbound{Type: bridge.OutResponse, Result: res})
	s.calls <- call{"request", id, req}
}

func (s *recordingSink) Subscribe(id string, m bridge.SubscribePayload) {
	s.calls <- call{"subscribe", id, m}
}

func (s *recordingSink) Unsubscribe(id string, m bridge.UnsubscribePayload) {
	s.calls <- call{"unsubscribe", id, m}
}

func (s *recordingSink) Emit(id string, m bridge.EmitPayload) {
	s.calls <- call{"emit", id, m}
}

type countingRevoker struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *countingRevoker) RevokeOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[owner]++
	return 0
}

type fixture struct {
	host    *Host
	bridge  *bridge.Bridge
	sink    *recordingSink
	revoker *countingRevoker
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	sink := &recordingSink{calls: make(chan call, 64), state: map[string]interface{}{}}
	bcfg := bridge.DefaultConfig()
	bcfg.Rate = 0
	br := bridge.New(bcfg, sink, nil)
	sink.bridge = br

	ctx, cancel := context.WithCancel(context.Background())
	go br.Run(ctx)

	revoker := &countingRevoker{calls: map[string]int{}}
	host := NewHost(cfg, br, revoker, nil)
	t.Cleanup(func() {
		host.Close()
		cancel()
	})
	return &fixture{host: host, bridge: br, sink: sink, revoker: revoker}
}

func (f *fixture) load(t *testing.T, instanceID, payload string) {
	t.Helper()
	require.NoError(t, f.host.Create(context.Background(), &types.Instance{ID: instanceID}, payload))
}

// next returns the next recorded call of kind, skipping others
func (f *fixture) next(t *testing.T, kind string) call {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-f.sink.calls:
			if c.kind == kind {
				return c
			}
		case <-deadline:
			t.Fatalf("no %s message arrived", kind)
			return call{}
		}
	}
}

func (f *fixture) quiet(t *testing.T, kind string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case c := <-f.sink.calls:
			if c.kind == kind {
				t.Fatalf("unexpected %s message: %+v", kind, c.payload)
			}
		case <-deadline:
			return
		}
	}
}

func TestMountDeliversSavedStateAndInputs(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		widget.onMount(function (ctx) {
			widget.emitOutput("value", ctx.state.n + ctx.inputs.offset);
		});
	`)

	require.NoError(t, f.host.Mount("wgt_a", map[string]interface{}{"n": 40}, map[string]interface{}{"offset": 2}))

	c := f.next(t, "output")
	assert.Equal(t, "wgt_a", c.instance)
	assert.Equal(t, bridge.OutputPayload{Port: "value", Value: float64(42)}, c.payload)

	status, ok := f.host.Status("wgt_a")
	require.True(t, ok)
	assert.Equal(t, types.StatusMounted, status)
}

func TestFirstMountGetsEmptyState(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		widget.onMount(function (ctx) {
			widget.emitOutput("keys", Object.keys(ctx.state).length);
		});
	`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	c := f.next(t, "output")
	assert.Equal(t, float64(0), c.payload.(bridge.OutputPayload).Value)
}

func TestAPIUnavailableBeforeMount(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		var threw = false;
		try { widget.emitOutput("value", 1); } catch (e) { threw = e instanceof TypeError; }
		widget.log("threw=" + threw);
	`)

	c := f.next(t, "log")
	assert.Equal(t, "threw=true", c.payload.(bridge.LogPayload).Message)
	f.quiet(t, "output", 50*time.Millisecond)
}

func TestDangerousGlobalsRemoved(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		console.log([typeof require, typeof process, typeof module, typeof setTimeout(function () {}, 0)].join(","));
	`)

	c := f.next(t, "log")
	assert.Equal(t, "undefined,undefined,undefined,undefined", c.payload.(bridge.LogPayload).Message)
}

func TestWidgetAPIIsFrozen(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		try { widget = null; } catch (e) {}
		try { widget.emitOutput = function () {}; } catch (e) {}
		widget.onMount(function () { widget.emitOutput("value", "intact"); });
	`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	c := f.next(t, "output")
	assert.Equal(t, "intact", c.payload.(bridge.OutputPayload).Value)
}

func TestLoadErrorOnException(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	err := f.host.Create(context.Background(), &types.Instance{ID: "wgt_a"}, `throw new Error("boom")`)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "exception", le.Reason)
	assert.Equal(t, 0, f.host.Count())
	assert.False(t, f.bridge.Registered("wgt_a"))
}

func TestLoadErrorOnTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoadTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg)

	err := f.host.Create(context.Background(), &types.Instance{ID: "wgt_a"}, `while (true) {}`)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "timeout", le.Reason)
	assert.ErrorIs(t, err, ErrLoadTimeout)
	assert.Equal(t, 0, f.host.Count())
}

func TestLoadErrorWhenDeferredReadinessNeverSignalled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoadTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg)

	err := f.host.Create(context.Background(), &types.Instance{ID: "wgt_a"}, `widget.deferReady();`)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "not-ready", le.Reason)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 0, f.host.Count())
	assert.False(t, f.bridge.Registered("wgt_a"))
}

func TestDeferredReadinessSignalledAsynchronously(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		var done = widget.deferReady();
		var ready = false;
		Promise.resolve().then(function () { ready = true; done(); done(); });
		widget.onMount(function () { widget.log("ready=" + ready); });
	`)

	status, ok := f.host.Status("wgt_a")
	require.True(t, ok)
	assert.Equal(t, types.StatusLoading, status)

	require.NoError(t, f.host.Mount("wgt_a", nil, nil))
	c := f.next(t, "log")
	assert.Equal(t, "ready=true", c.payload.(bridge.LogPayload).Message)
}

func TestDeferReadyOnlyWhileLoading(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		widget.onMount(function () {
			try { widget.deferReady(); widget.log("deferred"); } catch (e) { widget.log(e.message); }
		});
	`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	c := f.next(t, "log")
	assert.Contains(t, c.payload.(bridge.LogPayload).Message, "only available while loading")
}

func TestCreateDuplicate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", ``)
	err := f.host.Create(context.Background(), &types.Instance{ID: "wgt_a"}, ``)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDispatchInput(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_b", `
		widget.onInput("value", function (v) { widget.emitOutput("doubled", v * 2); });
	`)

	assert.False(t, f.host.DispatchInput("wgt_b", "value", 1), "not mounted yet")
	require.NoError(t, f.host.Mount("wgt_b", nil, nil))

	assert.True(t, f.host.DispatchInput("wgt_b", "unknown", 1))
	assert.True(t, f.host.DispatchInput("wgt_b", "value", 21))

	c := f.next(t, "output")
	assert.Equal(t, bridge.OutputPayload{Port: "doubled", Value: float64(42)}, c.payload)
	f.quiet(t, "output", 50*time.Millisecond)
}

func TestCallbackTimeoutDoesNotKillContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg)
	f.load(t, "wgt_a", `
		widget.onInput("spin", function () { while (true) {} });
		widget.onInput("value", function (v) { widget.emitOutput("value", v); });
	`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	f.host.DispatchInput("wgt_a", "spin", nil)
	f.host.DispatchInput("wgt_a", "value", "alive")

	log := f.next(t, "log")
	assert.Equal(t, "error", log.payload.(bridge.LogPayload).Level)

	c := f.next(t, "output")
	assert.Equal(t, "alive", c.payload.(bridge.OutputPayload).Value)
}

func TestSetStateRoundTrip(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		widget.onStateChange(function (s) { widget.emitOutput("count", s.count); });
		widget.onMount(function () { widget.setState({ count: 3 }); });
	`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	st := f.next(t, "state")
	assert.Equal(t, map[string]interface{}{"count": float64(3)}, st.payload)

	c := f.next(t, "output")
	assert.Equal(t, float64(3), c.payload.(bridge.OutputPayload).Value)
}

func TestSetStateRejectsNonObjects(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		widget.onMount(function () {
			var n = 0;
			[null, 1, "x", [1]].forEach(function (v) {
				try { widget.setState(v); } catch (e) { n++; }
			});
			widget.log("rejected=" + n);
		});
	`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	c := f.next(t, "log")
	assert.Equal(t, "rejected=4", c.payload.(bridge.LogPayload).Message)
}

func TestRequestResolvesAndRejects(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		widget.onMount(function () {
			widget.request("network.fetch", { url: "x" }).then(function (v) {
				widget.emitOutput("ok", v);
			});
			widget.request("compute.stats").catch(function (e) {
				widget.emitOutput("err", e.name);
			});
		});
	`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	got := map[string]interface{}{}
	for i := 0; i < 2; i++ {
		p := f.next(t, "output").payload.(bridge.OutputPayload)
		got[p.Port] = p.Value
	}
	assert.Equal(t, "pong", got["ok"])
	assert.Equal(t, capability.ErrorPermissionDenied, got["err"])
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		widget.onMount(function () {
			var off = widget.on("tick", function (payload, meta) {
				widget.emitOutput("tick", meta.event + ":" + payload);
				off();
			}, "global");
		});
	`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	sub := f.next(t, "subscribe").payload.(bridge.SubscribePayload)
	assert.Equal(t, "tick", sub.Event)
	assert.Equal(t, "global", sub.Scope)

	require.NoError(t, f.bridge.Send("wgt_a", bridge.Outbound{
		Type: bridge.OutEvent, Subscription: sub.ID, Event: "tick", Payload: 7,
	}))

	c := f.next(t, "output")
	assert.Equal(t, "tick:7", c.payload.(bridge.OutputPayload).Value)

	unsub := f.next(t, "unsubscribe").payload.(bridge.UnsubscribePayload)
	assert.Equal(t, sub.ID, unsub.ID)
}

func TestActivateDeactivateTransitions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `
		widget.onActivate(function () { widget.log("active"); });
		widget.onDeactivate(function () { widget.log("inactive"); });
	`)

	assert.ErrorIs(t, f.host.Activate("wgt_a"), ErrInvalidState)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	require.NoError(t, f.host.Activate("wgt_a"))
	assert.Equal(t, "active", f.next(t, "log").payload.(bridge.LogPayload).Message)
	require.NoError(t, f.host.Deactivate("wgt_a"))
	assert.Equal(t, "inactive", f.next(t, "log").payload.(bridge.LogPayload).Message)
	require.NoError(t, f.host.Activate("wgt_a"))

	status, _ := f.host.Status("wgt_a")
	assert.Equal(t, types.StatusActive, status)
	assert.ErrorIs(t, f.host.Activate("wgt_missing"), ErrNotFound)
}

func TestUnmountIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `widget.onDestroy(function () { widget.log("bye"); });`)
	require.NoError(t, f.host.Mount("wgt_a", nil, nil))

	f.host.mu.Lock()
	c := f.host.contexts["wgt_a"].ctx
	f.host.mu.Unlock()

	assert.True(t, f.host.Unmount("wgt_a"))
	assert.NotPanics(t, func() {
		assert.False(t, f.host.Unmount("wgt_a"))
	})

	f.revoker.mu.Lock()
	assert.Equal(t, 1, f.revoker.calls["wgt_a"])
	f.revoker.mu.Unlock()

	assert.False(t, f.bridge.Registered("wgt_a"))
	assert.False(t, f.host.DispatchInput("wgt_a", "value", 1))
	assert.True(t, f.host.wait(c, 2*time.Second), "context goroutine did not exit")
}

func TestContextsAreIsolated(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.load(t, "wgt_a", `var secret = 1; globalThis.shared = "a";`)
	f.load(t, "wgt_b", `
		widget.onMount(function () {
			widget.emitOutput("globals", [typeof secret, typeof shared].join(","));
		});
	`)
	require.NoError(t, f.host.Mount("wgt_b", nil, nil))

	c := f.next(t, "output")
	assert.Equal(t, "wgt_b", c.instance)
	assert.Equal(t, "undefined,undefined", c.payload.(bridge.OutputPayload).Value)
}
