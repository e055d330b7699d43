package canvas

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/providers/state"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bus"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/pipeline"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/sandbox"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

const (
	producerJS = `
widget.onMount(function () {
  widget.on("go", function (v) { widget.emitOutput("out", v); });
});`

	consumerJS = `
widget.onInput("in", function (v) { widget.log("in:" + v); });
widget.onStateChange(function () { widget.log("state-changed"); });`

	counterJS = `
widget.onStateChange(function (s) { widget.log("count:" + s.count); });
widget.onMount(function (ctx) {
  widget.setState({ count: (ctx.state.count || 0) + 1 });
});`

	listenerJS = `
widget.onMount(function () {
  widget.on("ping", function (p, meta) { widget.log("ping:" + p + ":" + (meta.source || "")); }, "global");
});`

	wildcardJS = `
widget.onMount(function () {
  widget.on("*", function (p, meta) { widget.log("saw:" + meta.event); });
});`

	requesterJS = `
widget.onMount(function () {
  widget.request("notifications.show", { title: "hi" }).then(
    function () { widget.log("shown"); },
    function (e) { widget.log("denied:" + e.name); });
});`

	scopedJS = `
widget.onMount(function () {
  widget.on("self", function (p) { widget.log("self:" + p); }, "instance");
  widget.on("poke", function () { widget.emit("self", widget.instanceId, "instance"); });
});`
)

type harness struct {
	manager *Manager
	catalog *catalog.Catalog
	store   *state.MemoryStore
	notices chan bus.Event
}

func register(t *testing.T, cat *catalog.Catalog, id, payload string, edit func(m *types.Manifest)) {
	t.Helper()
	w := &types.Widget{
		Manifest: types.Manifest{ID: id, Version: "1.0.0"},
		Payload:  payload,
	}
	if edit != nil {
		edit(&w.Manifest)
	}
	require.NoError(t, cat.Register(w))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat := catalog.New(nil)
	register(t, cat, "producer", producerJS, func(m *types.Manifest) {
		m.OutputPorts = []types.PortSpec{{Name: "out"}}
	})
	register(t, cat, "consumer", consumerJS, func(m *types.Manifest) {
		m.InputPorts = []types.PortSpec{{Name: "in"}}
	})
	register(t, cat, "counter", counterJS, nil)
	register(t, cat, "listener", listenerJS, nil)
	register(t, cat, "wildcard", wildcardJS, nil)
	register(t, cat, "requester", requesterJS, nil)
	register(t, cat, "notifier", requesterJS, func(m *types.Manifest) {
		m.Permissions = []string{"notifications"}
	})
	register(t, cat, "scoped", scopedJS, nil)
	register(t, cat, "broken", `throw new Error("boom")`, func(m *types.Manifest) {
		m.InputPorts = []types.PortSpec{{Name: "in"}}
	})

	store := state.NewMemoryStore()
	persister := state.NewPersister(store, state.PersisterConfig{Debounce: 10 * time.Millisecond}, nil)

	cfg := DefaultConfig()
	cfg.Bridge.Rate = 0
	cfg.Sandbox.LoadTimeout = 2 * time.Second
	m := NewManager(cfg, cat, persister, nil, nil)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	return &harness{manager: m, catalog: cat, store: store, notices: make(chan bus.Event, 256)}
}

// canvas opens a canvas whose notices are captured
func (h *harness) canvas(t *testing.T) *Canvas {
	t.Helper()
	c, err := h.manager.Create("test")
	require.NoError(t, err)
	c.Observe(bus.Wildcard, func(ev bus.Event) {
		if strings.HasPrefix(ev.Name, NoticePrefix) {
			h.notices <- ev
		}
	})
	return c
}

func (h *harness) add(t *testing.T, c *Canvas, manifestID, instanceID string) *types.Instance {
	t.Helper()
	inst, err := c.AddWidget(context.Background(), manifestID, instanceID)
	require.NoError(t, err)
	return inst
}

// waitLog waits for a host:log notice from instanceID with the given text
func (h *harness) waitLog(t *testing.T, instanceID, text string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-h.notices:
			if n, ok := ev.Payload.(LogNotice); ok && n.InstanceID == instanceID && n.Message == text {
				return
			}
		case <-deadline:
			t.Fatalf("no log %q from %s", text, instanceID)
		}
	}
}

// quietLog fails if instanceID logs any of texts within d
func (h *harness) quietLog(t *testing.T, instanceID string, d time.Duration, texts ...string) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-h.notices:
			n, ok := ev.Payload.(LogNotice)
			if !ok || n.InstanceID != instanceID {
				continue
			}
			for _, text := range texts {
				if n.Message == text {
					t.Fatalf("unexpected log %q from %s", text, instanceID)
				}
			}
		case <-deadline:
			return
		}
	}
}

// waitNotice waits for the first notice named event
func (h *harness) waitNotice(t *testing.T, event string) bus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-h.notices:
			if ev.Name == event {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s notice", event)
			return bus.Event{}
		}
	}
}

func TestAddWidgetMountsInstance(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	inst := h.add(t, c, "consumer", "")
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, c.ID(), inst.CanvasID)
	assert.Equal(t, "consumer", inst.ManifestID)
	assert.Equal(t, types.StatusMounted, inst.Status)

	ev := h.waitNotice(t, NoticeInstance)
	assert.Equal(t, InstanceNotice{InstanceID: inst.ID, Status: types.StatusMounted}, ev.Payload)

	require.Len(t, c.Instances(), 1)
	assert.Equal(t, 1, c.Info().Instances)
}

func TestAddWidgetUnwindsOnLoadFailure(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	_, err := c.AddWidget(context.Background(), "broken", "wgt_broken")
	require.Error(t, err)
	var le *sandbox.LoadError
	assert.ErrorAs(t, err, &le)
	assert.Empty(t, c.Instances())
	assert.False(t, c.Has("wgt_broken"))

	producer := h.add(t, c, "producer", "")
	err = c.AddEdge(types.Edge{SourceInstanceID: producer.ID, SourcePort: "out", TargetInstanceID: "wgt_broken", TargetPort: "in"})
	var miss *pipeline.RoutingMiss
	assert.ErrorAs(t, err, &miss)

	_, err = c.AddWidget(context.Background(), "missing", "")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestAddWidgetRejectsDuplicateInstance(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	h.add(t, c, "consumer", "wgt_one")
	_, err := c.AddWidget(context.Background(), "consumer", "wgt_one")
	assert.ErrorIs(t, err, ErrInstanceExists)
}

func TestOutputFlowsAlongEdges(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	producer := h.add(t, c, "producer", "")
	consumer := h.add(t, c, "consumer", "")
	require.NoError(t, c.AddEdge(types.Edge{
		SourceInstanceID: producer.ID, SourcePort: "out",
		TargetInstanceID: consumer.ID, TargetPort: "in",
	}))

	_, err := c.Publish("go", 42, types.CanvasScope())
	require.NoError(t, err)
	h.waitLog(t, consumer.ID, "in:42")

	// Delivered once, and routing never touches the target's state
	h.quietLog(t, consumer.ID, 200*time.Millisecond, "in:42", "state-changed")
	inst, err := c.Instance(consumer.ID)
	require.NoError(t, err)
	assert.Empty(t, inst.State)
}

func TestSetEdgesReportsRoutingMisses(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	producer := h.add(t, c, "producer", "")
	consumer := h.add(t, c, "consumer", "")
	good := types.Edge{SourceInstanceID: producer.ID, SourcePort: "out", TargetInstanceID: consumer.ID, TargetPort: "in"}
	bad := types.Edge{SourceInstanceID: producer.ID, SourcePort: "nope", TargetInstanceID: consumer.ID, TargetPort: "in"}

	rejections := c.SetEdges([]types.Edge{good, bad, good})
	require.Len(t, rejections, 2)
	assert.Equal(t, []types.Edge{good}, c.Edges())

	ev := h.waitNotice(t, NoticeRoutingMiss)
	assert.Equal(t, bad, ev.Payload.(RoutingNotice).Edge)
}

func TestRemoveWidgetDropsEdges(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	producer := h.add(t, c, "producer", "")
	consumer := h.add(t, c, "consumer", "")
	require.NoError(t, c.AddEdge(types.Edge{SourceInstanceID: producer.ID, SourcePort: "out", TargetInstanceID: consumer.ID, TargetPort: "in"}))

	assert.True(t, c.RemoveWidget(context.Background(), consumer.ID, false))
	assert.False(t, c.RemoveWidget(context.Background(), consumer.ID, false))
	assert.Empty(t, c.Edges())
	assert.Len(t, c.Instances(), 1)
}

func TestStatePersistsAcrossRemount(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	h.add(t, c, "counter", "wgt_counter")
	h.waitLog(t, "wgt_counter", "count:1")

	inst, err := c.Instance("wgt_counter")
	require.NoError(t, err)
	assert.Equal(t, 1.0, inst.State["count"])

	require.True(t, c.RemoveWidget(context.Background(), "wgt_counter", false))
	_, ok, err := h.store.GetState(context.Background(), "wgt_counter")
	require.NoError(t, err)
	require.True(t, ok)

	h.add(t, c, "counter", "wgt_counter")
	h.waitLog(t, "wgt_counter", "count:2")

	require.True(t, c.RemoveWidget(context.Background(), "wgt_counter", true))
	_, ok, _ = h.store.GetState(context.Background(), "wgt_counter")
	assert.False(t, ok)
}

func TestStateAfterRemovalIsNotPersisted(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)
	ctx := context.Background()

	h.add(t, c, "counter", "wgt_kept")
	h.waitLog(t, "wgt_kept", "count:1")
	h.add(t, c, "counter", "wgt_purged")
	h.waitLog(t, "wgt_purged", "count:1")

	require.True(t, c.RemoveWidget(ctx, "wgt_kept", false))
	require.True(t, c.RemoveWidget(ctx, "wgt_purged", true))

	// A state message already on the bridge when the widget went away
	c.State("wgt_kept", map[string]interface{}{"count": 99.0})
	c.State("wgt_purged", map[string]interface{}{"count": 99.0})
	time.Sleep(50 * time.Millisecond)

	blob, ok, err := h.store.GetState(ctx, "wgt_kept")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"count":1}`, string(blob))

	_, ok, err = h.store.GetState(ctx, "wgt_purged")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateChangeReachesOnlyTheWriter(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	h.add(t, c, "counter", "wgt_a")
	h.waitLog(t, "wgt_a", "count:1")
	h.add(t, c, "counter", "wgt_b")
	h.waitLog(t, "wgt_b", "count:1")

	a, _ := c.Instance("wgt_a")
	assert.Equal(t, 1.0, a.State["count"])
}

func TestCapabilityGate(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	denied := h.add(t, c, "requester", "")
	h.waitLog(t, denied.ID, "denied:PermissionDenied")

	allowed := h.add(t, c, "notifier", "")
	ev := h.waitNotice(t, NoticeNotification)
	n := ev.Payload.(Notification)
	assert.Equal(t, allowed.ID, n.InstanceID)
	assert.Equal(t, "hi", n.Title)
	h.waitLog(t, allowed.ID, "shown")
}

func TestWidgetsNeverSeeHostNotices(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	w := h.add(t, c, "wildcard", "")
	_, err := c.Publish("hello", nil, types.CanvasScope())
	require.NoError(t, err)
	h.waitLog(t, w.ID, "saw:hello")

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-h.notices:
			if n, ok := ev.Payload.(LogNotice); ok {
				assert.False(t, strings.HasPrefix(n.Message, "saw:host:"), n.Message)
			}
		case <-deadline:
			return
		}
	}
}

func TestInstanceScopeStaysWithEmitter(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	a := h.add(t, c, "scoped", "wgt_a")
	b := h.add(t, c, "scoped", "wgt_b")

	_, err := c.Publish("poke", nil, types.CanvasScope())
	require.NoError(t, err)

	seen := map[string]string{}
	deadline := time.After(3 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-h.notices:
			if n, ok := ev.Payload.(LogNotice); ok && strings.HasPrefix(n.Message, "self:") {
				seen[n.InstanceID] = n.Message
			}
		case <-deadline:
			t.Fatalf("only saw %v", seen)
		}
	}
	assert.Equal(t, "self:"+a.ID, seen[a.ID])
	assert.Equal(t, "self:"+b.ID, seen[b.ID])
}

func TestGlobalEventsCrossCanvases(t *testing.T) {
	h := newHarness(t)
	c1 := h.canvas(t)
	c2 := h.canvas(t)

	listener := h.add(t, c2, "listener", "")

	_, err := c1.Publish("ping", "x", types.GlobalScope())
	require.NoError(t, err)
	h.waitLog(t, listener.ID, "ping:x:")

	assert.Equal(t, 1, c1.Info().Router.Sent)
	assert.Equal(t, 1, c2.Info().Router.Delivered)
	assert.Equal(t, 1, c1.Info().Router.Dropped["visited"])
}

func TestHostEventsRejectNoticeNamesAndWildcard(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)

	_, err := c.Publish(bus.Wildcard, nil, types.CanvasScope())
	assert.Error(t, err)
	_, err = c.Publish("bad name", nil, types.CanvasScope())
	assert.Error(t, err)
}

func TestActivateDeactivate(t *testing.T) {
	h := newHarness(t)
	c := h.canvas(t)
	inst := h.add(t, c, "consumer", "")

	require.NoError(t, c.Deactivate(inst.ID))
	got, _ := c.Instance(inst.ID)
	assert.Equal(t, types.StatusInactive, got.Status)

	require.NoError(t, c.Activate(inst.ID))
	got, _ = c.Instance(inst.ID)
	assert.Equal(t, types.StatusActive, got.Status)

	assert.ErrorIs(t, c.Activate("wgt_missing"), sandbox.ErrNotFound)
}

func TestOperationsAreRegisteredPerCanvas(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var calls []string
	h.manager.operations = []capability.Operation{{
		Name: "echo.say",
		Invoke: func(ctx context.Context, call capability.Call) (interface{}, error) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, call.InstanceID)
			return nil, errors.New("unused")
		},
	}}

	c1, err := h.manager.Create("one")
	require.NoError(t, err)
	c2, err := h.manager.Create("two")
	require.NoError(t, err)

	assert.Contains(t, c1.gate.Operations(), "echo.say")
	assert.Contains(t, c2.gate.Operations(), "notifications.show")
}

func TestManagerLifecycle(t *testing.T) {
	h := newHarness(t)

	c, err := h.manager.Create("board")
	require.NoError(t, err)
	h.add(t, c, "consumer", "")

	got, err := h.manager.Get(c.ID())
	require.NoError(t, err)
	assert.Same(t, c, got)

	list := h.manager.List()
	require.Len(t, list, 1)
	assert.Equal(t, "board", list[0].Name)
	assert.Equal(t, 1, list[0].Instances)

	require.NoError(t, h.manager.Delete(context.Background(), c.ID()))
	assert.ErrorIs(t, h.manager.Delete(context.Background(), c.ID()), ErrNotFound)
	_, err = h.manager.Get(c.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.AddWidget(context.Background(), "consumer", "")
	assert.ErrorIs(t, err, ErrClosed)
}
