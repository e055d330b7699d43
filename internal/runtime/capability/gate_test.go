package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g := NewGate(nil)
	for _, name := range []string{"network.fetch", "compute.stats", "notifications.show"} {
		name := name
		require.NoError(t, g.Register(Operation{
			Name: name,
			Invoke: func(ctx context.Context, call Call) (interface{}, error) {
				return name, nil
			},
		}))
	}
	return g
}

func await(t *testing.T, g *Gate, instanceID string, req Request) Result {
	t.Helper()
	ch := make(chan Result, 1)
	g.Handle(context.Background(), instanceID, req, func(r Result) { ch <- r })
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return Result{}
	}
}

func TestTag(t *testing.T) {
	assert.Equal(t, "network", Tag("network.fetch"))
	assert.Equal(t, "network", Tag("network"))
	assert.Equal(t, "a", Tag("a.b.c"))
}

func TestEmptyPermissionSetDeniesEverything(t *testing.T) {
	g := newTestGate(t)
	g.Grant("wgt_a", &types.Manifest{Permissions: []string{}})

	for _, op := range g.Operations() {
		assert.ErrorIs(t, g.Check("wgt_a", op), ErrPermissionDenied, op)
	}
}

func TestNetworkPermissionAllowsOnlyNetworkTag(t *testing.T) {
	g := newTestGate(t)
	g.Grant("wgt_a", &types.Manifest{Permissions: []string{"network"}})

	assert.NoError(t, g.Check("wgt_a", "network.fetch"))
	assert.ErrorIs(t, g.Check("wgt_a", "compute.stats"), ErrPermissionDenied)
	assert.ErrorIs(t, g.Check("wgt_a", "notifications.show"), ErrPermissionDenied)
}

func TestUnknownOperationIndistinguishableFromDenied(t *testing.T) {
	g := newTestGate(t)
	g.Grant("wgt_a", &types.Manifest{Permissions: []string{"network"}})

	unknown := await(t, g, "wgt_a", Request{ID: "1", Capability: "network.teleport"})
	denied := await(t, g, "wgt_a", Request{ID: "1", Capability: "compute.stats"})

	require.NotNil(t, unknown.Error)
	require.NotNil(t, denied.Error)
	assert.Equal(t, denied.Error.Name, unknown.Error.Name)
	assert.Equal(t, ErrorPermissionDenied, unknown.Error.Name)
}

func TestUngrantedInstanceDenied(t *testing.T) {
	g := newTestGate(t)
	assert.ErrorIs(t, g.Check("wgt_missing", "network.fetch"), ErrPermissionDenied)
}

func TestHandleRunsGrantedOperation(t *testing.T) {
	g := newTestGate(t)
	g.Grant("wgt_a", &types.Manifest{Permissions: []string{"compute"}})

	res := await(t, g, "wgt_a", Request{ID: "req_1", Capability: "compute.stats"})
	assert.Nil(t, res.Error)
	assert.Equal(t, "req_1", res.ID)
	assert.Equal(t, "compute.stats", res.Value)
}

func TestRevokeRemovesGrant(t *testing.T) {
	g := newTestGate(t)
	g.Grant("wgt_a", &types.Manifest{Permissions: []string{"network"}})
	g.Revoke("wgt_a")

	assert.ErrorIs(t, g.Check("wgt_a", "network.fetch"), ErrPermissionDenied)
	assert.Empty(t, g.Permissions("wgt_a"))
}

func TestOperationErrorsAndPanics(t *testing.T) {
	g := NewGate(nil).WithTimeout(20 * time.Millisecond)
	require.NoError(t, g.Register(Operation{
		Name:   "compute.fail",
		Invoke: func(context.Context, Call) (interface{}, error) { return nil, errors.New("boom") },
	}))
	require.NoError(t, g.Register(Operation{
		Name:   "compute.panic",
		Invoke: func(context.Context, Call) (interface{}, error) { panic("bad") },
	}))
	require.NoError(t, g.Register(Operation{
		Name: "compute.slow",
		Invoke: func(ctx context.Context, _ Call) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	g.Grant("wgt_a", &types.Manifest{Permissions: []string{"compute"}})

	res := await(t, g, "wgt_a", Request{ID: "1", Capability: "compute.fail"})
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrorOperation, res.Error.Name)
	assert.Equal(t, "boom", res.Error.Message)

	res = await(t, g, "wgt_a", Request{ID: "2", Capability: "compute.panic"})
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrorOperation, res.Error.Name)

	res = await(t, g, "wgt_a", Request{ID: "3", Capability: "compute.slow"})
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrorTimeout, res.Error.Name)
}

func TestRegisterValidation(t *testing.T) {
	g := NewGate(nil)
	assert.Error(t, g.Register(Operation{Name: "Bad Name", Invoke: func(context.Context, Call) (interface{}, error) { return nil, nil }}))
	assert.Error(t, g.Register(Operation{Name: "network.fetch"}))

	op := Operation{Name: "network.fetch", Invoke: func(context.Context, Call) (interface{}, error) { return nil, nil }}
	require.NoError(t, g.Register(op))
	assert.Error(t, g.Register(op))
}
