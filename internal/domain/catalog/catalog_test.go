package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

func widget(id string) *types.Widget {
	return &types.Widget{
		Manifest: types.Manifest{
			ID:          id,
			Version:     "1.0.0",
			InputPorts:  []types.PortSpec{{Name: "in", Default: 1.0}},
			OutputPorts: []types.PortSpec{{Name: "out"}},
			Permissions: []string{"network"},
		},
		Payload: "widget.onMount(function () {})",
	}
}

func TestCatalogRegisterGetListRemove(t *testing.T) {
	c := New(nil)

	require.NoError(t, c.Register(widget("clock")))
	require.NoError(t, c.Register(widget("counter")))
	assert.ErrorIs(t, c.Register(widget("clock")), ErrAlreadyExists)

	w, err := c.Get("clock")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", w.Manifest.Version)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "clock", list[0].ID)
	assert.Equal(t, "counter", list[1].ID)

	assert.True(t, c.Remove("clock"))
	assert.False(t, c.Remove("clock"))
	_, err = c.Get("clock")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, c.Len())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(w *types.Widget)
		problem string
	}{
		{"bad id", func(w *types.Widget) { w.Manifest.ID = "has space" }, "id"},
		{"missing version", func(w *types.Widget) { w.Manifest.Version = "" }, "version"},
		{"duplicate input", func(w *types.Widget) {
			w.Manifest.InputPorts = append(w.Manifest.InputPorts, types.PortSpec{Name: "in"})
		}, "duplicate input port"},
		{"bad port name", func(w *types.Widget) { w.Manifest.OutputPorts[0].Name = "1out" }, "port name"},
		{"dotted permission", func(w *types.Widget) { w.Manifest.Permissions = []string{"network.fetch"} }, "permission"},
		{"min exceeds max", func(w *types.Widget) {
			w.Manifest.SizeConstraints = types.SizeConstraints{MinWidth: 4, MaxWidth: 2}
		}, "min_width"},
		{"empty payload", func(w *types.Widget) { w.Payload = "  " }, "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := widget("clock")
			tt.mutate(w)
			err := Validate(w)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestValidateAllowsSamePortNameAcrossDirections(t *testing.T) {
	w := widget("passthrough")
	w.Manifest.OutputPorts = []types.PortSpec{{Name: "in"}}
	assert.NoError(t, Validate(w))
}
