package types

import "time"

// Direction of a port relative to its widget
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// PortSpec declares a named port on a manifest. Type is an advisory tag and
// is never enforced against payloads.
type PortSpec struct {
	Name    string      `json:"name" yaml:"name" toml:"name"`
	Type    string      `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
	Default interface{} `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
}

// SizeConstraints bounds a widget's placement on the canvas, in grid units.
// Zero means unconstrained.
type SizeConstraints struct {
	MinWidth  int `json:"min_width,omitempty" yaml:"min_width,omitempty" toml:"min_width,omitempty"`
	MinHeight int `json:"min_height,omitempty" yaml:"min_height,omitempty" toml:"min_height,omitempty"`
	MaxWidth  int `json:"max_width,omitempty" yaml:"max_width,omitempty" toml:"max_width,omitempty"`
	MaxHeight int `json:"max_height,omitempty" yaml:"max_height,omitempty" toml:"max_height,omitempty"`
}

// Manifest is the immutable descriptor of a widget
type Manifest struct {
	ID              string          `json:"id" yaml:"id" toml:"id"`
	Version         string          `json:"version" yaml:"version" toml:"version"`
	Name            string          `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Entry           string          `json:"entry,omitempty" yaml:"entry,omitempty" toml:"entry,omitempty"`
	InputPorts      []PortSpec      `json:"inputPorts" yaml:"inputPorts" toml:"inputPorts"`
	OutputPorts     []PortSpec      `json:"outputPorts" yaml:"outputPorts" toml:"outputPorts"`
	Permissions     []string        `json:"permissions" yaml:"permissions" toml:"permissions"`
	SizeConstraints SizeConstraints `json:"sizeConstraints" yaml:"sizeConstraints" toml:"sizeConstraints"`
}

// InputNames returns declared input port names in declaration order
func (m *Manifest) InputNames() []string {
	return portNames(m.InputPorts)
}

// OutputNames returns declared output port names in declaration order
func (m *Manifest) OutputNames() []string {
	return portNames(m.OutputPorts)
}

// InputDefaults maps each input port with a declared default to that default
func (m *Manifest) InputDefaults() map[string]interface{} {
	defaults := make(map[string]interface{})
	for _, p := range m.InputPorts {
		if p.Default != nil {
			defaults[p.Name] = p.Default
		}
	}
	return defaults
}

// HasPermission reports whether the manifest declares the named permission
func (m *Manifest) HasPermission(name string) bool {
	for _, p := range m.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

func portNames(ports []PortSpec) []string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return names
}

// Widget pairs a manifest with its render payload, loaded verbatim
type Widget struct {
	Manifest Manifest `json:"manifest"`
	Payload  string   `json:"-"`
}

// Status is the lifecycle status of a widget instance
type Status string

const (
	StatusCreated   Status = "created"
	StatusLoading   Status = "loading"
	StatusMounted   Status = "mounted"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusUnmounted Status = "unmounted"
)

// Live reports whether the instance has been mounted and not yet unmounted
func (s Status) Live() bool {
	return s == StatusMounted || s == StatusActive || s == StatusInactive
}

// Instance is a live placement of a manifest on a canvas
type Instance struct {
	ID         string                 `json:"id"`
	CanvasID   string                 `json:"canvas_id"`
	ManifestID string                 `json:"manifest_id"`
	Version    string                 `json:"version"`
	State      map[string]interface{} `json:"state"`
	Status     Status                 `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Clone returns a copy whose state map can be read without holding locks
func (i *Instance) Clone() *Instance {
	c := *i
	c.State = make(map[string]interface{}, len(i.State))
	for k, v := range i.State {
		c.State[k] = v
	}
	return &c
}
