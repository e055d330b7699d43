package catalog

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// ValidationError lists every problem found in one manifest
type ValidationError struct {
	ManifestID string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid manifest %q: %s", e.ManifestID, strings.Join(e.Problems, "; "))
}

// Is lets callers match ErrInvalidManifest
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidManifest
}

// Validate checks a widget's manifest and payload
func Validate(w *types.Widget) error {
	m := &w.Manifest
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := utils.ValidateID(m.ID, "id", true); err != nil {
		add("%v", err)
	}
	if err := utils.ValidateString(m.Version, "version", 1, utils.MaxVersionLength, true); err != nil {
		add("%v", err)
	}

	checkPorts := func(dir types.Direction, ports []types.PortSpec) {
		seen := make(map[string]struct{}, len(ports))
		for _, p := range ports {
			if err := utils.ValidatePortName(p.Name); err != nil {
				add("%s %v", dir, err)
				continue
			}
			if _, dup := seen[p.Name]; dup {
				add("duplicate %s port %q", dir, p.Name)
			}
			seen[p.Name] = struct{}{}
		}
	}
	checkPorts(types.DirectionInput, m.InputPorts)
	checkPorts(types.DirectionOutput, m.OutputPorts)

	for _, perm := range m.Permissions {
		if err := utils.ValidateOperation(perm); err != nil || strings.Contains(perm, ".") {
			add("invalid permission %q", perm)
		}
	}

	sc := m.SizeConstraints
	if sc.MinWidth < 0 || sc.MinHeight < 0 || sc.MaxWidth < 0 || sc.MaxHeight < 0 {
		add("size constraints must not be negative")
	}
	if sc.MaxWidth > 0 && sc.MinWidth > sc.MaxWidth {
		add("min_width %d exceeds max_width %d", sc.MinWidth, sc.MaxWidth)
	}
	if sc.MaxHeight > 0 && sc.MinHeight > sc.MaxHeight {
		add("min_height %d exceeds max_height %d", sc.MinHeight, sc.MaxHeight)
	}

	if strings.TrimSpace(w.Payload) == "" {
		add("render payload is empty")
	}
	if err := utils.ValidateSize([]byte(w.Payload), utils.MaxPayloadSize, "render payload"); err != nil {
		add("%v", err)
	}

	if len(problems) > 0 {
		return &ValidationError{ManifestID: m.ID, Problems: problems}
	}
	return nil
}
