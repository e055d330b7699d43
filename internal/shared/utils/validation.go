package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Size limits (in bytes)
const (
	MaxPayloadSize = 512 * 1024 // render payload loaded into a sandbox
	MaxMessageSize = 64 * 1024  // one message crossing the context boundary
	MaxStateSize   = 256 * 1024 // one instance's persisted state blob
	MaxJSONDepth   = 32
)

// String length limits
const (
	MaxIDLength        = 128
	MaxPortNameLength  = 64
	MaxEventNameLength = 128
	MaxVersionLength   = 32
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// PortNamePattern allows identifiers with hyphens and underscores
	PortNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)
	// EventNamePattern allows namespaced names like "host:log" or "sensor.tick", or "*"
	EventNamePattern = regexp.MustCompile(`^(\*|[a-zA-Z0-9][a-zA-Z0-9_.:/-]*)$`)
	// OperationPattern matches capability operations like "network.fetch"
	OperationPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(\.[a-zA-Z0-9_-]+)*$`)
)

// ValidateSize checks that data fits within maxSize bytes
func ValidateSize(data []byte, maxSize int, fieldName string) error {
	if len(data) > maxSize {
		return fmt.Errorf("%s size %d bytes exceeds maximum %d bytes", fieldName, len(data), maxSize)
	}
	return nil
}

// ValidateJSON validates both size and JSON structure
func ValidateJSON(data []byte, maxSize int) error {
	if err := ValidateSize(data, maxSize, "JSON"); err != nil {
		return err
	}

	var js interface{}
	if err := sonic.Unmarshal(data, &js); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return ValidateJSONDepth(js, MaxJSONDepth)
}

// ValidateJSONDepth checks if JSON nesting depth is within limits
func ValidateJSONDepth(data interface{}, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data interface{}, currentDepth int, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}

	switch v := data.(type) {
	case map[string]interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}

	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidatePortName validates a declared port name
func ValidatePortName(name string) error {
	if err := ValidateString(name, "port name", 1, MaxPortNameLength, true); err != nil {
		return err
	}
	if !PortNamePattern.MatchString(name) {
		return fmt.Errorf("port name %q contains invalid characters", name)
	}
	return nil
}

// ValidateEventName validates an Event Bus event name
func ValidateEventName(name string) error {
	if err := ValidateString(name, "event name", 1, MaxEventNameLength, true); err != nil {
		return err
	}
	if !EventNamePattern.MatchString(name) {
		return fmt.Errorf("event name %q contains invalid characters", name)
	}
	return nil
}

// ValidateOperation validates a capability operation name
func ValidateOperation(name string) error {
	if err := ValidateString(name, "capability", 1, MaxIDLength, true); err != nil {
		return err
	}
	if !OperationPattern.MatchString(name) {
		return fmt.Errorf("capability %q is malformed", name)
	}
	return nil
}
