package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrTypeNotRegistered is returned when a payload type name is unknown
var ErrTypeNotRegistered = errors.New("payload type not registered")

// Factory produces a new zero value of a payload type, returned as a
// pointer so json.Unmarshal can populate it
type Factory func() any

// TypeRegistry maps logical payload type names to factories. Registration
// is explicit and happens at startup; there is no reflection-based
// discovery. Safe for concurrent use.
type TypeRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewTypeRegistry creates an empty registry
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{factories: make(map[string]Factory)}
}

// Register binds a logical type name to a factory. The name is normalized
// first, so decorated and plain forms of the same name share one entry.
// Re-registering a name replaces the previous factory.
func (r *TypeRegistry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[NormalizeEventType(name)] = factory
}

// Registered reports whether a type name is known
func (r *TypeRegistry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[NormalizeEventType(name)]
	return ok
}

// New returns a fresh zero value for the named type
func (r *TypeRegistry) New(name string) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[NormalizeEventType(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotRegistered, name)
	}
	return factory(), nil
}

// Decode materializes data into a new value of the named type
func (r *TypeRegistry) Decode(name string, data []byte) (any, error) {
	value, err := r.New(name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", name, err)
	}
	return value, nil
}

// NormalizeEventType extracts the "TypeName, Assembly" pair from a decorated
// type name, dropping version/culture/token decorations. Already-normalized
// input passes through unchanged.
func NormalizeEventType(name string) string {
	parts := strings.Split(name, ",")
	if len(parts) < 2 {
		return strings.TrimSpace(name)
	}
	typeName := strings.TrimSpace(parts[0])
	assembly := strings.TrimSpace(parts[1])
	if typeName == "" {
		return assembly
	}
	if assembly == "" || strings.Contains(assembly, "=") {
		return typeName
	}
	return typeName + ", " + assembly
}
