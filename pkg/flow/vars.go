package flow

import "sync"

// Vars is the Variable Context of one invocation: the named values
// threaded between tasks. A fresh Vars is created per invocation.
type Vars struct {
	mu     sync.RWMutex
	values map[string]any
}

func newVars(names []string, args []any) *Vars {
	v := &Vars{values: make(map[string]any, len(names))}
	for i, name := range names {
		v.values[name] = args[i]
	}
	return v
}

// Get returns the value bound to name.
func (v *Vars) Get(name string) (any, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, ok := v.values[name]
	if !ok {
		return nil, &UnboundVariableError{Name: name}
	}
	return value, nil
}

// Save binds values to names positionally. Extra values are dropped and
// missing ones bind nil.
func (v *Vars) Save(names []string, values []any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, name := range names {
		if i < len(values) {
			v.values[name] = values[i]
		} else {
			v.values[name] = nil
		}
	}
}

// Snapshot returns a copy of every binding.
func (v *Vars) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}
