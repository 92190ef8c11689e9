package proxy

import "sync"

// Registry maps "ip:port" to the Instance serving it (spec.md §3
// "Instance registry"). Lookup/insert/delete are O(1) amortized map
// operations; insertion order is never significant.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Get returns the instance for addr, if registered.
func (r *Registry) Get(addr string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[addr]
	return inst, ok
}

// GetOrCreate returns the existing instance for addr, or creates and
// registers one with the given pool size and auth secret. Used both by
// the topology maintainer (known addresses discovered via CLUSTER NODES)
// and by the redirection handler (on-demand creation, spec.md §4.7).
func (r *Registry) GetOrCreate(addr, authPass string, poolSize int) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[addr]; ok {
		return inst, nil
	}
	inst, err := NewInstance(addr, authPass, poolSize)
	if err != nil {
		return nil, err
	}
	r.instances[addr] = inst
	return inst, nil
}

// Add registers a freshly created instance, failing with EBUSY if the
// address is already present (spec.md §4.3 creation-failure taxonomy).
func (r *Registry) Add(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.Addr]; ok {
		return &InstanceError{Addr: inst.Addr, Err: ErrDuplicate}
	}
	r.instances[inst.Addr] = inst
	return nil
}

// Delete removes and releases an instance. Must only be called once the
// instance's slot count has reached zero.
func (r *Registry) Delete(addr string) {
	r.mu.Lock()
	inst, ok := r.instances[addr]
	if ok {
		delete(r.instances, addr)
	}
	r.mu.Unlock()
	if ok {
		inst.Release()
	}
}

// All returns a snapshot of registered instances, used by the topology
// maintainer's orphan sweep and by "PROXY INSTANCES".
func (r *Registry) All() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}
