package gqlwatch

// registry tracks every materialized execution. The client exclusively owns
// it; bindings only ever hold non-owning references handed out by the client.
// All access is under the client's mutex.
type registry struct {
	executions map[string]*execution
}

func newRegistry() *registry {
	return &registry{
		executions: map[string]*execution{},
	}
}

func (r *registry) get(key string) *execution {
	return r.executions[key]
}

func (r *registry) put(e *execution) {
	r.executions[e.key] = e
}

func (r *registry) remove(e *execution) {
	delete(r.executions, e.key)
}

// byName returns the executions whose definition name is in names, in no
// particular order. This is the membership snapshot refetch-by-name operates
// on: executions that were never materialized have no entry here and so can
// never be visited.
func (r *registry) byName(names map[string]struct{}) []*execution {
	var ret []*execution
	for _, e := range r.executions {
		if _, ok := names[e.definition.Name]; ok {
			ret = append(ret, e)
		}
	}
	return ret
}
