package stages

import (
	"fmt"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/registry"
)

// Nodes returns every node name in pipeline order, with the control nodes
// after the production stages.
func Nodes() []episode.Stage {
	return append(episode.Stages(), episode.StageCostCheck, episode.StageErrorHandler)
}

// Registry holds the pipeline's nodes by name.
type Registry struct {
	svc   *Services
	nodes *registry.Registry[episode.Stage, Stage]
}

// NewRegistry builds every node against svc. svc is filled with defaults
// first and is shared by all nodes.
func NewRegistry(svc Services) *Registry {
	full := svc.WithDefaults()
	shared := &full

	r := &Registry{svc: shared, nodes: registry.New[episode.Stage, Stage]()}
	for _, build := range []func(*Services) Stage{
		newDiscovery,
		newDeepDive,
		newValidation,
		newSynthesis,
		newQuestions,
		newPlanning,
		newWriting,
		newPolishing,
		newAudio,
		newQualityCheck,
		newCostCheck,
		newErrorHandler,
	} {
		r.Register(build(shared))
	}
	return r
}

// Services returns the services the built-in nodes share.
func (r *Registry) Services() *Services { return r.svc }

// Register adds st, replacing any node with the same name.
func (r *Registry) Register(st Stage) {
	r.nodes.Register(st.Name(), st)
}

// Get returns the node named name.
func (r *Registry) Get(name episode.Stage) (Stage, bool) {
	return r.nodes.Get(name)
}

// MustGet returns the node named name, panicking if there is none.
func (r *Registry) MustGet(name episode.Stage) Stage {
	st, ok := r.nodes.Get(name)
	if !ok {
		panic(fmt.Sprintf("stages: no node %q", name))
	}
	return st
}

// Names returns the registered node names in pipeline order.
func (r *Registry) Names() []episode.Stage {
	var out []episode.Stage
	for _, n := range Nodes() {
		if r.nodes.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Check runs Ready on every node and returns the failures by node.
func (r *Registry) Check() map[episode.Stage]error {
	out := make(map[episode.Stage]error)
	for _, n := range r.Names() {
		st, _ := r.nodes.Get(n)
		if err := st.Ready(); err != nil {
			out[n] = err
		}
	}
	return out
}
