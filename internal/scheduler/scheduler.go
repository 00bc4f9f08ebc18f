package scheduler

import (
	"fmt"
	"time"

	algograph "github.com/twmb/algoimpl/go/graph"

	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/store"
)

// Phase is a maximal set of manifests whose kinds are consistent and that
// run together until quiescence (spec.md §4.5, glossary "Phase").
type Phase struct {
	Name      string
	Manifests []Manifest
	Config    store.PhaseConfig
}

// Schedule builds the producer->consumer graph over manifests (an edge
// from the manifest deriving a kind to every manifest that uses it),
// groups mutually-cyclic manifests into the same phase via strongly
// connected components, and topologically layers the resulting
// condensation so that every phase's dependees have already run to
// completion in an earlier phase.
func Schedule(manifests []Manifest, reg *lattice.Registry, suppress store.SuppressionMatrix) ([]Phase, error) {
	g := algograph.New(algograph.Directed)
	nodes := make([]algograph.Node, len(manifests))
	nodeIndex := make(map[algograph.Node]int, len(manifests))
	for i := range manifests {
		nodes[i] = g.MakeNode()
		nodeIndex[nodes[i]] = i
	}

	producerOf := make(map[lattice.KindID][]int) // kind -> manifest indices that derive it
	for i, m := range manifests {
		for _, pb := range m.allDerived() {
			producerOf[pb.Kind] = append(producerOf[pb.Kind], i)
		}
	}

	for i, m := range manifests {
		for _, u := range m.Uses {
			for _, producerIdx := range producerOf[u.Kind] {
				if producerIdx == i {
					continue
				}
				if err := g.MakeEdge(nodes[producerIdx], nodes[i]); err != nil {
					return nil, fmt.Errorf("scheduler: building manifest graph: %w", err)
				}
			}
		}
	}

	// Read the adjacency back out of the graph rather than keeping a
	// parallel copy, so the algoimpl graph is the actual source of truth
	// for edges used by SCC detection and layering below.
	adj := make([][]int, len(manifests))
	for i, n := range nodes {
		for _, neigh := range g.Neighbors(n) {
			adj[i] = append(adj[i], nodeIndex[neigh])
		}
	}

	sccs := stronglyConnectedComponents(adj)
	order, err := topologicalLayers(adj, sccs)
	if err != nil {
		return nil, err
	}

	phases := make([]Phase, 0, len(order))
	for i, group := range order {
		ms := make([]Manifest, len(group))
		for j, idx := range group {
			ms[j] = manifests[idx]
		}
		cfg, err := buildPhaseConfig(fmt.Sprintf("phase-%d", i), ms, reg, suppress)
		if err != nil {
			return nil, err
		}
		phases = append(phases, Phase{Name: cfg.Name, Manifests: ms, Config: cfg})
	}
	return phases, nil
}

// buildPhaseConfig validates manifest consistency (spec.md §4.5 step 2)
// and derives the active-kinds set for the phase.
func buildPhaseConfig(name string, ms []Manifest, reg *lattice.Registry, suppress store.SuppressionMatrix) (store.PhaseConfig, error) {
	active := make(map[lattice.KindID]store.Role)
	lazyOwner := make(map[lattice.KindID]string)

	assign := func(k lattice.KindID, role store.Role, owner string) error {
		existing, ok := active[k]
		switch {
		case !ok || existing == store.RoleNone:
			// a kind first seen through Uses takes the role of its producer.
			active[k] = role
		case existing == store.RoleCollaborative && role == store.RoleCollaborative:
			// multiple collaborative contributors are fine.
		case existing != role:
			return &store.ConfigError{Msg: fmt.Sprintf(
				"phase %s: kind %s has inconsistent roles (%v and %v)", name, reg.Kind(k).Name, existing, role)}
		}
		if role == store.RoleLazy {
			if other, seen := lazyOwner[k]; seen && other != owner {
				return &store.ConfigError{Msg: fmt.Sprintf(
					"phase %s: kind %s has two lazy producers (%s, %s)", name, reg.Kind(k).Name, other, owner)}
			}
			lazyOwner[k] = owner
		}
		return nil
	}

	for _, m := range ms {
		for _, pb := range m.Uses {
			if _, ok := active[pb.Kind]; !ok {
				active[pb.Kind] = store.RoleNone
			}
		}
		for _, pb := range m.DerivesEagerly {
			if err := assign(pb.Kind, store.RoleEager, m.Name); err != nil {
				return store.PhaseConfig{}, err
			}
		}
		if m.DerivesLazily != nil {
			if err := assign(m.DerivesLazily.Kind, store.RoleLazy, m.Name); err != nil {
				return store.PhaseConfig{}, err
			}
		}
		for _, pb := range m.DerivesCollaboratively {
			if err := assign(pb.Kind, store.RoleCollaborative, m.Name); err != nil {
				return store.PhaseConfig{}, err
			}
		}
	}

	return store.PhaseConfig{Name: name, ActiveKinds: active, Suppress: suppress}, nil
}

// Run drives every manifest through the store's lifecycle: Init once for
// all manifests, then per phase SetupPhase -> BeforeSchedule -> Start ->
// AfterPhaseScheduling -> WaitOnPhaseCompletion -> AfterPhaseCompletion, in
// order (spec.md §4.5 step 3). deadline, if positive, is the wall-clock
// budget given to each phase individually, measured from that phase's own
// SetupPhase call (spec.md §5, "Cancellation & timeout"); zero means no
// deadline.
func Run(s *store.PropertyStore, manifests []Manifest, suppress store.SuppressionMatrix, deadline time.Duration) error {
	for _, m := range manifests {
		if err := callOptional(m.Init, s); err != nil {
			return fmt.Errorf("scheduler: init %s: %w", m.Name, err)
		}
	}

	phases, err := Schedule(manifests, s.Registry(), suppress)
	if err != nil {
		return err
	}

	for _, phase := range phases {
		cfg := phase.Config
		if deadline > 0 {
			cfg.Deadline = time.Now().Add(deadline)
		}
		if err := s.SetupPhase(cfg); err != nil {
			return fmt.Errorf("scheduler: setup %s: %w", phase.Name, err)
		}
		for _, m := range phase.Manifests {
			if err := callOptional(m.BeforeSchedule, s); err != nil {
				return fmt.Errorf("scheduler: before-schedule %s: %w", m.Name, err)
			}
		}
		for _, m := range phase.Manifests {
			if err := callOptional(m.Start, s); err != nil {
				return fmt.Errorf("scheduler: start %s: %w", m.Name, err)
			}
		}
		for _, m := range phase.Manifests {
			if err := callOptional(m.AfterPhaseScheduling, s); err != nil {
				return fmt.Errorf("scheduler: after-scheduling %s: %w", m.Name, err)
			}
		}
		if err := s.WaitOnPhaseCompletion(); err != nil {
			return fmt.Errorf("scheduler: %s: %w", phase.Name, err)
		}
		for _, m := range phase.Manifests {
			if err := callOptional(m.AfterPhaseCompletion, s); err != nil {
				return fmt.Errorf("scheduler: after-completion %s: %w", m.Name, err)
			}
		}
	}
	return nil
}
