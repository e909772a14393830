package plan

import "fmt"

// Validate checks the structural soundness of a plan: non-empty name and
// stage ids, unique stage ids, dependency references that resolve, and an
// acyclic dependency graph. Strategy types are validated separately by the
// registries that own them.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return &ConfigurationError{Field: "name", Value: "", Reason: "plan name is required"}
	}
	if len(p.Stages) == 0 {
		return &ConfigurationError{Field: "stages", Value: p.Name, Reason: "plan declares no stages"}
	}

	seen := make(map[string]bool, len(p.Stages))
	for _, st := range p.Stages {
		if st.ID == "" {
			return &ConfigurationError{Field: "id", Value: "", Reason: "stage id is required"}
		}
		if st.Kind == "" {
			return &ConfigurationError{StageID: st.ID, Field: "kind", Value: "", Reason: "stage kind is required"}
		}
		if seen[st.ID] {
			return &ConfigurationError{StageID: st.ID, Field: "id", Value: st.ID, Reason: "duplicate stage id"}
		}
		seen[st.ID] = true
	}

	for _, st := range p.Stages {
		for _, dep := range st.Dependencies {
			if !seen[dep] {
				return &ConfigurationError{StageID: st.ID, Field: "dependencies", Value: dep, Reason: "unknown stage id"}
			}
			if dep == st.ID {
				return &ConfigurationError{StageID: st.ID, Field: "dependencies", Value: dep, Reason: "stage depends on itself"}
			}
		}
	}

	return p.checkAcyclic()
}

// checkAcyclic rejects dependency cycles with a depth-first walk.
func (p *Plan) checkAcyclic() error {
	const (
		unvisited = 0
		inStack   = 1
		finished  = 2
	)
	state := make(map[string]int, len(p.Stages))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case inStack:
			return &ConfigurationError{StageID: id, Field: "dependencies", Value: id, Reason: "dependency cycle"}
		case finished:
			return nil
		}
		state[id] = inStack
		if st := p.StageByID(id); st != nil {
			for _, dep := range st.Dependencies {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[id] = finished
		return nil
	}

	for _, st := range p.Stages {
		if err := visit(st.ID); err != nil {
			return err
		}
	}
	return nil
}

// TopoOrder returns stage ids in an order where every stage appears after
// all of its dependencies. Ties keep declaration order so the walk is
// deterministic. Assumes Validate has passed.
func (p *Plan) TopoOrder() ([]string, error) {
	if err := p.checkAcyclic(); err != nil {
		return nil, err
	}

	placed := make(map[string]bool, len(p.Stages))
	order := make([]string, 0, len(p.Stages))
	remaining := len(p.Stages)

	for remaining > 0 {
		progress := false
		for _, st := range p.Stages {
			if placed[st.ID] {
				continue
			}
			ready := true
			for _, dep := range st.Dependencies {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[st.ID] = true
				order = append(order, st.ID)
				remaining--
				progress = true
			}
		}
		if !progress {
			return nil, fmt.Errorf("dependency graph did not converge")
		}
	}
	return order, nil
}
