package runner

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-webcheck/registry"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// WorkItem is one scheduled (test, project) pair.
type WorkItem struct {
	Unit    registry.TestUnit
	Project types.ProjectConfig
}

// Key identifies the pair.
func (w WorkItem) Key() types.PairKey {
	return types.PairKey{TestID: w.Unit.ID, ProjectName: w.Project.Name}
}

func (w WorkItem) String() string {
	return fmt.Sprintf("[%s] %s", w.Project.Name, w.Unit.FullTitle())
}

// Plan is the expanded matrix of a run.
type Plan struct {
	Items []WorkItem
}

// BuildPlan expands units across projects, project-major.
func BuildPlan(units []registry.TestUnit, projects []types.ProjectConfig) Plan {
	items := make([]WorkItem, 0, len(units)*len(projects))
	for _, p := range projects {
		for _, u := range units {
			items = append(items, WorkItem{Unit: u, Project: p})
		}
	}
	return Plan{Items: items}
}

// Len returns the number of scheduled runs.
func (p Plan) Len() int {
	return len(p.Items)
}

// Batches splits the plan into units of scheduling. A fully parallel plan
// schedules every item on its own; otherwise items sharing a project and
// describe group stay together and run in registration order.
func (p Plan) Batches(fullyParallel bool) [][]WorkItem {
	if fullyParallel {
		out := make([][]WorkItem, len(p.Items))
		for i, item := range p.Items {
			out[i] = []WorkItem{item}
		}
		return out
	}
	type groupKey struct{ project, group string }
	index := make(map[groupKey]int)
	var out [][]WorkItem
	for _, item := range p.Items {
		k := groupKey{item.Project.Name, item.Unit.Group}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], item)
	}
	return out
}
