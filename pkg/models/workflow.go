// Package models defines the domain documents for the workflow builder service.
package models

import (
	"fmt"
	"time"
)

// Node is a single step placed on the workflow canvas.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Properties map[string]any `json:"properties"`
}

// Edge connects two nodes of the same workflow.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Workflow is the persisted graph a user designs in the builder.
// The (OwnerID, Name) pair is unique; all access is scoped to the owner.
type Workflow struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"workflowName"`
	Description string    `json:"description"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ValidateGraph checks the referential integrity of the node/edge graph:
// node ids must be unique and every edge must reference node ids present in
// the same workflow. Enforced at write time so the executor never sees a
// dangling edge.
func (w *Workflow) ValidateGraph() error {
	ids := make(map[string]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	for _, e := range w.Edges {
		if _, ok := ids[e.Source]; !ok {
			return fmt.Errorf("edge %q references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := ids[e.Target]; !ok {
			return fmt.Errorf("edge %q references unknown target node %q", e.ID, e.Target)
		}
	}
	return nil
}

// Summary returns the display subset of the workflow joined onto execution reads.
func (w *Workflow) Summary(withGraph bool) *WorkflowSummary {
	s := &WorkflowSummary{Name: w.Name}
	if withGraph {
		s.Nodes = w.Nodes
		s.Edges = w.Edges
	}
	return s
}

// WorkflowSummary is the slice of a workflow embedded in execution responses.
type WorkflowSummary struct {
	Name  string `json:"workflowName"`
	Nodes []Node `json:"nodes,omitempty"`
	Edges []Edge `json:"edges,omitempty"`
}
