package planner

import "github.com/kestrelhq/kestrel/pkg/resources"

// Summary aggregates a plan into per-op and per-kind counts.
type Summary struct {
	// Total is the number of actions in the plan.
	Total int `json:"total"`

	// Creates, Updates and Destroys count the actions per op.
	Creates  int `json:"creates"`
	Updates  int `json:"updates"`
	Destroys int `json:"destroys"`

	// ByKind counts the actions per resource kind.
	ByKind map[resources.Kind]int `json:"by_kind"`
}

// Summarize computes the plan summary.
func (p *Plan) Summarize() Summary {
	s := Summary{ByKind: make(map[resources.Kind]int)}
	for _, a := range p.Actions {
		s.Total++
		s.ByKind[a.Kind]++
		switch a.Op {
		case OpCreate:
			s.Creates++
		case OpUpdate:
			s.Updates++
		case OpDestroy:
			s.Destroys++
		}
	}
	return s
}
