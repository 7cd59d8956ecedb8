package templates

import (
	"fmt"

	"filigree/internal/domain"
)

// Validate checks the structural invariants of a template and returns every
// violation found. An empty result means the template can be registered.
func Validate(tpl TypeTemplate) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, domain.Validation("template %s: %s", tpl.Type, fmt.Sprintf(format, args...)))
	}

	if !namePattern.MatchString(tpl.Type) {
		add("type name must match %s", namePattern.String())
	}
	if len(tpl.States) == 0 {
		add("at least one state is required")
	}
	if len(tpl.States) > MaxStates {
		add("%d states exceeds the limit of %d", len(tpl.States), MaxStates)
	}
	if len(tpl.Transitions) > MaxTransitions {
		add("%d transitions exceeds the limit of %d", len(tpl.Transitions), MaxTransitions)
	}
	if len(tpl.FieldsSchema) > MaxFields {
		add("%d fields exceeds the limit of %d", len(tpl.FieldsSchema), MaxFields)
	}

	states := map[string]bool{}
	for _, s := range tpl.States {
		if states[s.Name] {
			add("duplicate state %q", s.Name)
		}
		states[s.Name] = true
		if !namePattern.MatchString(s.Name) {
			add("state %q must match %s", s.Name, namePattern.String())
		}
		switch s.Category {
		case domain.CategoryOpen, domain.CategoryWIP, domain.CategoryDone:
		default:
			add("state %q has invalid category %q", s.Name, s.Category)
		}
	}
	if tpl.InitialState == "" {
		add("initial_state is required")
	} else if !states[tpl.InitialState] {
		add("initial_state %q is not a declared state", tpl.InitialState)
	}

	fields := map[string]bool{}
	for _, f := range tpl.FieldsSchema {
		if f.Name == "" {
			add("field with empty name")
			continue
		}
		if fields[f.Name] {
			add("duplicate field %q", f.Name)
		}
		fields[f.Name] = true
		switch f.Type {
		case FieldText, FieldNumber, FieldDate, FieldList, FieldBoolean:
		case FieldEnum:
			if len(f.Options) == 0 {
				add("enum field %q has no options", f.Name)
			} else if d, ok := f.Default.(string); ok && !contains(f.Options, d) {
				add("enum field %q default %q is not an option", f.Name, d)
			}
		default:
			add("field %q has invalid type %q", f.Name, f.Type)
		}
		for _, st := range f.RequiredAt {
			if !states[st] {
				add("field %q required_at unknown state %q", f.Name, st)
			}
		}
	}

	pairs := map[[2]string]bool{}
	for _, tr := range tpl.Transitions {
		if !states[tr.From] {
			add("transition %s -> %s: unknown from state", tr.From, tr.To)
		}
		if !states[tr.To] {
			add("transition %s -> %s: unknown to state", tr.From, tr.To)
		}
		if tr.Enforcement != EnforcementHard && tr.Enforcement != EnforcementSoft {
			add("transition %s -> %s: enforcement must be hard or soft", tr.From, tr.To)
		}
		pair := [2]string{tr.From, tr.To}
		if pairs[pair] {
			add("duplicate transition %s -> %s", tr.From, tr.To)
		}
		pairs[pair] = true
		for _, f := range tr.RequiresFields {
			if !fields[f] {
				add("transition %s -> %s requires unknown field %q", tr.From, tr.To, f)
			}
		}
	}

	if states[tpl.InitialState] {
		for _, s := range unreachable(tpl) {
			add("state %q is unreachable from %q", s, tpl.InitialState)
		}
	}
	return errs
}

// Warnings reports quality problems that do not block registration: states
// outside the done category that have no way out.
func Warnings(tpl TypeTemplate) []string {
	outgoing := map[string]int{}
	for _, tr := range tpl.Transitions {
		outgoing[tr.From]++
	}
	var out []string
	for _, s := range tpl.States {
		if s.Category != domain.CategoryDone && outgoing[s.Name] == 0 {
			out = append(out, fmt.Sprintf("type %s: state %q has no outgoing transitions", tpl.Type, s.Name))
		}
	}
	return out
}

// unreachable runs a breadth-first walk from the initial state and returns
// the states it never visits, in declaration order.
func unreachable(tpl TypeTemplate) []string {
	adj := map[string][]string{}
	for _, tr := range tpl.Transitions {
		adj[tr.From] = append(adj[tr.From], tr.To)
	}
	seen := map[string]bool{tpl.InitialState: true}
	queue := []string{tpl.InitialState}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	var out []string
	for _, s := range tpl.States {
		if !seen[s.Name] {
			out = append(out, s.Name)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
