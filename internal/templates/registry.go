package templates

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"filigree/internal/domain"
)

// Source produces the full set of templates the registry should serve.
type Source interface {
	Load() (LoadResult, error)
}

// LoadResult is what a Source resolved after applying layer precedence.
type LoadResult struct {
	Packs     []WorkflowPack
	Templates []TypeTemplate
	Warnings  []string
}

type transitionKey struct{ from, to string }

// compiled holds the lookup tables for one type.
type compiled struct {
	tpl         TypeTemplate
	categories  map[string]string
	transitions map[transitionKey]TransitionDefinition
	outgoing    map[string][]TransitionDefinition
	requiredAt  map[string][]string
}

// snapshot is immutable once published.
type snapshot struct {
	version  uint64
	types    map[string]*compiled
	packs    map[string]WorkflowPack
	warnings []string
}

// Registry serves validated type templates. Readers load the current snapshot
// through an atomic pointer; writers build a complete replacement and swap it
// in, so a lookup never sees a partially rebuilt table.
type Registry struct {
	source Source
	logger *log.Logger

	mu      sync.Mutex
	loaded  bool
	extra   map[string]TypeTemplate
	current atomic.Pointer[snapshot]
}

func NewRegistry(source Source, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	r := &Registry{source: source, logger: logger, extra: map[string]TypeTemplate{}}
	r.current.Store(&snapshot{types: map[string]*compiled{}, packs: map[string]WorkflowPack{}})
	return r
}

// Load populates the registry from its source once. Later calls are no-ops.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	if err := r.rebuildLocked(); err != nil {
		return err
	}
	r.loaded = true
	return nil
}

// Reload rebuilds every table from the source and swaps the result in. On
// failure the previous snapshot stays live.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rebuildLocked(); err != nil {
		return err
	}
	r.loaded = true
	return nil
}

// Register validates tpl and publishes a snapshot with that type replaced.
// Registered types survive Reload, layered above the source.
func (r *Registry) Register(tpl TypeTemplate) error {
	if errs := Validate(tpl); len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.current.Load()
	next := &snapshot{
		version:  prev.version + 1,
		types:    make(map[string]*compiled, len(prev.types)+1),
		packs:    prev.packs,
		warnings: prev.warnings,
	}
	for k, v := range prev.types {
		next.types[k] = v
	}
	next.types[tpl.Type] = compile(tpl)
	for _, w := range Warnings(tpl) {
		r.logger.Warn("template quality", "warning", w)
	}
	r.extra[tpl.Type] = tpl
	r.current.Store(next)
	return nil
}

func (r *Registry) rebuildLocked() error {
	var res LoadResult
	if r.source != nil {
		var err error
		res, err = r.source.Load()
		if err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
	}
	prev := r.current.Load()
	next := &snapshot{
		version:  prev.version + 1,
		types:    map[string]*compiled{},
		packs:    map[string]WorkflowPack{},
		warnings: append([]string(nil), res.Warnings...),
	}
	for _, p := range res.Packs {
		next.packs[p.Pack] = p
	}
	all := append([]TypeTemplate(nil), res.Templates...)
	for _, tpl := range r.extra {
		all = append(all, tpl)
	}
	var errs []error
	for _, tpl := range all {
		if verrs := Validate(tpl); len(verrs) > 0 {
			errs = append(errs, verrs...)
			continue
		}
		next.types[tpl.Type] = compile(tpl)
		next.warnings = append(next.warnings, Warnings(tpl)...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, w := range next.warnings {
		r.logger.Warn("template quality", "warning", w)
	}
	r.current.Store(next)
	r.logger.Debug("template registry loaded", "version", next.version, "types", len(next.types))
	return nil
}

func compile(tpl TypeTemplate) *compiled {
	c := &compiled{
		tpl:         tpl,
		categories:  make(map[string]string, len(tpl.States)),
		transitions: make(map[transitionKey]TransitionDefinition, len(tpl.Transitions)),
		outgoing:    map[string][]TransitionDefinition{},
		requiredAt:  map[string][]string{},
	}
	for _, s := range tpl.States {
		c.categories[s.Name] = s.Category
	}
	for _, tr := range tpl.Transitions {
		c.transitions[transitionKey{tr.From, tr.To}] = tr
		c.outgoing[tr.From] = append(c.outgoing[tr.From], tr)
	}
	for _, f := range tpl.FieldsSchema {
		for _, st := range f.RequiredAt {
			c.requiredAt[st] = append(c.requiredAt[st], f.Name)
		}
	}
	return c
}

func (r *Registry) lookup(typeName string) (*compiled, bool) {
	c, ok := r.current.Load().types[typeName]
	return c, ok
}

// Version increments every time a new snapshot is published.
func (r *Registry) Version() uint64 { return r.current.Load().version }

// Warnings returns the quality warnings gathered by the last load.
func (r *Registry) Warnings() []string {
	return append([]string(nil), r.current.Load().warnings...)
}

// Types lists registered type names in sorted order.
func (r *Registry) Types() []string {
	snap := r.current.Load()
	out := make([]string, 0, len(snap.types))
	for name := range snap.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Packs() []WorkflowPack {
	snap := r.current.Load()
	out := make([]WorkflowPack, 0, len(snap.packs))
	for _, p := range snap.packs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pack < out[j].Pack })
	return out
}

func (r *Registry) Template(typeName string) (TypeTemplate, bool) {
	c, ok := r.lookup(typeName)
	if !ok {
		return TypeTemplate{}, false
	}
	return c.tpl, true
}

// Category maps a state of a type to its category. ok is false for unknown
// types and states.
func (r *Registry) Category(typeName, state string) (string, bool) {
	c, ok := r.lookup(typeName)
	if !ok {
		return "", false
	}
	cat, ok := c.categories[state]
	return cat, ok
}

// InitialState returns the starting state of a registered type.
func (r *Registry) InitialState(typeName string) (string, error) {
	c, ok := r.lookup(typeName)
	if !ok {
		return "", domain.Validation("unknown issue type %q", typeName)
	}
	return c.tpl.InitialState, nil
}

// States lists the states of a type in a category, in declaration order.
func (r *Registry) States(typeName, category string) []string {
	c, ok := r.lookup(typeName)
	if !ok {
		return nil
	}
	var out []string
	for _, s := range c.tpl.States {
		if s.Category == category {
			out = append(out, s.Name)
		}
	}
	return out
}

// FirstState returns the first declared state of a type in a category.
func (r *Registry) FirstState(typeName, category string) (string, bool) {
	states := r.States(typeName, category)
	if len(states) == 0 {
		return "", false
	}
	return states[0], true
}

// ValidateTransition evaluates from -> to against the type's table and the
// field gates. A pair absent from the table is never allowed.
func (r *Registry) ValidateTransition(typeName, from, to string, fields map[string]any) TransitionResult {
	c, ok := r.lookup(typeName)
	if !ok {
		return TransitionResult{Reason: fmt.Sprintf("unknown issue type %q", typeName)}
	}
	tr, ok := c.transitions[transitionKey{from, to}]
	if !ok {
		return TransitionResult{Reason: fmt.Sprintf("no transition %s -> %s for type %s", from, to, typeName)}
	}
	return c.gate(tr, fields)
}

// CheckGate evaluates only the field gate for from -> to, ignoring whether the
// pair is in the table. When the pair is absent the target's required_at
// fields are enforced hard.
func (r *Registry) CheckGate(typeName, from, to string, fields map[string]any) TransitionResult {
	c, ok := r.lookup(typeName)
	if !ok {
		return TransitionResult{Reason: fmt.Sprintf("unknown issue type %q", typeName)}
	}
	if _, ok := c.categories[to]; !ok {
		return TransitionResult{Reason: fmt.Sprintf("%q is not a state of type %s", to, typeName)}
	}
	tr, ok := c.transitions[transitionKey{from, to}]
	if !ok {
		tr = TransitionDefinition{From: from, To: to, Enforcement: EnforcementHard}
	}
	return c.gate(tr, fields)
}

// ValidTransitions lists every outgoing transition from state, annotated
// against the supplied fields.
func (r *Registry) ValidTransitions(typeName, state string, fields map[string]any) []TransitionOption {
	c, ok := r.lookup(typeName)
	if !ok {
		return nil
	}
	out := make([]TransitionOption, 0, len(c.outgoing[state]))
	for _, tr := range c.outgoing[state] {
		required := c.requiredFor(tr)
		missing := missingFields(required, fields)
		out = append(out, TransitionOption{
			To:             tr.To,
			Category:       c.categories[tr.To],
			Enforcement:    tr.Enforcement,
			RequiredFields: required,
			MissingFields:  missing,
			Ready:          len(missing) == 0,
		})
	}
	return out
}

func (c *compiled) requiredFor(tr TransitionDefinition) []string {
	var out []string
	seen := map[string]bool{}
	for _, group := range [][]string{tr.RequiresFields, c.requiredAt[tr.To]} {
		for _, f := range group {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func (c *compiled) gate(tr TransitionDefinition, fields map[string]any) TransitionResult {
	missing := missingFields(c.requiredFor(tr), fields)
	res := TransitionResult{Allowed: true, Enforcement: tr.Enforcement}
	if len(missing) == 0 {
		return res
	}
	res.MissingFields = missing
	if tr.Enforcement == EnforcementHard {
		res.Allowed = false
		res.Reason = fmt.Sprintf("transition %s -> %s requires %s", tr.From, tr.To, strings.Join(missing, ", "))
		return res
	}
	res.Warnings = []string{fmt.Sprintf("transition %s -> %s is missing recommended fields: %s", tr.From, tr.To, strings.Join(missing, ", "))}
	return res
}

func missingFields(required []string, fields map[string]any) []string {
	var out []string
	for _, name := range required {
		if !Populated(fields[name]) {
			out = append(out, name)
		}
	}
	return out
}

// Populated reports whether a field value counts as set. Nil and
// whitespace-only strings do not.
func Populated(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	default:
		return true
	}
}
