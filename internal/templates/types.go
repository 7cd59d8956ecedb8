package templates

import "regexp"

const (
	EnforcementHard = "hard"
	EnforcementSoft = "soft"
)

const (
	FieldText    = "text"
	FieldEnum    = "enum"
	FieldNumber  = "number"
	FieldDate    = "date"
	FieldList    = "list"
	FieldBoolean = "boolean"
)

// Ceilings on template size. They bound the cost of building lookup tables
// and running reachability for a single type.
const (
	MaxStates      = 50
	MaxTransitions = 200
	MaxFields      = 50
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

type StateDefinition struct {
	Name     string `json:"name"`
	Category string `json:"category" enum:"open,wip,done"`
}

type TransitionDefinition struct {
	From           string   `json:"from"`
	To             string   `json:"to"`
	Enforcement    string   `json:"enforcement" enum:"hard,soft"`
	RequiresFields []string `json:"requires_fields,omitempty"`
}

type FieldSchema struct {
	Name       string   `json:"name"`
	Type       string   `json:"type" enum:"text,enum,number,date,list,boolean"`
	Options    []string `json:"options,omitempty"`
	Default    any      `json:"default,omitempty"`
	RequiredAt []string `json:"required_at,omitempty"`
}

type TypeTemplate struct {
	Type         string                 `json:"type"`
	DisplayName  string                 `json:"display_name,omitempty"`
	Pack         string                 `json:"pack,omitempty"`
	States       []StateDefinition      `json:"states"`
	InitialState string                 `json:"initial_state"`
	Transitions  []TransitionDefinition `json:"transitions"`
	FieldsSchema []FieldSchema          `json:"fields_schema,omitempty"`
}

type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

type WorkflowPack struct {
	Pack          string                  `json:"pack"`
	Version       string                  `json:"version"`
	Types         map[string]TypeTemplate `json:"types"`
	RequiresPacks []string                `json:"requires_packs,omitempty"`
	Relationships []Relationship          `json:"relationships,omitempty"`
	Guide         string                  `json:"guide,omitempty"`
}

// TransitionResult is the outcome of evaluating a status change against a
// type's table and field gates.
type TransitionResult struct {
	Allowed       bool     `json:"allowed"`
	Enforcement   string   `json:"enforcement,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// TransitionOption describes one outgoing edge from an issue's current state.
type TransitionOption struct {
	To             string   `json:"to"`
	Category       string   `json:"category"`
	Enforcement    string   `json:"enforcement"`
	RequiredFields []string `json:"required_fields,omitempty"`
	MissingFields  []string `json:"missing_fields,omitempty"`
	Ready          bool     `json:"ready"`
}

// State returns the named state definition.
func (t TypeTemplate) State(name string) (StateDefinition, bool) {
	for _, s := range t.States {
		if s.Name == name {
			return s, true
		}
	}
	return StateDefinition{}, false
}

// Field returns the named field schema.
func (t TypeTemplate) Field(name string) (FieldSchema, bool) {
	for _, f := range t.FieldsSchema {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// FieldDefaults returns the schema defaults for fields that declare one.
func (t TypeTemplate) FieldDefaults() map[string]any {
	out := map[string]any{}
	for _, f := range t.FieldsSchema {
		if f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}
