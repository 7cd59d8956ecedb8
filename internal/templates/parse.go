package templates

import (
	"fmt"
	"sort"
	"strings"

	"filigree/internal/domain"
)

// ParseTemplate converts a decoded template document into a TypeTemplate.
// It checks document shape and size ceilings; structural invariants are left
// to Validate.
func ParseTemplate(raw map[string]any) (TypeTemplate, error) {
	var tpl TypeTemplate
	var err error
	if tpl.Type, err = stringValue(raw, "type"); err != nil {
		return tpl, err
	}
	if tpl.Type == "" {
		return tpl, domain.Validation("template: type is required")
	}
	fail := func(format string, args ...any) (TypeTemplate, error) {
		return tpl, domain.Validation("template %s: %s", tpl.Type, fmt.Sprintf(format, args...))
	}
	if tpl.DisplayName, err = stringValue(raw, "display_name"); err != nil {
		return fail("%v", err)
	}
	if tpl.Pack, err = stringValue(raw, "pack"); err != nil {
		return fail("%v", err)
	}
	if tpl.InitialState, err = stringValue(raw, "initial_state"); err != nil {
		return fail("%v", err)
	}

	states, err := objectList(raw, "states")
	if err != nil {
		return fail("%v", err)
	}
	if len(states) > MaxStates {
		return fail("%d states exceeds the limit of %d", len(states), MaxStates)
	}
	seenStates := map[string]bool{}
	for i, obj := range states {
		name, err := stringValue(obj, "name")
		if err != nil {
			return fail("states[%d]: %v", i, err)
		}
		category, err := stringValue(obj, "category")
		if err != nil {
			return fail("states[%d]: %v", i, err)
		}
		if seenStates[name] {
			return fail("duplicate state %q", name)
		}
		seenStates[name] = true
		tpl.States = append(tpl.States, StateDefinition{Name: name, Category: category})
	}

	transitions, err := objectList(raw, "transitions")
	if err != nil {
		return fail("%v", err)
	}
	if len(transitions) > MaxTransitions {
		return fail("%d transitions exceeds the limit of %d", len(transitions), MaxTransitions)
	}
	seenPairs := map[[2]string]bool{}
	for i, obj := range transitions {
		var td TransitionDefinition
		if td.From, err = stringValue(obj, "from"); err != nil {
			return fail("transitions[%d]: %v", i, err)
		}
		if td.To, err = stringValue(obj, "to"); err != nil {
			return fail("transitions[%d]: %v", i, err)
		}
		if td.Enforcement, err = stringValue(obj, "enforcement"); err != nil {
			return fail("transitions[%d]: %v", i, err)
		}
		if td.Enforcement == "" {
			td.Enforcement = EnforcementSoft
		}
		if td.Enforcement != EnforcementHard && td.Enforcement != EnforcementSoft {
			return fail("transition %s -> %s: enforcement must be hard or soft, got %q", td.From, td.To, td.Enforcement)
		}
		if td.RequiresFields, err = stringList(obj, "requires_fields"); err != nil {
			return fail("transitions[%d]: %v", i, err)
		}
		pair := [2]string{td.From, td.To}
		if seenPairs[pair] {
			return fail("duplicate transition %s -> %s", td.From, td.To)
		}
		seenPairs[pair] = true
		tpl.Transitions = append(tpl.Transitions, td)
	}

	fields, err := objectList(raw, "fields_schema")
	if err != nil {
		return fail("%v", err)
	}
	if len(fields) > MaxFields {
		return fail("%d fields exceeds the limit of %d", len(fields), MaxFields)
	}
	for i, obj := range fields {
		var fs FieldSchema
		if fs.Name, err = stringValue(obj, "name"); err != nil {
			return fail("fields_schema[%d]: %v", i, err)
		}
		if fs.Type, err = stringValue(obj, "type"); err != nil {
			return fail("fields_schema[%d]: %v", i, err)
		}
		if fs.Type == "" {
			fs.Type = FieldText
		}
		if fs.Options, err = stringList(obj, "options"); err != nil {
			return fail("fields_schema[%d]: %v", i, err)
		}
		if fs.RequiredAt, err = stringList(obj, "required_at"); err != nil {
			return fail("fields_schema[%d]: %v", i, err)
		}
		fs.Default = obj["default"]
		tpl.FieldsSchema = append(tpl.FieldsSchema, fs)
	}
	return tpl, nil
}

// ParsePack converts a decoded pack document. Each entry under types is parsed
// as a template; the map key wins over any type name inside the entry.
func ParsePack(raw map[string]any) (WorkflowPack, error) {
	var pack WorkflowPack
	var err error
	if pack.Pack, err = stringValue(raw, "pack"); err != nil {
		return pack, domain.Validation("pack: %v", err)
	}
	if pack.Pack == "" {
		return pack, domain.Validation("pack: name is required")
	}
	if pack.Version, err = stringValue(raw, "version"); err != nil {
		return pack, domain.Validation("pack %s: %v", pack.Pack, err)
	}
	if pack.RequiresPacks, err = stringList(raw, "requires_packs"); err != nil {
		return pack, domain.Validation("pack %s: %v", pack.Pack, err)
	}
	if pack.Guide, err = stringValue(raw, "guide"); err != nil {
		return pack, domain.Validation("pack %s: %v", pack.Pack, err)
	}
	rels, err := objectList(raw, "relationships")
	if err != nil {
		return pack, domain.Validation("pack %s: %v", pack.Pack, err)
	}
	for i, obj := range rels {
		var rel Relationship
		if rel.From, err = stringValue(obj, "from"); err != nil {
			return pack, domain.Validation("pack %s: relationships[%d]: %v", pack.Pack, i, err)
		}
		if rel.To, err = stringValue(obj, "to"); err != nil {
			return pack, domain.Validation("pack %s: relationships[%d]: %v", pack.Pack, i, err)
		}
		if rel.Kind, err = stringValue(obj, "kind"); err != nil {
			return pack, domain.Validation("pack %s: relationships[%d]: %v", pack.Pack, i, err)
		}
		pack.Relationships = append(pack.Relationships, rel)
	}

	typesRaw, ok := raw["types"]
	if !ok || typesRaw == nil {
		return pack, domain.Validation("pack %s: types is required", pack.Pack)
	}
	typesMap, ok := typesRaw.(map[string]any)
	if !ok {
		return pack, domain.Validation("pack %s: types must be an object", pack.Pack)
	}
	names := make([]string, 0, len(typesMap))
	for name := range typesMap {
		names = append(names, name)
	}
	sort.Strings(names)
	pack.Types = make(map[string]TypeTemplate, len(names))
	for _, name := range names {
		obj, ok := typesMap[name].(map[string]any)
		if !ok {
			return pack, domain.Validation("pack %s: type %s must be an object", pack.Pack, name)
		}
		doc := make(map[string]any, len(obj)+2)
		for k, v := range obj {
			doc[k] = v
		}
		doc["type"] = name
		if _, ok := doc["pack"]; !ok {
			doc["pack"] = pack.Pack
		}
		tpl, err := ParseTemplate(doc)
		if err != nil {
			return pack, err
		}
		pack.Types[name] = tpl
	}
	return pack, nil
}

func stringValue(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

func stringList(obj map[string]any, key string) ([]string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", key, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings", key)
	}
}

func objectList(obj map[string]any, key string) ([]map[string]any, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []map[string]any:
		return list, nil
	case []any:
		out := make([]map[string]any, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be an object", key, i)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of objects", key)
	}
}
