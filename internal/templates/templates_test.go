package templates

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filigree/internal/domain"
)

func bugDoc() map[string]any {
	return map[string]any{
		"type":          "bug",
		"initial_state": "triage",
		"states": []any{
			map[string]any{"name": "triage", "category": "open"},
			map[string]any{"name": "fixing", "category": "wip"},
			map[string]any{"name": "verifying", "category": "wip"},
			map[string]any{"name": "closed", "category": "done"},
		},
		"transitions": []any{
			map[string]any{"from": "triage", "to": "fixing", "enforcement": "soft", "requires_fields": []any{"root_cause"}},
			map[string]any{"from": "fixing", "to": "verifying"},
			map[string]any{"from": "verifying", "to": "closed", "enforcement": "hard", "requires_fields": []any{"fix_verification"}},
		},
		"fields_schema": []any{
			map[string]any{"name": "root_cause", "type": "text"},
			map[string]any{"name": "fix_verification", "type": "text"},
			map[string]any{"name": "release_notes", "type": "text", "required_at": []any{"closed"}},
		},
	}
}

func mustParse(t *testing.T, doc map[string]any) TypeTemplate {
	t.Helper()
	tpl, err := ParseTemplate(doc)
	require.NoError(t, err)
	require.Empty(t, Validate(tpl))
	return tpl
}

func newBugRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(mustParse(t, bugDoc())))
	return reg
}

func TestParseTemplateDefaultsEnforcementToSoft(t *testing.T) {
	tpl := mustParse(t, bugDoc())
	assert.Equal(t, EnforcementSoft, tpl.Transitions[1].Enforcement)
	assert.Equal(t, []string{"closed"}, tpl.FieldsSchema[2].RequiredAt)
}

func TestParseTemplateRejectsBadShape(t *testing.T) {
	cases := map[string]func(doc map[string]any){
		"states not a list":      func(doc map[string]any) { doc["states"] = "triage" },
		"state not an object":    func(doc map[string]any) { doc["states"] = []any{"triage"} },
		"transitions not a list": func(doc map[string]any) { doc["transitions"] = map[string]any{} },
		"fields not objects":     func(doc map[string]any) { doc["fields_schema"] = []any{1} },
		"duplicate state": func(doc map[string]any) {
			doc["states"] = append(doc["states"].([]any), map[string]any{"name": "triage", "category": "open"})
		},
		"duplicate transition": func(doc map[string]any) {
			doc["transitions"] = append(doc["transitions"].([]any), map[string]any{"from": "fixing", "to": "verifying", "enforcement": "hard"})
		},
		"bad enforcement": func(doc map[string]any) {
			doc["transitions"] = []any{map[string]any{"from": "triage", "to": "fixing", "enforcement": "strict"}}
		},
		"missing type": func(doc map[string]any) { delete(doc, "type") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			doc := bugDoc()
			mutate(doc)
			_, err := ParseTemplate(doc)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestParseTemplateEnforcesCeilings(t *testing.T) {
	doc := bugDoc()
	states := make([]any, 0, MaxStates+1)
	for i := 0; i <= MaxStates; i++ {
		states = append(states, map[string]any{"name": fmt.Sprintf("s%d", i), "category": "open"})
	}
	doc["states"] = states
	_, err := ParseTemplate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the limit")

	doc = bugDoc()
	fields := make([]any, 0, MaxFields+1)
	for i := 0; i <= MaxFields; i++ {
		fields = append(fields, map[string]any{"name": fmt.Sprintf("f%d", i)})
	}
	doc["fields_schema"] = fields
	_, err = ParseTemplate(doc)
	require.Error(t, err)
}

func TestValidateReportsUnreachableStates(t *testing.T) {
	doc := bugDoc()
	doc["states"] = append(doc["states"].([]any), map[string]any{"name": "orphan", "category": "open"})
	tpl, err := ParseTemplate(doc)
	require.NoError(t, err)
	errs := Validate(tpl)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), `"orphan" is unreachable`)
}

func TestValidateStructuralInvariants(t *testing.T) {
	tpl := mustParse(t, bugDoc())

	bad := tpl
	bad.InitialState = "nope"
	assert.NotEmpty(t, Validate(bad))

	bad = tpl
	bad.Transitions = append([]TransitionDefinition(nil), tpl.Transitions...)
	bad.Transitions[0].RequiresFields = []string{"ghost"}
	assert.NotEmpty(t, Validate(bad))

	bad = tpl
	bad.States = append([]StateDefinition(nil), tpl.States...)
	bad.States[0].Category = "paused"
	assert.NotEmpty(t, Validate(bad))

	bad = tpl
	bad.States = append([]StateDefinition(nil), tpl.States...)
	bad.States[3].Name = "Closed"
	assert.NotEmpty(t, Validate(bad))
}

func TestWarningsFlagDeadEnds(t *testing.T) {
	doc := bugDoc()
	doc["transitions"] = []any{
		map[string]any{"from": "triage", "to": "fixing"},
		map[string]any{"from": "triage", "to": "verifying"},
		map[string]any{"from": "triage", "to": "closed"},
	}
	tpl := mustParse(t, doc)
	warnings := Warnings(tpl)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "fixing")
	assert.Contains(t, warnings[1], "verifying")
}

func TestValidateTransitionAbsentPair(t *testing.T) {
	reg := newBugRegistry(t)
	res := reg.ValidateTransition("bug", "triage", "closed", nil)
	assert.False(t, res.Allowed)
	assert.NotEmpty(t, res.Reason)

	res = reg.ValidateTransition("epic", "open", "done", nil)
	assert.False(t, res.Allowed)
}

func TestValidateTransitionHardGate(t *testing.T) {
	reg := newBugRegistry(t)
	for _, value := range []any{nil, "", "   \t"} {
		fields := map[string]any{"release_notes": "n/a"}
		if value != nil {
			fields["fix_verification"] = value
		}
		res := reg.ValidateTransition("bug", "verifying", "closed", fields)
		assert.False(t, res.Allowed)
		assert.Equal(t, []string{"fix_verification"}, res.MissingFields)
	}

	res := reg.ValidateTransition("bug", "verifying", "closed", map[string]any{"fix_verification": "manual test"})
	assert.False(t, res.Allowed)
	assert.Equal(t, []string{"release_notes"}, res.MissingFields)

	res = reg.ValidateTransition("bug", "verifying", "closed", map[string]any{"fix_verification": "manual test", "release_notes": "fixed"})
	assert.True(t, res.Allowed)
	assert.Empty(t, res.MissingFields)
}

func TestValidateTransitionSoftGateWarns(t *testing.T) {
	reg := newBugRegistry(t)
	res := reg.ValidateTransition("bug", "triage", "fixing", map[string]any{"root_cause": " "})
	assert.True(t, res.Allowed)
	assert.Equal(t, EnforcementSoft, res.Enforcement)
	assert.Equal(t, []string{"root_cause"}, res.MissingFields)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "root_cause")
}

func TestCheckGateIgnoresTableMembership(t *testing.T) {
	reg := newBugRegistry(t)
	res := reg.CheckGate("bug", "triage", "closed", nil)
	assert.False(t, res.Allowed)
	assert.Equal(t, []string{"release_notes"}, res.MissingFields)

	res = reg.CheckGate("bug", "triage", "closed", map[string]any{"release_notes": "x"})
	assert.True(t, res.Allowed)

	res = reg.CheckGate("bug", "verifying", "closed", map[string]any{"release_notes": "x"})
	assert.False(t, res.Allowed)
	assert.Equal(t, []string{"fix_verification"}, res.MissingFields)

	res = reg.CheckGate("bug", "triage", "nowhere", nil)
	assert.False(t, res.Allowed)
}

func TestValidTransitionsAnnotatesReadiness(t *testing.T) {
	reg := newBugRegistry(t)
	opts := reg.ValidTransitions("bug", "verifying", map[string]any{"fix_verification": "done"})
	require.Len(t, opts, 1)
	assert.Equal(t, "closed", opts[0].To)
	assert.Equal(t, domain.CategoryDone, opts[0].Category)
	assert.Equal(t, []string{"fix_verification", "release_notes"}, opts[0].RequiredFields)
	assert.Equal(t, []string{"release_notes"}, opts[0].MissingFields)
	assert.False(t, opts[0].Ready)

	opts = reg.ValidTransitions("bug", "fixing", nil)
	require.Len(t, opts, 1)
	assert.True(t, opts[0].Ready)

	assert.Empty(t, reg.ValidTransitions("bug", "closed", nil))
}

func TestRegistryLookups(t *testing.T) {
	reg := newBugRegistry(t)
	cat, ok := reg.Category("bug", "fixing")
	require.True(t, ok)
	assert.Equal(t, domain.CategoryWIP, cat)
	_, ok = reg.Category("bug", "ghost")
	assert.False(t, ok)

	initial, err := reg.InitialState("bug")
	require.NoError(t, err)
	assert.Equal(t, "triage", initial)

	_, err = reg.InitialState("epic")
	assert.ErrorIs(t, err, domain.ErrValidation)

	first, ok := reg.FirstState("bug", domain.CategoryDone)
	require.True(t, ok)
	assert.Equal(t, "closed", first)
	assert.Equal(t, []string{"fixing", "verifying"}, reg.States("bug", domain.CategoryWIP))
	assert.Equal(t, []string{"bug"}, reg.Types())
}

func TestRegisterRejectsInvalidTemplate(t *testing.T) {
	reg := NewRegistry(nil, nil)
	tpl := mustParse(t, bugDoc())
	tpl.InitialState = ""
	err := reg.Register(tpl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Empty(t, reg.Types())
}

type stubSource struct {
	res LoadResult
	err error
}

func (s *stubSource) Load() (LoadResult, error) { return s.res, s.err }

func TestReloadSwapsWholeSnapshot(t *testing.T) {
	tpl := mustParse(t, bugDoc())
	src := &stubSource{res: LoadResult{Templates: []TypeTemplate{tpl}}}
	reg := NewRegistry(src, nil)
	require.NoError(t, reg.Load())
	v1 := reg.Version()
	require.NoError(t, reg.Load())
	assert.Equal(t, v1, reg.Version(), "Load is idempotent")

	renamed := tpl
	renamed.Type = "defect"
	src.res = LoadResult{Templates: []TypeTemplate{renamed}}
	require.NoError(t, reg.Reload())
	assert.Greater(t, reg.Version(), v1)
	assert.Equal(t, []string{"defect"}, reg.Types())

	src.err = errors.New("disk gone")
	require.Error(t, reg.Reload())
	assert.Equal(t, []string{"defect"}, reg.Types(), "failed reload keeps the previous snapshot")

	broken := tpl
	broken.InitialState = "ghost"
	src.err = nil
	src.res = LoadResult{Templates: []TypeTemplate{broken}}
	require.Error(t, reg.Reload())
	assert.Equal(t, []string{"defect"}, reg.Types())
}

func TestRegisteredTypesSurviveReload(t *testing.T) {
	src := &stubSource{}
	reg := NewRegistry(src, nil)
	require.NoError(t, reg.Load())
	require.NoError(t, reg.Register(mustParse(t, bugDoc())))
	require.NoError(t, reg.Reload())
	assert.Equal(t, []string{"bug"}, reg.Types())
}
