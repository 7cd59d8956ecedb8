package engine

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"filigree/internal/domain"
	"filigree/internal/templates"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:/-]{0,63}$`)

func normalizeLabels(labels []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if !labelPattern.MatchString(l) {
			return nil, domain.Validation("malformed label %q", l)
		}
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out, nil
}

// normalizeFields checks incoming values against the type's schema and
// coerces string input (as typed on a command line) into the schema type.
// A nil value is kept so callers can clear a field.
func normalizeFields(tpl templates.TypeTemplate, fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		fs, ok := tpl.Field(name)
		if !ok {
			return nil, domain.Validation("unknown field %q for type %s", name, tpl.Type)
		}
		if v == nil {
			out[name] = nil
			continue
		}
		nv, err := coerceField(fs, v)
		if err != nil {
			return nil, err
		}
		out[name] = nv
	}
	return out, nil
}

func coerceField(fs templates.FieldSchema, v any) (any, error) {
	s, isString := v.(string)
	switch fs.Type {
	case templates.FieldText:
		if !isString {
			return nil, domain.Validation("field %s must be text", fs.Name)
		}
		return s, nil
	case templates.FieldEnum:
		if !isString {
			return nil, domain.Validation("field %s must be one of %s", fs.Name, strings.Join(fs.Options, ", "))
		}
		for _, opt := range fs.Options {
			if opt == s {
				return s, nil
			}
		}
		return nil, domain.Validation("field %s must be one of %s", fs.Name, strings.Join(fs.Options, ", "))
	case templates.FieldNumber:
		switch n := v.(type) {
		case int, int32, int64, float32, float64:
			return n, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, domain.Validation("field %s must be a number", fs.Name)
			}
			return f, nil
		}
		return nil, domain.Validation("field %s must be a number", fs.Name)
	case templates.FieldBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, domain.Validation("field %s must be true or false", fs.Name)
			}
			return parsed, nil
		}
		return nil, domain.Validation("field %s must be true or false", fs.Name)
	case templates.FieldDate:
		if !isString {
			return nil, domain.Validation("field %s must be a date", fs.Name)
		}
		if strings.TrimSpace(s) == "" {
			return s, nil
		}
		if _, err := time.Parse("2006-01-02", s); err == nil {
			return s, nil
		}
		if _, err := time.Parse(time.RFC3339, s); err == nil {
			return s, nil
		}
		return nil, domain.Validation("field %s must be a date (YYYY-MM-DD or RFC3339)", fs.Name)
	case templates.FieldList:
		switch l := v.(type) {
		case []any:
			return l, nil
		case []string:
			out := make([]any, 0, len(l))
			for _, item := range l {
				out = append(out, item)
			}
			return out, nil
		case string:
			var out []any
			for _, item := range strings.Split(l, ",") {
				if item = strings.TrimSpace(item); item != "" {
					out = append(out, item)
				}
			}
			return out, nil
		}
		return nil, domain.Validation("field %s must be a list", fs.Name)
	}
	return v, nil
}
