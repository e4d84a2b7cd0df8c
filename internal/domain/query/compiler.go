package query

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// CompileFilters turns the current dashboard filter values into predicates
// appended to a copy of the base query. It is pure: no I/O, deterministic,
// and the base query is never mutated.
//
// Predicate order is fixed: the base query's own filters first, then one
// predicate per dashboard filter in the order the filters are defined.
// Filters whose value is absent or the type's empty sentinel compile to
// nothing. Unknown filter types are skipped with a warning.
func CompileFilters(base QueryDefinition, filters []Filter, values ValueMap, log *logrus.Logger) QueryDefinition {
	if len(filters) == 0 || len(values) == 0 {
		return base
	}

	var preds []FilterPredicate
	for _, f := range filters {
		value, ok := values[f.ID]
		if !ok || value == nil {
			continue
		}

		tableID := resolveTableID(base, f.Table)

		switch f.Type {
		case FilterDateRange:
			if p, ok := compileDateRange(f, tableID, value); ok {
				preds = append(preds, p)
			}
		case FilterSelect:
			if s, ok := asString(value); ok && s != "" {
				preds = append(preds, FilterPredicate{
					TableID:  tableID,
					Column:   f.Field,
					Operator: OpEq,
					Value:    s,
				})
			}
		case FilterMultiSelect:
			// An empty selection means "match all", not "match none".
			if items, ok := asSlice(value); ok && len(items) > 0 {
				preds = append(preds, FilterPredicate{
					TableID:  tableID,
					Column:   f.Field,
					Operator: OpIn,
					Value:    items,
				})
			}
		case FilterText:
			if s, ok := asString(value); ok && s != "" {
				preds = append(preds, FilterPredicate{
					TableID:  tableID,
					Column:   f.Field,
					Operator: OpILike,
					Value:    "%" + s + "%",
				})
			}
		case FilterNumberRange:
			if p, ok := compileNumberRange(f, tableID, value); ok {
				preds = append(preds, p)
			}
		default:
			if log != nil {
				log.WithFields(logrus.Fields{
					"filter_id":   f.ID,
					"filter_type": f.Type,
					"field":       f.Field,
				}).Warn("Skipping filter with unknown type")
			}
		}
	}

	return base.WithFilters(preds)
}

func compileDateRange(f Filter, tableID string, value interface{}) (FilterPredicate, bool) {
	// A bare preset string ("last_7_days") is resolved to a concrete range
	// upstream; an unresolved preset reaching the compiler is a no-op.
	if _, isString := value.(string); isString {
		return FilterPredicate{}, false
	}
	r, ok := asDateRange(value)
	if !ok || r.Start == "" || r.End == "" {
		return FilterPredicate{}, false
	}
	return FilterPredicate{
		TableID:  tableID,
		Column:   f.Field,
		Operator: OpBetween,
		Value:    []interface{}{r.Start, r.End},
	}, true
}

func compileNumberRange(f Filter, tableID string, value interface{}) (FilterPredicate, bool) {
	r, ok := asNumberRange(value)
	if !ok {
		return FilterPredicate{}, false
	}
	switch {
	case r.Min != nil && r.Max != nil:
		return FilterPredicate{
			TableID:  tableID,
			Column:   f.Field,
			Operator: OpBetween,
			Value:    []interface{}{*r.Min, *r.Max},
		}, true
	case r.Min != nil:
		return FilterPredicate{
			TableID:  tableID,
			Column:   f.Field,
			Operator: OpGte,
			Value:    *r.Min,
		}, true
	case r.Max != nil:
		return FilterPredicate{
			TableID:  tableID,
			Column:   f.Field,
			Operator: OpLte,
			Value:    *r.Max,
		}, true
	default:
		return FilterPredicate{}, false
	}
}

// resolveTableID maps a filter's declared table onto one of the query's
// tables, falling back to the query's first table.
func resolveTableID(q QueryDefinition, table string) string {
	if table != "" {
		for _, t := range q.Tables {
			if t.ID == table || t.Name == table {
				return t.ID
			}
		}
	}
	if len(q.Tables) > 0 {
		return q.Tables[0].ID
	}
	return ""
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asSlice accepts the typed and the JSON-decoded representations of a
// multi-value selection.
func asSlice(v interface{}) ([]interface{}, bool) {
	switch items := v.(type) {
	case []interface{}:
		return items, true
	case []string:
		out := make([]interface{}, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func asDateRange(v interface{}) (DateRange, bool) {
	switch r := v.(type) {
	case DateRange:
		return r, true
	case *DateRange:
		if r == nil {
			return DateRange{}, false
		}
		return *r, true
	case map[string]interface{}:
		start, _ := r["start"].(string)
		end, _ := r["end"].(string)
		return DateRange{Start: start, End: end}, true
	default:
		return DateRange{}, false
	}
}

func asNumberRange(v interface{}) (NumberRange, bool) {
	switch r := v.(type) {
	case NumberRange:
		return r, true
	case *NumberRange:
		if r == nil {
			return NumberRange{}, false
		}
		return *r, true
	case map[string]interface{}:
		out := NumberRange{}
		if min, ok := asFloat(r["min"]); ok {
			out.Min = &min
		}
		if max, ok := asFloat(r["max"]); ok {
			out.Max = &max
		}
		return out, true
	default:
		return NumberRange{}, false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// EmptyValue reports whether a value is the empty sentinel for the given
// filter type, meaning the filter is currently a no-op.
func EmptyValue(t FilterType, v interface{}) bool {
	if v == nil {
		return true
	}
	switch t {
	case FilterSelect, FilterText:
		s, ok := asString(v)
		return ok && s == ""
	case FilterMultiSelect:
		items, ok := asSlice(v)
		return ok && len(items) == 0
	case FilterNumberRange:
		r, ok := asNumberRange(v)
		return ok && r.Min == nil && r.Max == nil
	default:
		return false
	}
}

func (o Operator) String() string { return string(o) }

func (p FilterPredicate) String() string {
	return fmt.Sprintf("%s.%s %s %v", p.TableID, p.Column, p.Operator, p.Value)
}
