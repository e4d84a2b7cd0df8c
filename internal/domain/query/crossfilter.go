package query

import (
	"github.com/google/uuid"
)

// CompileCrossFilters appends predicates derived from cross-widget click
// events to a copy of the query. Events originating from the widget being
// compiled are excluded, so a widget never filters itself. Predicates land
// after any dashboard-filter predicates already on the query.
//
// When no event applies, the query is returned unchanged, so callers can
// compare against prior state without allocating.
func CompileCrossFilters(q QueryDefinition, events []CrossFilterEvent, widgetID uuid.UUID) QueryDefinition {
	if len(events) == 0 {
		return q
	}

	var preds []FilterPredicate
	for _, e := range events {
		if e.SourceWidgetID == widgetID {
			continue
		}
		p, ok := crossFilterPredicate(q, e)
		if !ok {
			continue
		}
		preds = append(preds, p)
	}

	return q.WithFilters(preds)
}

func crossFilterPredicate(q QueryDefinition, e CrossFilterEvent) (FilterPredicate, bool) {
	tableID := resolveTableID(q, e.Table)

	if items, ok := asSlice(e.Value); ok {
		if len(items) == 0 {
			return FilterPredicate{}, false
		}
		return FilterPredicate{
			TableID:  tableID,
			Column:   e.Column,
			Operator: OpIn,
			Value:    items,
		}, true
	}

	if e.Value == nil {
		return FilterPredicate{}, false
	}
	if s, ok := asString(e.Value); ok && s == "" {
		return FilterPredicate{}, false
	}
	return FilterPredicate{
		TableID:  tableID,
		Column:   e.Column,
		Operator: OpEq,
		Value:    e.Value,
	}, true
}
