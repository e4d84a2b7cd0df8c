package query

import (
	"github.com/google/uuid"
)

// Operator is a predicate comparison operator understood by the query engine.
type Operator string

const (
	OpEq      Operator = "eq"
	OpIn      Operator = "in_"
	OpILike   Operator = "ilike"
	OpBetween Operator = "between"
	OpGte     Operator = "gte"
	OpLte     Operator = "lte"
)

// FilterType identifies the shape of a dashboard filter's value.
type FilterType string

const (
	FilterDateRange   FilterType = "date_range"
	FilterSelect      FilterType = "select"
	FilterMultiSelect FilterType = "multi_select"
	FilterText        FilterType = "text"
	FilterNumberRange FilterType = "number_range"
)

// TableRef identifies one table participating in a query.
type TableRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// JoinDesc describes a join between two query tables.
type JoinDesc struct {
	LeftTableID  string `json:"left_table_id"`
	LeftColumn   string `json:"left_column"`
	RightTableID string `json:"right_table_id"`
	RightColumn  string `json:"right_column"`
	JoinType     string `json:"join_type,omitempty"`
}

// ColumnDesc describes a selected column, optionally aggregated.
type ColumnDesc struct {
	TableID     string `json:"table_id"`
	Name        string `json:"name"`
	Aggregation string `json:"aggregation,omitempty"`
	Alias       string `json:"alias,omitempty"`
}

// OrderByDesc describes a sort key.
type OrderByDesc struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// FilterPredicate is one condition appended to a query's filter list.
type FilterPredicate struct {
	TableID  string      `json:"table_id"`
	Column   string      `json:"column"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// QueryDefinition is the executable description of a widget's data request.
// Compilation treats it as immutable: predicates are appended to a copy,
// never in place.
type QueryDefinition struct {
	Tables  []TableRef        `json:"tables"`
	Joins   []JoinDesc        `json:"joins,omitempty"`
	Columns []ColumnDesc      `json:"columns"`
	GroupBy []string          `json:"group_by,omitempty"`
	Filters []FilterPredicate `json:"filters,omitempty"`
	OrderBy []OrderByDesc     `json:"order_by,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// WithFilters returns a copy of the definition with the given predicates
// appended after the existing ones. The receiver's filter slice is never
// shared with the result.
func (q QueryDefinition) WithFilters(preds []FilterPredicate) QueryDefinition {
	if len(preds) == 0 {
		return q
	}
	merged := make([]FilterPredicate, 0, len(q.Filters)+len(preds))
	merged = append(merged, q.Filters...)
	merged = append(merged, preds...)
	q.Filters = merged
	return q
}

// QueryResult is the engine's response for one executed query.
type QueryResult struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	RowCount  int             `json:"row_count"`
	CachedAt  int64           `json:"cached_at,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

// Filter describes one dashboard-level filter: which field it targets and
// what value shape it accepts. It is the compiler-facing projection of the
// persisted DashboardFilter model.
type Filter struct {
	ID           uuid.UUID
	Type         FilterType
	Field        string
	Table        string
	Dynamic      bool
	DatePreset   string
	DefaultValue interface{}
}

// ValueMap holds the current value of each dashboard filter, keyed by
// filter id. Later writes overwrite: there is exactly one value per filter.
type ValueMap map[uuid.UUID]interface{}

// Clone returns a shallow copy of the map. Values themselves are treated
// as immutable by all consumers.
func (m ValueMap) Clone() ValueMap {
	out := make(ValueMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CrossFilterEvent records a user clicking a category in one widget's
// visualization; it is applied as a predicate to every other widget.
type CrossFilterEvent struct {
	SourceWidgetID uuid.UUID   `json:"source_widget_id"`
	Column         string      `json:"column"`
	Table          string      `json:"table,omitempty"`
	Value          interface{} `json:"value"`
}

// DateRange is the concrete value of a date_range filter.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// NumberRange is the value of a number_range filter. A nil bound means
// unbounded on that side.
type NumberRange struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}
