package query

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func baseQuery() QueryDefinition {
	return QueryDefinition{
		Tables: []TableRef{
			{ID: "t1", Name: "orders"},
			{ID: "t2", Name: "customers"},
		},
		Columns: []ColumnDesc{
			{TableID: "t1", Name: "amount", Aggregation: "sum"},
		},
		Filters: []FilterPredicate{
			{TableID: "t1", Column: "status", Operator: OpEq, Value: "paid"},
		},
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestCompileFilters(t *testing.T) {
	regionFilter := Filter{ID: uuid.New(), Type: FilterMultiSelect, Field: "region"}
	statusFilter := Filter{ID: uuid.New(), Type: FilterSelect, Field: "status"}
	searchFilter := Filter{ID: uuid.New(), Type: FilterText, Field: "description"}
	createdFilter := Filter{ID: uuid.New(), Type: FilterDateRange, Field: "created_at"}
	amountFilter := Filter{ID: uuid.New(), Type: FilterNumberRange, Field: "amount"}

	tests := []struct {
		name     string
		filters  []Filter
		values   ValueMap
		expected []FilterPredicate
	}{
		{
			name:    "multi_select with selection compiles to in_",
			filters: []Filter{regionFilter},
			values:  ValueMap{regionFilter.ID: []string{"US", "EU"}},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "region", Operator: OpIn, Value: []interface{}{"US", "EU"}},
			},
		},
		{
			name:     "multi_select empty selection means match all",
			filters:  []Filter{regionFilter},
			values:   ValueMap{regionFilter.ID: []string{}},
			expected: nil,
		},
		{
			name:    "select compiles to eq",
			filters: []Filter{statusFilter},
			values:  ValueMap{statusFilter.ID: "active"},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "status", Operator: OpEq, Value: "active"},
			},
		},
		{
			name:     "select empty string is a no-op",
			filters:  []Filter{statusFilter},
			values:   ValueMap{statusFilter.ID: ""},
			expected: nil,
		},
		{
			name:    "text compiles to ilike with wildcards",
			filters: []Filter{searchFilter},
			values:  ValueMap{searchFilter.ID: "invoice"},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "description", Operator: OpILike, Value: "%invoice%"},
			},
		},
		{
			name:     "text empty string is a no-op",
			filters:  []Filter{searchFilter},
			values:   ValueMap{searchFilter.ID: ""},
			expected: nil,
		},
		{
			name:    "date_range compiles to between",
			filters: []Filter{createdFilter},
			values:  ValueMap{createdFilter.ID: DateRange{Start: "2024-01-01", End: "2024-01-31"}},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "created_at", Operator: OpBetween, Value: []interface{}{"2024-01-01", "2024-01-31"}},
			},
		},
		{
			name:    "date_range wire shape from JSON map",
			filters: []Filter{createdFilter},
			values: ValueMap{createdFilter.ID: map[string]interface{}{
				"start": "2024-01-01", "end": "2024-01-31",
			}},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "created_at", Operator: OpBetween, Value: []interface{}{"2024-01-01", "2024-01-31"}},
			},
		},
		{
			name:     "date_range unresolved preset string is a no-op",
			filters:  []Filter{createdFilter},
			values:   ValueMap{createdFilter.ID: "last_7_days"},
			expected: nil,
		},
		{
			name:    "number_range with both bounds compiles to between",
			filters: []Filter{amountFilter},
			values:  ValueMap{amountFilter.ID: NumberRange{Min: floatPtr(10), Max: floatPtr(20)}},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "amount", Operator: OpBetween, Value: []interface{}{10.0, 20.0}},
			},
		},
		{
			name:    "number_range with only min compiles to gte",
			filters: []Filter{amountFilter},
			values:  ValueMap{amountFilter.ID: NumberRange{Min: floatPtr(10)}},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "amount", Operator: OpGte, Value: 10.0},
			},
		},
		{
			name:    "number_range with only max compiles to lte",
			filters: []Filter{amountFilter},
			values:  ValueMap{amountFilter.ID: NumberRange{Max: floatPtr(20)}},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "amount", Operator: OpLte, Value: 20.0},
			},
		},
		{
			name:     "number_range with no bounds is a no-op",
			filters:  []Filter{amountFilter},
			values:   ValueMap{amountFilter.ID: NumberRange{}},
			expected: nil,
		},
		{
			name:     "nil value is a no-op",
			filters:  []Filter{statusFilter},
			values:   ValueMap{statusFilter.ID: nil},
			expected: nil,
		},
		{
			name:     "absent value is a no-op",
			filters:  []Filter{statusFilter},
			values:   ValueMap{},
			expected: nil,
		},
		{
			name: "unknown filter type is skipped",
			filters: []Filter{
				{ID: uuid.New(), Type: FilterType("geo_radius"), Field: "location"},
				statusFilter,
			},
			values: ValueMap{statusFilter.ID: "active"},
			expected: []FilterPredicate{
				{TableID: "t1", Column: "status", Operator: OpEq, Value: "active"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := baseQuery()
			compiled := CompileFilters(base, tt.filters, tt.values, nil)

			// Base filters come first, untouched.
			assert.Equal(t, base.Filters[0], compiled.Filters[0])
			if len(tt.expected) == 0 {
				assert.Empty(t, compiled.Filters[1:])
			} else {
				assert.Equal(t, tt.expected, compiled.Filters[1:])
			}
		})
	}
}

func TestCompileFiltersTableResolution(t *testing.T) {
	filter := Filter{ID: uuid.New(), Type: FilterSelect, Field: "country", Table: "customers"}
	values := ValueMap{filter.ID: "DE"}

	compiled := CompileFilters(baseQuery(), []Filter{filter}, values, nil)
	assert.Equal(t, "t2", compiled.Filters[1].TableID, "filter table should resolve by name")

	// Unmatched table falls back to the first query table.
	filter.Table = "unknown"
	compiled = CompileFilters(baseQuery(), []Filter{filter}, values, nil)
	assert.Equal(t, "t1", compiled.Filters[1].TableID)
}

func TestCompileFiltersDoesNotMutateBase(t *testing.T) {
	base := baseQuery()
	filter := Filter{ID: uuid.New(), Type: FilterSelect, Field: "status"}
	values := ValueMap{filter.ID: "active"}

	compiled := CompileFilters(base, []Filter{filter}, values, nil)

	assert.Len(t, base.Filters, 1, "base query must not gain predicates")
	assert.Len(t, compiled.Filters, 2)
}

func TestCompileFiltersDeterministic(t *testing.T) {
	filters := []Filter{
		{ID: uuid.New(), Type: FilterSelect, Field: "status"},
		{ID: uuid.New(), Type: FilterMultiSelect, Field: "region"},
	}
	values := ValueMap{
		filters[0].ID: "active",
		filters[1].ID: []string{"US"},
	}

	first := CompileFilters(baseQuery(), filters, values, nil)
	second := CompileFilters(baseQuery(), filters, values, nil)
	assert.Equal(t, first, second)
}

func TestEmptyValue(t *testing.T) {
	tests := []struct {
		name     string
		ftype    FilterType
		value    interface{}
		expected bool
	}{
		{"nil is empty for any type", FilterDateRange, nil, true},
		{"empty string select", FilterSelect, "", true},
		{"non-empty select", FilterSelect, "a", false},
		{"empty multi_select", FilterMultiSelect, []string{}, true},
		{"non-empty multi_select", FilterMultiSelect, []string{"US"}, false},
		{"empty text", FilterText, "", true},
		{"unbounded number_range", FilterNumberRange, NumberRange{}, true},
		{"bounded number_range", FilterNumberRange, NumberRange{Min: floatPtr(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EmptyValue(tt.ftype, tt.value))
		})
	}
}
