package query

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCompileCrossFiltersSelfExclusion(t *testing.T) {
	source := uuid.New()
	other := uuid.New()
	event := CrossFilterEvent{SourceWidgetID: source, Column: "region", Value: "US"}

	// The widget that emitted the click gains nothing.
	own := CompileCrossFilters(baseQuery(), []CrossFilterEvent{event}, source)
	assert.Len(t, own.Filters, 1)

	// Every other widget gains the eq predicate.
	theirs := CompileCrossFilters(baseQuery(), []CrossFilterEvent{event}, other)
	assert.Len(t, theirs.Filters, 2)
	assert.Equal(t, FilterPredicate{
		TableID:  "t1",
		Column:   "region",
		Operator: OpEq,
		Value:    "US",
	}, theirs.Filters[1])
}

func TestCompileCrossFiltersValueShapes(t *testing.T) {
	source := uuid.New()
	target := uuid.New()

	tests := []struct {
		name     string
		value    interface{}
		expected *FilterPredicate
	}{
		{
			name:  "array value compiles to in_",
			value: []string{"US", "EU"},
			expected: &FilterPredicate{
				TableID: "t1", Column: "region", Operator: OpIn,
				Value: []interface{}{"US", "EU"},
			},
		},
		{
			name:  "scalar value compiles to eq",
			value: "US",
			expected: &FilterPredicate{
				TableID: "t1", Column: "region", Operator: OpEq, Value: "US",
			},
		},
		{
			name:  "numeric scalar compiles to eq",
			value: 42.0,
			expected: &FilterPredicate{
				TableID: "t1", Column: "region", Operator: OpEq, Value: 42.0,
			},
		},
		{"empty array is skipped", []string{}, nil},
		{"nil value is skipped", nil, nil},
		{"empty string is skipped", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []CrossFilterEvent{{SourceWidgetID: source, Column: "region", Value: tt.value}}
			compiled := CompileCrossFilters(baseQuery(), events, target)
			if tt.expected == nil {
				assert.Len(t, compiled.Filters, 1)
				return
			}
			assert.Len(t, compiled.Filters, 2)
			assert.Equal(t, *tt.expected, compiled.Filters[1])
		})
	}
}

func TestCompileCrossFiltersTableResolution(t *testing.T) {
	event := CrossFilterEvent{
		SourceWidgetID: uuid.New(),
		Column:         "country",
		Table:          "customers",
		Value:          "DE",
	}
	compiled := CompileCrossFilters(baseQuery(), []CrossFilterEvent{event}, uuid.New())
	assert.Equal(t, "t2", compiled.Filters[1].TableID)
}

func TestCompileCrossFiltersEmptyEventsReturnsSameQuery(t *testing.T) {
	q := baseQuery()
	compiled := CompileCrossFilters(q, nil, uuid.New())
	assert.Equal(t, q, compiled)

	// Events that all skip also leave the query untouched.
	self := uuid.New()
	compiled = CompileCrossFilters(q, []CrossFilterEvent{
		{SourceWidgetID: self, Column: "region", Value: "US"},
	}, self)
	assert.Equal(t, q, compiled)
}

func TestMergeOrderDashboardThenCross(t *testing.T) {
	filter := Filter{ID: uuid.New(), Type: FilterSelect, Field: "status"}
	values := ValueMap{filter.ID: "active"}
	event := CrossFilterEvent{SourceWidgetID: uuid.New(), Column: "region", Value: "US"}

	compiled := CompileFilters(baseQuery(), []Filter{filter}, values, nil)
	compiled = CompileCrossFilters(compiled, []CrossFilterEvent{event}, uuid.New())

	assert.Len(t, compiled.Filters, 3)
	assert.Equal(t, "status", compiled.Filters[0].Column, "base predicate first")
	assert.Equal(t, OpEq, compiled.Filters[1].Operator)
	assert.Equal(t, "status", compiled.Filters[1].Column, "dashboard predicate second")
	assert.Equal(t, "region", compiled.Filters[2].Column, "cross-filter predicate last")
}
