package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommonFilterValidate(t *testing.T) {
	allowed := []string{"user_id", "created_at", "type"}

	cases := []struct {
		name    string
		filter  CommonFilter
		wantErr bool
	}{
		{"eq ok", CommonFilter{Field: "user_id", Operator: CommonFilterOperatorEq, Values: []any{"u1"}}, false},
		{"field not allowed", CommonFilter{Field: "password", Operator: CommonFilterOperatorEq, Values: []any{"x"}}, true},
		{"injection attempt", CommonFilter{Field: "user_id; drop table users", Operator: CommonFilterOperatorEq, Values: []any{"x"}}, true},
		{"range needs two", CommonFilter{Field: "created_at", Operator: CommonFilterOperatorRange, Values: []any{1}}, true},
		{"range ok", CommonFilter{Field: "created_at", Operator: CommonFilterOperatorDateRange, Values: []any{1, 2}}, false},
		{"missing value", CommonFilter{Field: "type", Operator: CommonFilterOperatorIn}, true},
		{"is null takes no value", CommonFilter{Field: "type", Operator: CommonFilterOperatorIsNull}, false},
		{"unknown operator", CommonFilter{Field: "type", Operator: "like", Values: []any{"%"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.filter.Validate(allowed)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateFiltersStopsAtFirstError(t *testing.T) {
	err := ValidateFilters([]CommonFilter{
		{Field: "type", Operator: CommonFilterOperatorEq, Values: []any{"refund"}},
		{Field: "nope", Operator: CommonFilterOperatorEq, Values: []any{"x"}},
	}, []string{"type"})
	require.ErrorContains(t, err, "nope")
}
