package types

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq        CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq     CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt        CommonFilterOperator = "lt"
	CommonFilterOperatorLte       CommonFilterOperator = "lte"
	CommonFilterOperatorGt        CommonFilterOperator = "gt"
	CommonFilterOperatorGte       CommonFilterOperator = "gte"
	CommonFilterOperatorDateRange CommonFilterOperator = "date_range"
	CommonFilterOperatorRange     CommonFilterOperator = "range"
	CommonFilterOperatorIn        CommonFilterOperator = "in"
	CommonFilterOperatorIsNull    CommonFilterOperator = "is_null"
)

// CommonFilter is a column predicate supplied by admin list endpoints.
// Field names come from the client, so callers must Validate them against
// an allowlist before the filter reaches a query.
type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
}

// Validate checks the operator, the arity of Values and that Field is one of allowed.
func (f *CommonFilter) Validate(allowed []string) error {
	if !lo.Contains(allowed, f.Field) {
		return fmt.Errorf("filter field %q is not allowed", f.Field)
	}
	switch f.Operator {
	case CommonFilterOperatorIsNull:
		return nil
	case CommonFilterOperatorRange, CommonFilterOperatorDateRange:
		if len(f.Values) != 2 {
			return fmt.Errorf("filter %q: %s needs exactly two values", f.Field, f.Operator)
		}
	case CommonFilterOperatorEq, CommonFilterOperatorNotEq, CommonFilterOperatorLt,
		CommonFilterOperatorLte, CommonFilterOperatorGt, CommonFilterOperatorGte, CommonFilterOperatorIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("filter %q: %s needs a value", f.Field, f.Operator)
		}
	default:
		return fmt.Errorf("filter %q: unknown operator %q", f.Field, f.Operator)
	}
	return nil
}

// Build constructs a GORM expression.
func (f *CommonFilter) Build(builder clause.Builder) {
	if f.Operator == CommonFilterOperatorIsNull {
		clause.Eq{Column: clause.Column{Name: f.Field}, Value: nil}.Build(builder)
		return
	}
	if len(f.Values) == 0 {
		return
	}

	column := clause.Column{Name: f.Field}
	value := f.Values[0]

	switch f.Operator {
	case CommonFilterOperatorEq:
		// metadata->>'key' style fields are emitted raw; Validate keeps them to the allowlist.
		if strings.Contains(f.Field, "->") {
			clause.Expr{SQL: fmt.Sprintf("%s = ?", f.Field), Vars: []any{value}}.Build(builder)
		} else {
			clause.Eq{Column: column, Value: value}.Build(builder)
		}
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorRange, CommonFilterOperatorDateRange:
		if len(f.Values) < 2 {
			return
		}
		clause.And(clause.Gte{Column: column, Value: f.Values[0]}, clause.Lt{Column: column, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: column, Values: f.Values}.Build(builder)
	}
}

// ValidateFilters runs Validate over every filter and returns the first failure.
func ValidateFilters(filters []CommonFilter, allowed []string) error {
	for i := range filters {
		if err := filters[i].Validate(allowed); err != nil {
			return err
		}
	}
	return nil
}
