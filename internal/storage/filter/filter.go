// Package filter provides AIP-160 filter expression parsing and SQL translation
// for roster and ledger listings.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// ErrInvalid wraps every rejection of a caller-provided filter expression,
// so surfaces can separate bad filters from infrastructure failures.
var ErrInvalid = errors.New("invalid filter expression")

// SQLCondition represents a SQL WHERE clause fragment with parameters.
type SQLCondition struct {
	// Clause is the SQL WHERE clause (e.g., "grade = ?").
	Clause string
	// Params are the positional parameters for the clause.
	Params []any
}

// LearnerDeclarations returns the field declarations for learner filtering.
func LearnerDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("id", filtering.TypeString),
		filtering.DeclareIdent("given_name", filtering.TypeString),
		filtering.DeclareIdent("family_name", filtering.TypeString),
		filtering.DeclareIdent("grade", filtering.TypeString),
		filtering.DeclareIdent("area", filtering.TypeString),
	)
}

// EventDeclarations returns the field declarations for attendance event filtering.
func EventDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("learner_id", filtering.TypeString),
		filtering.DeclareIdent("direction", filtering.TypeString),
		filtering.DeclareIdent("source", filtering.TypeString),
		filtering.DeclareIdent("occurred_at", filtering.TypeTimestamp),
	)
}

// learnerColumns maps learner filter fields to SQL column names.
var learnerColumns = map[string]string{
	"id":          "id",
	"given_name":  "given_name",
	"family_name": "family_name",
	"grade":       "grade",
	"area":        "area",
}

// eventColumns maps event filter fields to SQL column names.
var eventColumns = map[string]string{
	"learner_id":  "learner_id",
	"direction":   "direction",
	"source":      "source",
	"occurred_at": "occurred_at",
}

// ParseLearnerFilter parses an AIP-160 filter expression over learner fields
// and returns a SQL condition. Returns an empty condition for an empty filter.
func ParseLearnerFilter(filterStr string) (SQLCondition, error) {
	return parse(filterStr, LearnerDeclarations, learnerColumns)
}

// ParseEventFilter parses an AIP-160 filter expression over event fields and
// returns a SQL condition. Timestamp values translate to unix millisecond
// parameters to match ledger column storage.
func ParseEventFilter(filterStr string) (SQLCondition, error) {
	return parse(filterStr, EventDeclarations, eventColumns)
}

func parse(filterStr string, decls func() (*filtering.Declarations, error), columns map[string]string) (SQLCondition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return SQLCondition{}, nil
	}

	declarations, err := decls()
	if err != nil {
		return SQLCondition{}, fmt.Errorf("create declarations: %w", err)
	}

	parsed, err := filtering.ParseFilterString(filterStr, declarations)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	tr := translator{columns: columns}
	condition, err := tr.translateExpr(parsed.CheckedExpr.Expr)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return condition, nil
}

// translator converts a checked CEL expression into a SQL condition using a
// field-to-column mapping.
type translator struct {
	columns map[string]string
}

func (tr translator) translateExpr(e *expr.Expr) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, nil
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return tr.translateCall(kind.CallExpr)
	default:
		return SQLCondition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func (tr translator) translateCall(call *expr.Expr_Call) (SQLCondition, error) {
	switch call.Function {
	case "_&&_", "AND":
		return tr.translateLogical(call.Args, "AND")
	case "_||_", "OR":
		return tr.translateLogical(call.Args, "OR")
	case "_==_", "=":
		return tr.translateComparison(call.Args, "=")
	case "_!=_", "!=":
		return tr.translateComparison(call.Args, "!=")
	case "_<_", "<":
		return tr.translateComparison(call.Args, "<")
	case "_<=_", "<=":
		return tr.translateComparison(call.Args, "<=")
	case "_>_", ">":
		return tr.translateComparison(call.Args, ">")
	case "_>=_", ">=":
		return tr.translateComparison(call.Args, ">=")
	default:
		return SQLCondition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func (tr translator) translateLogical(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("%s requires 2 arguments", op)
	}

	left, err := tr.translateExpr(args[0])
	if err != nil {
		return SQLCondition{}, err
	}

	right, err := tr.translateExpr(args[1])
	if err != nil {
		return SQLCondition{}, err
	}

	return SQLCondition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, op, right.Clause),
		Params: append(left.Params, right.Params...),
	}, nil
}

func (tr translator) translateComparison(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}

	field, err := extractFieldName(args[0])
	if err != nil {
		return SQLCondition{}, err
	}

	column, ok := tr.columns[field]
	if !ok {
		return SQLCondition{}, fmt.Errorf("unknown field: %s", field)
	}

	value, err := extractValue(args[1])
	if err != nil {
		return SQLCondition{}, err
	}

	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", column, op),
		Params: []any{value},
	}, nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		return extractConstValue(kind.ConstExpr)
	case *expr.Expr_CallExpr:
		// Handle timestamp("...") function calls
		if kind.CallExpr.Function == "timestamp" && len(kind.CallExpr.Args) == 1 {
			return extractTimestampValue(kind.CallExpr.Args[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func extractConstValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}

	switch kind := c.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return kind.Uint64Value, nil
	case *expr.Constant_DoubleValue:
		return kind.DoubleValue, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}

// extractTimestampValue converts timestamp("RFC3339") arguments to unix
// milliseconds, the ledger's occurred_at column representation.
func extractTimestampValue(e *expr.Expr) (int64, error) {
	if e == nil {
		return 0, fmt.Errorf("nil timestamp argument")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		strVal, ok := kind.ConstExpr.ConstantKind.(*expr.Constant_StringValue)
		if !ok {
			return 0, fmt.Errorf("timestamp argument must be a string")
		}
		t, err := time.Parse(time.RFC3339, strVal.StringValue)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, strVal.StringValue)
			if err != nil {
				return 0, fmt.Errorf("invalid timestamp format: %s", strVal.StringValue)
			}
		}
		return t.UTC().UnixMilli(), nil
	default:
		return 0, fmt.Errorf("timestamp argument must be a constant string")
	}
}
