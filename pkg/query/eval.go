package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/logflow/ccm/internal/timeparse"
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
)

// binding maps each kind in scope to its entity. A kind present with a nil
// value is in scope but unbound for this candidate (an event's Object when
// the event has no related objects).
type binding map[Kind]any

// evaluator interprets expressions against bindings. It memoizes entity
// serializations for the duration of one query.
type evaluator struct {
	serialized map[any]map[string]any
}

func newEvaluator() *evaluator {
	return &evaluator{serialized: make(map[any]map[string]any)}
}

func (ev *evaluator) eval(e Expr, b binding) (bool, error) {
	switch x := e.(type) {
	case *BinaryExpr:
		left, err := ev.eval(x.Left, b)
		if err != nil {
			return false, err
		}
		switch x.Op {
		case OpAnd:
			if !left {
				return false, nil
			}
		case OpOr:
			if left {
				return true, nil
			}
		}
		return ev.eval(x.Right, b)
	case *NotExpr:
		v, err := ev.eval(x.X, b)
		return !v, err
	case *Compare:
		l, err := ev.operand(x.Left, b)
		if err != nil {
			return false, err
		}
		r, err := ev.operand(x.Right, b)
		if err != nil {
			return false, err
		}
		return compare(x.Op, l, r)
	default:
		return false, evalError("unsupported expression %T", e)
	}
}

func (ev *evaluator) operand(o Operand, b binding) (any, error) {
	switch x := o.(type) {
	case Literal:
		return x.Value, nil
	case FieldRef:
		return ev.field(x, b)
	default:
		return nil, evalError("unsupported operand %T", o)
	}
}

// field resolves a serialized field first, then an attribute key.
func (ev *evaluator) field(f FieldRef, b binding) (any, error) {
	ent, inScope := b[f.Kind]
	if !inScope {
		return nil, evalError("%s is not in scope", f.Kind).WithContext("field", f.String())
	}
	if ent == nil {
		return nil, evalError("%s is unbound", f.Kind).WithContext("field", f.String())
	}

	if f.Field != "attributes" {
		if v, ok := ev.serialize(ent)[f.Field]; ok {
			return v, nil
		}
	}
	if v, ok := attributesOf(ent)[f.Field]; ok {
		return v, nil
	}
	return nil, evalError("unknown field %q", f.Field).WithContext("kind", string(f.Kind))
}

func (ev *evaluator) serialize(ent any) map[string]any {
	if m, ok := ev.serialized[ent]; ok {
		return m
	}
	var m map[string]any
	switch x := ent.(type) {
	case *ccm.Event:
		m = x.Serialize()
	case *ccm.Object:
		m = x.Serialize()
	case *ccm.Activity:
		m = x.Serialize()
	case *ccm.DataSource:
		m = x.Serialize()
	}
	ev.serialized[ent] = m
	return m
}

func attributesOf(ent any) ccm.Attributes {
	switch x := ent.(type) {
	case *ccm.Event:
		return x.Attributes
	case *ccm.Object:
		return x.Attributes
	case *ccm.Activity:
		return x.Attributes
	case *ccm.DataSource:
		return x.Attributes
	}
	return nil
}

// compare applies op to two resolved values. NULL supports only = and !=.
// Integers and floats compare with each other. A timestamp compares with a
// timestamp or an ISO-8601 string. Booleans support only = and !=.
func compare(op CompareOp, l, r any) (bool, error) {
	if l == nil || r == nil {
		switch op {
		case OpEq:
			return l == nil && r == nil, nil
		case OpNe:
			return !(l == nil && r == nil), nil
		default:
			return false, evalError("operator %s is undefined for NULL", op)
		}
	}

	if lt, ok := l.(time.Time); ok {
		rt, err := asTime(r)
		if err != nil {
			return false, err
		}
		return order(op, lt.Compare(rt)), nil
	}
	if rt, ok := r.(time.Time); ok {
		lt, err := asTime(l)
		if err != nil {
			return false, err
		}
		return order(op, lt.Compare(rt)), nil
	}

	if lf, ok := asNumber(l); ok {
		rf, ok := asNumber(r)
		if !ok {
			return false, mismatch(l, r)
		}
		// Compare int64 pairs exactly.
		if li, ok := l.(int64); ok {
			if ri, ok := r.(int64); ok {
				return order(op, cmpInt(li, ri)), nil
			}
		}
		return order(op, cmpFloat(lf, rf)), nil
	}

	switch lv := l.(type) {
	case string:
		rv, ok := r.(string)
		if !ok {
			return false, mismatch(l, r)
		}
		return order(op, strings.Compare(lv, rv)), nil
	case bool:
		rv, ok := r.(bool)
		if !ok {
			return false, mismatch(l, r)
		}
		switch op {
		case OpEq:
			return lv == rv, nil
		case OpNe:
			return lv != rv, nil
		default:
			return false, evalError("operator %s is undefined for booleans", op)
		}
	}
	return false, mismatch(l, r)
}

func order(op CompareOp, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	default:
		panic("query: invalid CompareOp")
	}
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		t, err := timeparse.Parse(x)
		if err != nil {
			return time.Time{}, evalError("cannot compare timestamp with %q", x)
		}
		return t, nil
	}
	return time.Time{}, evalError("cannot compare timestamp with %s", typeName(v))
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func mismatch(l, r any) error {
	return evalError("cannot compare %s with %s", typeName(l), typeName(r))
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int64, float64:
		return "number"
	case bool:
		return "boolean"
	case time.Time:
		return "timestamp"
	case nil:
		return "NULL"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func evalError(format string, args ...any) *errors.CCMError {
	return errors.Newf(errors.CodeQueryEvaluation, format, args...)
}
