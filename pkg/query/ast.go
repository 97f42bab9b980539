package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/logflow/ccm/internal/timeparse"
	"github.com/logflow/ccm/pkg/ccm"
)

// Kind names a queryable collection.
type Kind string

const (
	KindEvent             Kind = "Event"
	KindProcessEvent      Kind = "ProcessEvent"
	KindIoTEvent          Kind = "IoTEvent"
	KindObservation       Kind = "Observation"
	KindObject            Kind = "Object"
	KindActivity          Kind = "Activity"
	KindDataSource        Kind = "DataSource"
	KindInformationSystem Kind = "InformationSystem"
	KindIoTDevice         Kind = "IoTDevice"
)

// Kinds returns every queryable kind.
func Kinds() []Kind {
	return []Kind{
		KindEvent, KindProcessEvent, KindIoTEvent, KindObservation,
		KindObject, KindActivity,
		KindDataSource, KindInformationSystem, KindIoTDevice,
	}
}

// ParseKind resolves a kind name case-insensitively.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

// IsEvent reports whether k iterates events.
func (k Kind) IsEvent() bool {
	switch k {
	case KindEvent, KindProcessEvent, KindIoTEvent, KindObservation:
		return true
	}
	return false
}

// eventKind returns the event variant k filters on, and false for the
// unfiltered Event kind.
func (k Kind) eventKind() (ccm.EventKind, bool) {
	switch k {
	case KindProcessEvent:
		return ccm.ProcessEvent, true
	case KindIoTEvent:
		return ccm.IoTEvent, true
	case KindObservation:
		return ccm.Observation, true
	}
	return 0, false
}

// eventAlias is the kind name bound to an event of variant k.
func eventAlias(k ccm.EventKind) Kind {
	switch k {
	case ccm.ProcessEvent:
		return KindProcessEvent
	case ccm.IoTEvent:
		return KindIoTEvent
	case ccm.Observation:
		return KindObservation
	default:
		panic("query: invalid EventKind")
	}
}

// dataSourceAlias is the kind name bound to a data source of variant k.
func dataSourceAlias(k ccm.DataSourceKind) Kind {
	switch k {
	case ccm.InformationSystem:
		return KindInformationSystem
	case ccm.IoTDevice:
		return KindIoTDevice
	default:
		panic("query: invalid DataSourceKind")
	}
}

// Select is a parsed statement.
type Select struct {
	Star   bool
	Fields []FieldRef
	From   Kind
	Where  Expr // nil when absent
}

func (s *Select) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Star {
		sb.WriteString("*")
	} else {
		for i, f := range s.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.String())
		}
	}
	sb.WriteString(" FROM ")
	sb.WriteString(string(s.From))
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}
	return sb.String()
}

// Expr is a boolean expression node.
type Expr interface {
	String() string
	expr()
}

// Operand is a comparison operand: a FieldRef or a Literal.
type Operand interface {
	String() string
	operand()
}

// LogicOp is AND or OR.
type LogicOp int

const (
	OpAnd LogicOp = iota
	OpOr
)

func (op LogicOp) String() string {
	if op == OpAnd {
		return "AND"
	}
	return "OR"
}

// BinaryExpr combines two expressions with AND or OR.
type BinaryExpr struct {
	Op          LogicOp
	Left, Right Expr
}

// NotExpr negates an expression.
type NotExpr struct {
	X Expr
}

// CompareOp is a comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var compareOps = map[string]CompareOp{
	"=":  OpEq,
	"==": OpEq,
	"!=": OpNe,
	"<>": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

// Compare is a comparison between two operands.
type Compare struct {
	Op          CompareOp
	Left, Right Operand
}

// FieldRef names a field of a bound entity.
type FieldRef struct {
	Kind  Kind
	Field string

	// Qualified is false when the kind was implied by the FROM clause.
	Qualified bool
}

// Literal is a constant: string, int64, float64, bool or nil.
type Literal struct {
	Value any
}

func (e *BinaryExpr) String() string {
	return "(" + e.Left.String() + " " + e.Op.String() + " " + e.Right.String() + ")"
}

func (e *NotExpr) String() string { return "NOT " + e.X.String() }

func (e *Compare) String() string {
	return e.Left.String() + " " + e.Op.String() + " " + e.Right.String()
}

func (f FieldRef) String() string {
	if !f.Qualified {
		return f.Field
	}
	return string(f.Kind) + "." + f.Field
}

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return "'" + timeparse.Format(v) + "'"
	default:
		return fmt.Sprint(v)
	}
}

func (*BinaryExpr) expr() {}
func (*NotExpr) expr()    {}
func (*Compare) expr()    {}

func (FieldRef) operand() {}
func (Literal) operand()  {}
