package ccm

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/logflow/ccm/pkg/errors"
)

// Attributes is an open key/value map restricted to scalar values:
// string, int64, float64 and bool.
type Attributes map[string]any

// Set normalizes value and stores it under key, overwriting any previous value.
func (a Attributes) Set(key string, value any) error {
	v, err := NormalizeValue(value)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidAttribute, "invalid attribute").
			WithContext("key", key)
	}
	a[key] = v
	return nil
}

// Keys returns the attribute keys in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy. Values are scalars so this is a full copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into a.
func (a Attributes) Merge(other Attributes) {
	for k, v := range other {
		a[k] = v
	}
}

// Normalize returns a copy of a with every value coerced to its canonical
// scalar type.
func (a Attributes) Normalize() (Attributes, error) {
	out := make(Attributes, len(a))
	for k, v := range a {
		if err := out.Set(k, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NormalizeValue coerces Go numeric types to int64 or float64. Non-scalar
// values are rejected.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return x, nil
	case int64:
		return x, nil
	case float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x.String())
		}
		return f, nil
	case nil:
		return nil, fmt.Errorf("null attribute value")
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", v)
	}
}

// NewID generates a random entity id.
func NewID() string {
	return uuid.NewString()
}
