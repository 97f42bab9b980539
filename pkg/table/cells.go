package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/logflow/ccm/internal/timeparse"
)

// NullToken marks a null cell in text encodings. A string value that starts
// with a backslash is written with one extra leading backslash.
const NullToken = `\N`

// EncodeText renders a cell for a column of type ct. Cells of mixed columns
// carry a one-letter type tag ("i:42") so scalars survive the round trip.
func EncodeText(v any, ct ColumnType) string {
	if v == nil {
		return NullToken
	}
	if ct == TypeMixed {
		return encodeTagged(v)
	}
	return encodePlain(v)
}

// DecodeText parses a cell written by EncodeText.
func DecodeText(s string, ct ColumnType) (any, error) {
	if s == NullToken {
		return nil, nil
	}
	switch ct {
	case TypeNull:
		if s == "" {
			return nil, nil
		}
		return unescape(s), nil
	case TypeString:
		return unescape(s), nil
	case TypeMixed:
		return decodeTagged(s)
	default:
		if s == "" {
			return nil, nil
		}
		return decodePlain(s, ct)
	}
}

func encodePlain(v any) string {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, `\`) {
			return `\` + x
		}
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return timeparse.Format(x)
	default:
		return fmt.Sprint(x)
	}
}

func decodePlain(s string, ct ColumnType) (any, error) {
	switch ct {
	case TypeInt:
		return strconv.ParseInt(s, 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(s, 64)
	case TypeBool:
		switch strings.ToLower(s) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool %q", s)
	case TypeTimestamp:
		return timeparse.Parse(s)
	default:
		return unescape(s), nil
	}
}

func encodeTagged(v any) string {
	switch TypeOf(v) {
	case TypeString:
		return "s:" + v.(string)
	case TypeInt:
		return "i:" + encodePlain(v)
	case TypeFloat:
		return "f:" + encodePlain(v)
	case TypeBool:
		return "b:" + encodePlain(v)
	case TypeTimestamp:
		return "t:" + encodePlain(v)
	default:
		return "s:" + fmt.Sprint(v)
	}
}

func decodeTagged(s string) (any, error) {
	if len(s) < 2 || s[1] != ':' {
		return nil, fmt.Errorf("untagged cell %q in mixed column", s)
	}
	body := s[2:]
	switch s[0] {
	case 's':
		return body, nil
	case 'i':
		return decodePlain(body, TypeInt)
	case 'f':
		return decodePlain(body, TypeFloat)
	case 'b':
		return decodePlain(body, TypeBool)
	case 't':
		return decodePlain(body, TypeTimestamp)
	default:
		return nil, fmt.Errorf("unknown cell tag %q", s[:1])
	}
}

func unescape(s string) string {
	if strings.HasPrefix(s, `\\`) {
		return s[1:]
	}
	return s
}

// ParseColumnType parses a type name written by a codec.
func ParseColumnType(s string) (ColumnType, error) {
	switch ct := ColumnType(strings.TrimSpace(s)); ct {
	case TypeNull, TypeString, TypeInt, TypeFloat, TypeBool, TypeTimestamp, TypeMixed:
		return ct, nil
	default:
		return "", fmt.Errorf("unknown column type %q", s)
	}
}
