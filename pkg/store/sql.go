package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/table"
	"github.com/logflow/ccm/pkg/telemetry"
)

// readOnlyKeywords are the statement keywords SQL accepts.
var readOnlyKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "DESCRIBE": true, "SHOW": true,
	"EXPLAIN": true, "SUMMARIZE": true, "FROM": true,
}

// writeKeywords may not appear anywhere in an accepted statement.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "TRUNCATE": true,
	"CREATE": true, "ALTER": true, "DROP": true, "ATTACH": true, "DETACH": true,
	"COPY": true, "EXPORT": true, "IMPORT": true, "INSTALL": true, "LOAD": true,
	"PRAGMA": true, "SET": true, "RESET": true, "CALL": true, "USE": true,
	"CHECKPOINT": true, "VACUUM": true,
}

// SQL runs a read-only analytic query and returns the result as a table
// named "sql".
func (s *Store) SQL(ctx context.Context, query string, args ...any) (t *table.Table, err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.SQL", attribute.String("ccm.sql", query))
	defer func() { telemetry.EndSpan(span, err) }()

	if !isReadOnly(query) {
		return nil, errors.Usage("only read-only statements are allowed").WithContext("sql", query)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "query failed").WithContext("sql", query)
	}
	defer rows.Close()

	return scanTable(rows, "sql")
}

// ObjectEvents returns the events of every object of objectType, ordered by
// object and timestamp. Data source and activity links are excluded.
func (s *Store) ObjectEvents(ctx context.Context, objectType string) (*table.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, event_id, event_class, activity, timestamp, qualifier
		FROM ccm_object_events
		WHERE object_type = ?
		ORDER BY case_id, timestamp, event_id
	`, objectType)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "query object events").
			WithContext("object_type", objectType)
	}
	defer rows.Close()

	return scanTable(rows, objectType)
}

func scanTable(rows *sql.Rows, name string) (*table.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "get columns")
	}
	t := table.New(name, cols...)

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.CodeReadFailed, "scan row")
		}
		for i, v := range values {
			values[i] = cell(v)
		}
		if err := t.AppendRow(values); err != nil {
			return nil, errors.Wrap(err, errors.CodeReadFailed, "append row")
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "read rows")
	}
	return t, nil
}

// cell converts a driver value to a table cell type.
func cell(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x
	case time.Time:
		return x.UTC()
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// isReadOnly accepts a single statement that starts with a read-only
// keyword and names no write keyword outside string literals, quoted
// identifiers and comments.
func isReadOnly(query string) bool {
	words, ok := statementWords(query)
	if !ok || len(words) == 0 || !readOnlyKeywords[words[0]] {
		return false
	}
	for _, w := range words[1:] {
		if writeKeywords[w] {
			return false
		}
	}
	return true
}

// statementWords returns the upper-cased bare words of query. It reports
// false when query holds more than one statement or an unterminated quote
// or comment.
func statementWords(query string) ([]string, bool) {
	var (
		words []string
		word  strings.Builder
		ended bool
	)
	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"':
			flush()
			if ended {
				return nil, false
			}
			j := strings.IndexByte(query[i+1:], c)
			if j < 0 {
				return nil, false
			}
			i += j + 1
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			flush()
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				i = len(query)
			} else {
				i += j
			}
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			flush()
			j := strings.Index(query[i+2:], "*/")
			if j < 0 {
				return nil, false
			}
			i += j + 3
		case c == ';':
			flush()
			ended = true
		case isWordByte(c):
			if ended {
				return nil, false
			}
			word.WriteByte(c)
		default:
			flush()
			if ended && !isSpace(c) {
				return nil, false
			}
		}
	}
	flush()
	return words, true
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}
