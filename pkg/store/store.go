// Package store persists the normalized tables of a graph in DuckDB.
//
// Entity and relationship rows live in relational tables keyed by a
// sequence column, so insertion order survives a save/load cycle.
// Attribute cells are stored as typed rows in ccm_attribute, and the
// column order of every table is kept in ccm_column.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/mapping"
	"github.com/logflow/ccm/pkg/table"
	"github.com/logflow/ccm/pkg/telemetry"
)

// Store persists mapping tables in a DuckDB database.
type Store struct {
	db     *sql.DB
	path   string
	logger logrus.FieldLogger
}

// Config configures a Store.
type Config struct {
	// Path is the database file path ("" or ":memory:" for in-memory).
	Path string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Threads caps DuckDB worker threads. Zero uses every CPU.
	Threads int

	Logger logrus.FieldLogger
}

// Open opens a read-write store at path.
func Open(path string) (*Store, error) {
	return OpenWithConfig(Config{Path: path})
}

// OpenWithConfig opens a store with custom configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	dsn := cfg.Path
	if dsn == ":memory:" {
		dsn = ""
	}
	if cfg.ReadOnly {
		dsn += "?access_mode=read_only"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "open duckdb").WithContext("path", cfg.Path)
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if _, err := db.Exec(fmt.Sprintf("SET threads=%d", threads)); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeReadFailed, "configure duckdb")
	}

	s := &Store{db: db, path: cfg.Path, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if !cfg.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.CodeWriteFailed, "initialize schema")
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// coreColumn binds a reserved table column to a SQL column.
type coreColumn struct {
	name      string
	sqlName   string
	timestamp bool
}

// layout describes how one mapping table is stored.
type layout struct {
	table    string
	sqlTable string
	core     []coreColumn
}

var relationCore = []coreColumn{
	{name: mapping.ColSource, sqlName: "source_id"},
	{name: mapping.ColTarget, sqlName: "target_id"},
	{name: mapping.ColQualifier, sqlName: "qualifier"},
}

var layouts = []layout{
	{
		table:    mapping.TableEvents,
		sqlTable: "ccm_event",
		core: []coreColumn{
			{name: mapping.ColEventID, sqlName: "event_id"},
			{name: mapping.ColEventType, sqlName: "event_type"},
			{name: mapping.ColEventClass, sqlName: "event_class"},
			{name: mapping.ColActivity, sqlName: "activity"},
			{name: mapping.ColTimestamp, sqlName: "timestamp", timestamp: true},
		},
	},
	{
		table:    mapping.TableObjects,
		sqlTable: "ccm_object",
		core: []coreColumn{
			{name: mapping.ColObjectID, sqlName: "object_id"},
			{name: mapping.ColObjectType, sqlName: "object_type"},
			{name: mapping.ColObjectClass, sqlName: "object_class"},
			{name: mapping.ColName, sqlName: "name"},
		},
	},
	{table: mapping.TableE2O, sqlTable: "ccm_event_object", core: relationCore},
	{table: mapping.TableO2O, sqlTable: "ccm_object_object", core: relationCore},
	{table: mapping.TableE2E, sqlTable: "ccm_event_event", core: relationCore},
}

func (l layout) isCore(column string) bool {
	for _, c := range l.core {
		if c.name == column {
			return true
		}
	}
	return false
}

// initSchema creates the tables and views.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ccm_event (
			seq         BIGINT PRIMARY KEY,
			event_id    VARCHAR,
			event_type  VARCHAR,
			event_class VARCHAR,
			activity    VARCHAR,
			timestamp   TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS ccm_object (
			seq          BIGINT PRIMARY KEY,
			object_id    VARCHAR,
			object_type  VARCHAR,
			object_class VARCHAR,
			name         VARCHAR
		);

		CREATE TABLE IF NOT EXISTS ccm_event_object (
			seq       BIGINT PRIMARY KEY,
			source_id VARCHAR,
			target_id VARCHAR,
			qualifier VARCHAR
		);

		CREATE TABLE IF NOT EXISTS ccm_object_object (
			seq       BIGINT PRIMARY KEY,
			source_id VARCHAR,
			target_id VARCHAR,
			qualifier VARCHAR
		);

		CREATE TABLE IF NOT EXISTS ccm_event_event (
			seq       BIGINT PRIMARY KEY,
			source_id VARCHAR,
			target_id VARCHAR,
			qualifier VARCHAR
		);

		-- Attribute cells of every table
		CREATE TABLE IF NOT EXISTS ccm_attribute (
			tbl         VARCHAR NOT NULL,
			seq         BIGINT NOT NULL,
			column_name VARCHAR NOT NULL,
			attr_value  VARCHAR,
			attr_type   VARCHAR NOT NULL,
			PRIMARY KEY (tbl, seq, column_name)
		);

		-- Column order of every table
		CREATE TABLE IF NOT EXISTS ccm_column (
			tbl         VARCHAR NOT NULL,
			position    INTEGER NOT NULL,
			column_name VARCHAR NOT NULL,
			PRIMARY KEY (tbl, position)
		);

		CREATE INDEX IF NOT EXISTS idx_event_id ON ccm_event(event_id);
		CREATE INDEX IF NOT EXISTS idx_event_timestamp ON ccm_event(timestamp);
		CREATE INDEX IF NOT EXISTS idx_object_id ON ccm_object(object_id);
		CREATE INDEX IF NOT EXISTS idx_object_type ON ccm_object(object_type);
		CREATE INDEX IF NOT EXISTS idx_e2o_source ON ccm_event_object(source_id);
		CREATE INDEX IF NOT EXISTS idx_e2o_target ON ccm_event_object(target_id);

		-- Events per business object, the case-centric projection
		CREATE OR REPLACE VIEW ccm_object_events AS
		SELECT
			o.object_id   AS case_id,
			o.object_type AS object_type,
			e.event_id    AS event_id,
			e.event_type  AS event_type,
			e.event_class AS event_class,
			e.activity    AS activity,
			e.timestamp   AS timestamp,
			r.qualifier   AS qualifier
		FROM ccm_event e
		JOIN ccm_event_object r ON e.event_id = r.source_id
		JOIN ccm_object o ON r.target_id = o.object_id
		WHERE r.qualifier NOT LIKE 'ccm:%';
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save replaces the stored tables with tables in one transaction.
func (s *Store) Save(ctx context.Context, tables *mapping.Tables) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Save", attribute.String("ccm.path", s.path))
	defer func() { telemetry.EndSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM ccm_attribute", "DELETE FROM ccm_column"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "clear store")
		}
	}

	rows := 0
	for i, t := range tables.List() {
		l := layouts[i]
		rows += t.Len()
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+l.sqlTable); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "clear store").WithContext("table", l.table)
		}
		if err := saveTable(ctx, tx, l, t); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"table": l.table,
			"rows":  t.Len(),
		}).Debug("saved table")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "commit")
	}
	telemetry.SetSpanAttributes(ctx, attribute.Int("ccm.rows", rows))
	return nil
}

func saveTable(ctx context.Context, tx *sql.Tx, l layout, t *table.Table) error {
	for pos, col := range t.Columns {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO ccm_column (tbl, position, column_name) VALUES (?, ?, ?)",
			l.table, pos, col,
		); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "insert column").WithContext("table", l.table)
		}
	}

	names := make([]string, 0, len(l.core)+1)
	marks := make([]string, 0, len(l.core)+1)
	names = append(names, "seq")
	marks = append(marks, "?")
	for _, c := range l.core {
		names = append(names, c.sqlName)
		marks = append(marks, "?")
	}
	insertRow, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		l.sqlTable, strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "prepare insert").WithContext("table", l.table)
	}
	defer insertRow.Close()

	insertAttr, err := tx.PrepareContext(ctx,
		"INSERT INTO ccm_attribute (tbl, seq, column_name, attr_value, attr_type) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "prepare attribute insert")
	}
	defer insertAttr.Close()

	for r := range t.Rows {
		args := make([]any, 0, len(l.core)+1)
		args = append(args, int64(r))
		for _, c := range l.core {
			v, err := coreValue(t.Get(r, c.name), c)
			if err != nil {
				return err.WithContext("table", l.table).WithContext("row", r)
			}
			args = append(args, v)
		}
		if _, err := insertRow.ExecContext(ctx, args...); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "insert row").
				WithContext("table", l.table).
				WithContext("row", r)
		}

		for c, col := range t.Columns {
			v := t.Rows[r][c]
			if v == nil || l.isCore(col) {
				continue
			}
			ct := table.TypeOf(v)
			if _, err := insertAttr.ExecContext(ctx, l.table, int64(r), col, table.EncodeText(v, ct), string(ct)); err != nil {
				return errors.Wrap(err, errors.CodeWriteFailed, "insert attribute").
					WithContext("table", l.table).
					WithContext("row", r).
					WithContext("column", col)
			}
		}
	}
	return nil
}

// coreValue converts a reserved cell for its SQL column.
func coreValue(v any, c coreColumn) (any, *errors.CCMError) {
	if v == nil {
		return nil, nil
	}
	if c.timestamp {
		ts, ok := v.(time.Time)
		if !ok {
			return nil, errors.Newf(errors.CodeWriteFailed, "column %s holds %T, want timestamp", c.name, v)
		}
		return ts.UTC(), nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, errors.Newf(errors.CodeWriteFailed, "column %s holds %T, want string", c.name, v)
	}
	return s, nil
}

// Load reads the stored tables back in insertion order.
func (s *Store) Load(ctx context.Context) (tables *mapping.Tables, err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Load", attribute.String("ccm.path", s.path))
	defer func() { telemetry.EndSpan(span, err) }()

	list := make([]*table.Table, 0, len(layouts))
	for _, l := range layouts {
		t, err := s.loadTable(ctx, l)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	tables, err = mapping.FromList(list)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "assemble tables")
	}
	return tables, nil
}

func (s *Store) loadTable(ctx context.Context, l layout) (*table.Table, error) {
	columns, err := s.columns(ctx, l.table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		for _, c := range l.core {
			columns = append(columns, c.name)
		}
	}
	t := table.New(l.table, columns...)

	names := make([]string, 0, len(l.core))
	for _, c := range l.core {
		names = append(names, c.sqlName)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT seq, %s FROM %s ORDER BY seq",
		strings.Join(names, ", "), l.sqlTable))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "query rows").WithContext("table", l.table)
	}
	defer rows.Close()

	bySeq := make(map[int64]int)
	for rows.Next() {
		var seq int64
		dest := make([]any, 0, len(l.core)+1)
		dest = append(dest, &seq)
		cells := make([]any, len(l.core))
		for i, c := range l.core {
			if c.timestamp {
				cells[i] = new(sql.NullTime)
			} else {
				cells[i] = new(sql.NullString)
			}
			dest = append(dest, cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, errors.CodeReadFailed, "scan row").WithContext("table", l.table)
		}

		row := make([]any, len(t.Columns))
		for i, c := range l.core {
			idx := t.ColumnIndex(c.name)
			if idx < 0 {
				continue
			}
			switch x := cells[i].(type) {
			case *sql.NullTime:
				if x.Valid {
					row[idx] = x.Time.UTC()
				}
			case *sql.NullString:
				if x.Valid {
					row[idx] = x.String
				}
			}
		}
		bySeq[seq] = len(t.Rows)
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "read rows").WithContext("table", l.table)
	}

	if err := s.loadAttributes(ctx, l, t, bySeq); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) columns(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT column_name FROM ccm_column WHERE tbl = ? ORDER BY position", name)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "query columns").WithContext("table", name)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, errors.Wrap(err, errors.CodeReadFailed, "scan column")
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (s *Store) loadAttributes(ctx context.Context, l layout, t *table.Table, bySeq map[int64]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, column_name, attr_value, attr_type FROM ccm_attribute WHERE tbl = ? ORDER BY seq",
		l.table)
	if err != nil {
		return errors.Wrap(err, errors.CodeReadFailed, "query attributes").WithContext("table", l.table)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq        int64
			col, typ   string
			encodedVal sql.NullString
		)
		if err := rows.Scan(&seq, &col, &encodedVal, &typ); err != nil {
			return errors.Wrap(err, errors.CodeReadFailed, "scan attribute")
		}
		r, ok := bySeq[seq]
		if !ok {
			s.logger.WithFields(logrus.Fields{
				"table":  l.table,
				"seq":    seq,
				"column": col,
			}).Warn("attribute for missing row")
			continue
		}
		ct, err := table.ParseColumnType(typ)
		if err != nil {
			return errors.Wrap(err, errors.CodeReadFailed, "attribute type").WithContext("column", col)
		}
		v, err := table.DecodeText(encodedVal.String, ct)
		if err != nil {
			return errors.Wrap(err, errors.CodeReadFailed, "decode attribute").
				WithContext("table", l.table).
				WithContext("column", col)
		}
		idx := t.AddColumn(col)
		t.Rows[r][idx] = v
	}
	return rows.Err()
}

// Counts returns the stored row count per table.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(layouts))
	for _, l := range layouts {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+l.sqlTable).Scan(&n); err != nil {
			return nil, errors.Wrap(err, errors.CodeReadFailed, "count rows").WithContext("table", l.table)
		}
		counts[l.table] = n
	}
	return counts, nil
}
