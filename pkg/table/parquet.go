package table

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// Arrow metadata keys.
const (
	MetaKeyTable      = "ccm:table"
	MetaKeyColumnType = "ccm:type"
)

var timestampType = &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}

// ParquetConfig configures the Parquet writer.
type ParquetConfig struct {
	Compression string
}

// DefaultParquetConfig returns the default writer configuration.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{Compression: "zstd"}
}

func codecFor(name string) compress.Compression {
	switch name {
	case "snappy":
		return compress.Codecs.Snappy
	case "gzip":
		return compress.Codecs.Gzip
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Zstd
	}
}

// ArrowSchema derives the Arrow schema of t. Homogeneous columns get a
// native type; null and mixed columns are strings. The inferred column type
// travels in field metadata and, keyed by column name, in schema metadata.
func ArrowSchema(t *Table) *arrow.Schema {
	types := t.ColumnTypes()
	fields := make([]arrow.Field, len(t.Columns))
	keys := []string{MetaKeyTable}
	values := []string{t.Name}
	for i, c := range t.Columns {
		keys = append(keys, MetaKeyColumnType+":"+c)
		values = append(values, string(types[i]))
		fields[i] = arrow.Field{
			Name:     c,
			Type:     arrowType(types[i]),
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{MetaKeyColumnType}, []string{string(types[i])}),
		}
	}
	meta := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(fields, &meta)
}

func arrowType(ct ColumnType) arrow.DataType {
	switch ct {
	case TypeInt:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case TypeTimestamp:
		return timestampType
	default:
		return arrow.BinaryTypes.String
	}
}

// WriteParquet writes t as a single Parquet file with the Arrow schema
// stored alongside.
func WriteParquet(w io.Writer, t *Table, cfg ParquetConfig) error {
	alloc := memory.NewGoAllocator()
	schema := ArrowSchema(t)
	types := t.ColumnTypes()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codecFor(cfg.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithVersion(parquet.V2_LATEST),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, w, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	for _, row := range t.Rows {
		for i, v := range row {
			appendValue(builder.Field(i), v, types[i])
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()

	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

func appendValue(b array.Builder, v any, ct ColumnType) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		bb.Append(v.(int64))
	case *array.Float64Builder:
		bb.Append(v.(float64))
	case *array.BooleanBuilder:
		bb.Append(v.(bool))
	case *array.TimestampBuilder:
		bb.Append(arrow.Timestamp(v.(time.Time).UnixNano()))
	case *array.StringBuilder:
		if ct == TypeMixed {
			bb.Append(encodeTagged(v))
		} else {
			bb.Append(v.(string))
		}
	default:
		b.AppendNull()
	}
}

// ReadParquet reads a Parquet file written by WriteParquet. Files from other
// writers are read with column types inferred from the Arrow types.
func ReadParquet(ctx context.Context, r parquet.ReaderAtSeeker, name string) (*Table, error) {
	pqReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	schema := tbl.Schema()
	if name == "" {
		if v, ok := metaValue(schema.Metadata(), MetaKeyTable); ok {
			name = v
		}
	}

	out := New(name)
	for i := 0; i < int(tbl.NumCols()); i++ {
		out.AddColumn(schema.Field(i).Name)
	}
	out.Rows = make([][]any, tbl.NumRows())
	for r := range out.Rows {
		out.Rows[r] = make([]any, len(out.Columns))
	}

	for c := 0; c < int(tbl.NumCols()); c++ {
		field := schema.Field(c)
		ct := fieldType(field, schema.Metadata())
		row := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			for j := 0; j < chunk.Len(); j++ {
				v, err := arrowValue(chunk, j, ct)
				if err != nil {
					return nil, fmt.Errorf("column %q row %d: %w", field.Name, row, err)
				}
				out.Rows[row][c] = v
				row++
			}
		}
	}
	return out, nil
}

func fieldType(f arrow.Field, schemaMeta arrow.Metadata) ColumnType {
	if v, ok := metaValue(f.Metadata, MetaKeyColumnType); ok {
		if ct, err := ParseColumnType(v); err == nil {
			return ct
		}
	}
	if v, ok := metaValue(schemaMeta, MetaKeyColumnType+":"+f.Name); ok {
		if ct, err := ParseColumnType(v); err == nil {
			return ct
		}
	}
	switch f.Type.ID() {
	case arrow.INT64, arrow.INT32, arrow.INT16, arrow.INT8:
		return TypeInt
	case arrow.FLOAT64, arrow.FLOAT32:
		return TypeFloat
	case arrow.BOOL:
		return TypeBool
	case arrow.TIMESTAMP:
		return TypeTimestamp
	default:
		return TypeString
	}
}

func arrowValue(arr arrow.Array, i int, ct ColumnType) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.String:
		if ct == TypeMixed {
			return decodeTagged(a.Value(i))
		}
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return time.Unix(0, int64(a.Value(i))*int64(unit.Multiplier())).UTC(), nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", arr.DataType())
	}
}

func metaValue(md arrow.Metadata, key string) (string, bool) {
	if i := md.FindKey(key); i >= 0 {
		return md.Values()[i], true
	}
	return "", false
}
