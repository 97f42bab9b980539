package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/ccm/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM Event", "SELECT * FROM Event"},
		{"select * from event;", "SELECT * FROM Event"},
		{
			"SELECT event_id, Object.object_type FROM ProcessEvent",
			"SELECT event_id, Object.object_type FROM ProcessEvent",
		},
		{
			"SELECT * FROM Event WHERE Event.event_type = 'process event'",
			"SELECT * FROM Event WHERE Event.event_type = 'process event'",
		},
		{
			"SELECT * FROM Event WHERE a = 1 OR b = 2 AND c = 3",
			"SELECT * FROM Event WHERE (a = 1 OR (b = 2 AND c = 3))",
		},
		{
			"SELECT * FROM Event WHERE (a = 1 OR b = 2) AND NOT c <> 3",
			"SELECT * FROM Event WHERE ((a = 1 OR b = 2) AND NOT c != 3)",
		},
		{
			`SELECT * FROM Object WHERE Object.name == "it's" AND x >= -2.5e1 AND y = NULL AND z = TRUE`,
			"SELECT * FROM Object WHERE (((Object.name = 'it''s' AND x >= -25) AND y = NULL) AND z = TRUE)",
		},
		{"SELECT * FROM iotdevice WHERE name = 'a''b'", "SELECT * FROM IoTDevice WHERE name = 'a''b'"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			stmt, err := Parse(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmt.String())
		})
	}
}

func TestParse_ResolvesKinds(t *testing.T) {
	stmt, err := Parse("SELECT timestamp FROM Observation WHERE DataSource.name = 'x'")
	require.NoError(t, err)

	assert.Equal(t, KindObservation, stmt.From)
	assert.Equal(t, []FieldRef{{Kind: KindObservation, Field: "timestamp"}}, stmt.Fields)

	cmp, ok := stmt.Where.(*Compare)
	require.True(t, ok)
	assert.Equal(t, FieldRef{Kind: KindDataSource, Field: "name", Qualified: true}, cmp.Left)
	assert.Equal(t, Literal{Value: "x"}, cmp.Right)
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []string{
		"",
		"SELECT",
		"SELECT * Event",
		"SELECT FROM Event",
		"SELECT * FROM",
		"SELECT * FROM Sensor",
		"SELECT * FROM Event WHERE",
		"SELECT * FROM Event WHERE Event.event_type = 'open",
		"SELECT * FROM Event WHERE Event.event_type",
		"SELECT * FROM Event WHERE Event. = 1",
		"SELECT * FROM Event WHERE Thing.x = 1",
		"SELECT * FROM Event WHERE (a = 1",
		"SELECT * FROM Event WHERE a = 1 b = 2",
		"SELECT * FROM Event WHERE a => 1",
		"SELECT * FROM Event WHERE a = 99999999999999999999",
		"SELECT * FROM Event extra",
		"SELECT a,, b FROM Event",
		"SELECT * FROM Event WHERE a = 1; DROP",
		"SELECT * FROM Event WHERE __import__('os') = 1",
	}

	for _, q := range tests {
		t.Run(q, func(t *testing.T) {
			stmt, err := Parse(q)
			require.Error(t, err)
			assert.Nil(t, stmt)
			assert.True(t, errors.IsQuerySyntax(err), "got %v", err)
		})
	}
}
