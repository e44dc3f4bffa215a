package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDatatype(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want datatypeFlags
	}{
		{
			name: "bare type",
			raw:  "varchar(128)",
			want: datatypeFlags{Type: "varchar(128)", Nullable: true},
		},
		{
			name: "not null",
			raw:  "int not null",
			want: datatypeFlags{Type: "int"},
		},
		{
			name: "explicit null",
			raw:  "text null",
			want: datatypeFlags{Type: "text", Nullable: true},
		},
		{
			name: "unique",
			raw:  "varchar(64) unique",
			want: datatypeFlags{Type: "varchar(64)", Nullable: true, Unique: true},
		},
		{
			name: "primary key implies not null",
			raw:  "bigint primary key",
			want: datatypeFlags{Type: "bigint", PK: true},
		},
		{
			name: "serial rewrites to int",
			raw:  "serial",
			want: datatypeFlags{Type: "int", Nullable: true, Serial: true},
		},
		{
			name: "serial primary key",
			raw:  "serial primary key",
			want: datatypeFlags{Type: "int", Serial: true, PK: true},
		},
		{
			name: "check clause survives keyword stripping",
			raw:  "varchar(16) not null check(length(code) > 2)",
			want: datatypeFlags{Type: "varchar(16)", Check: "length(code) > 2"},
		},
		{
			name: "check with nested parens",
			raw:  "numeric(12,2) check(amount > (0))",
			want: datatypeFlags{Type: "numeric(12,2)", Nullable: true, Check: "amount > (0)"},
		},
		{
			name: "everything at once",
			raw:  "varchar(128) not null unique primary key check(code <> '')",
			want: datatypeFlags{Type: "varchar(128)", Unique: true, PK: true, Check: "code <> ''"},
		},
		{
			name: "whitespace is collapsed",
			raw:  "  varchar(32)   not   null ",
			want: datatypeFlags{Type: "varchar(32)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDatatype(tt.raw))
		})
	}
}

func TestColumnDDL(t *testing.T) {
	col := columnFromString("code", "varchar(16) not null unique check(length(code) > 2)")
	assert.Equal(t, "code varchar(16) not null unique check(length(code) > 2)", col.DDL())

	col = columnFromString("id", "serial primary key")
	assert.Equal(t, "int", col.Datatype)
	assert.True(t, col.Serial)
	assert.True(t, col.PK)
	assert.True(t, col.HasDefault())

	col = columnFromString("note", "text")
	col.Default = "''"
	assert.Equal(t, "note text default ''", col.DDL())
}

func TestShortnameAndPrefix(t *testing.T) {
	assert.Equal(t, "ass", Shortname("ai_sales_summary"))
	assert.Equal(t, "so", Shortname("src_orders"))
	assert.Equal(t, "sün", Shortname("src_übersicht_neu"))
	assert.Equal(t, "ai", Prefix("ai_sales_summary"))
	assert.Equal(t, "plain", Prefix("plain"))
}
