package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/datakit-labs/flowctl/internal/funcreg"
)

// yamlNode parses a YAML document for feeding to the normalizers.
func yamlNode(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	return &doc
}

func TestParseTable(t *testing.T) {
	tbl, err := ParseTable("ai_sales_summary", yamlNode(t, `
create:
  features:
    summary_date: date not null
    region: varchar(32) not null
    total: numeric(14,2)
    update_date: timestamp not null
  primary_key: [summary_date, region]
process:
  aggregate:
    priority: 1
    statement: >
      insert into ai_sales_summary
      select order_date, region, sum(amount), now()
      from src_orders where order_date > '{watermark}'
      group by order_date, region
control:
  table_type: transaction
  run_type: daily
  run_count_max: 3
  rtt_value: 90
  rtt_column: summary_date
tag:
  author: data-eng
  description: daily sales rollup
version: "2024-03-01"
`))
	require.NoError(t, err)

	assert.Equal(t, "ai_sales_summary", tbl.Name)
	assert.Equal(t, "ass", tbl.Shortname)
	assert.Equal(t, "ai", tbl.Prefix)
	assert.Equal(t, TypeSQL, tbl.Type)

	require.Len(t, tbl.Profile.Features, 4)
	assert.Equal(t, []string{"summary_date", "region", "total", "update_date"}, tbl.Profile.ColumnNames())
	assert.Equal(t, []string{"summary_date", "region"}, tbl.Profile.PrimaryKey)

	// pk membership back-propagates onto the columns
	col, ok := tbl.Profile.Column("region")
	require.True(t, ok)
	assert.True(t, col.PK)
	assert.False(t, col.Nullable)

	require.Len(t, tbl.Processes, 1)
	proc := tbl.Processes[0]
	assert.Equal(t, "aggregate", proc.Name)
	assert.Equal(t, 1, proc.Priority)
	assert.Equal(t, []string{"watermark"}, proc.Parameters)

	assert.Equal(t, TableTransaction, tbl.Control.TableType)
	assert.Equal(t, RunDaily, tbl.Control.RunType)
	assert.Equal(t, 3, tbl.Control.RunCountMax)
	assert.Equal(t, 90, tbl.Control.RttValue)
	assert.Equal(t, []string{"summary_date"}, tbl.Control.RttColumn)

	assert.Equal(t, "data-eng", tbl.Tag.Author)
	assert.Equal(t, "2024-03-01", tbl.Tag.Version)
}

func TestParseTableFeatureShapes(t *testing.T) {
	// Sequence-of-mappings and mapping shapes normalize identically.
	seq, err := ParseTable("src_orders", yamlNode(t, `
create:
  features:
    - name: order_id
      datatype: bigint primary key
    - name: amount
      datatype: numeric(12,2)
      nullable: false
`))
	require.NoError(t, err)

	mapped, err := ParseTable("src_orders", yamlNode(t, `
create:
  features:
    order_id: bigint primary key
    amount:
      datatype: numeric(12,2)
      nullable: false
`))
	require.NoError(t, err)

	assert.Equal(t, seq.Profile, mapped.Profile)
	assert.Equal(t, []string{"order_id"}, mapped.Profile.PrimaryKey)
}

func TestParseTableDefaults(t *testing.T) {
	tbl, err := ParseTable("src_minimal", yamlNode(t, `
create:
  features:
    id: int primary key
`))
	require.NoError(t, err)
	assert.Equal(t, TableTransaction, tbl.Control.TableType)
	assert.Equal(t, RunDaily, tbl.Control.RunType)
	assert.Zero(t, tbl.Control.RunCountMax)
	assert.Empty(t, tbl.Processes)
	assert.Nil(t, tbl.Initial)
}

func TestParseTableValidation(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown type",
			src: `
type: scala
create:
  features:
    id: int
`,
			want: "unknown table type",
		},
		{
			name: "missing column block",
			src:  `process: {}`,
			want: "missing column block",
		},
		{
			name: "primary key not a feature",
			src: `
create:
  features:
    id: int
  primary_key: missing_col
`,
			want: `"missing_col" is not a feature`,
		},
		{
			name: "foreign key not a feature",
			src: `
create:
  features:
    id: int
  foreign_key:
    name: other_id
    ref_table: src_other
    ref_column: id
`,
			want: `"other_id" is not a feature`,
		},
		{
			name: "partition column not a feature",
			src: `
create:
  features:
    id: int
  partition:
    type: range
    columns: created_at
`,
			want: `"created_at" is not a feature`,
		},
		{
			name: "unknown partition type",
			src: `
create:
  features:
    id: int
  partition:
    type: shard
    columns: id
`,
			want: "unknown partition type",
		},
		{
			name: "process without body",
			src: `
create:
  features:
    id: int
process:
  load: {}
`,
			want: "needs a statement or a function",
		},
		{
			name: "py table with sql process",
			src: `
type: py
create:
  features:
    id: int
process:
  load:
    statement: select 1
`,
			want: "require function-backed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable("src_bad", yamlNode(t, tt.src))
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseTableFunctionProcess(t *testing.T) {
	funcreg.Reset()
	t.Cleanup(funcreg.Reset)

	src := `
type: py
create:
  features:
    id: int primary key
    score: numeric(6,3)
process:
  score:
    function: score_rows
    load: select id, score from src_scores where id > {watermark}
    save: insert into ai_scores values
`

	_, err := ParseTable("ai_scores", yamlNode(t, src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	funcreg.Register("score_rows", func(ctx context.Context, f funcreg.Frame) (string, error) {
		return "", nil
	})

	tbl, err := ParseTable("ai_scores", yamlNode(t, src))
	require.NoError(t, err)
	require.Len(t, tbl.Processes, 1)
	assert.True(t, tbl.Processes[0].IsFunction())
	assert.Equal(t, []string{"watermark"}, tbl.Processes[0].Parameters)
}

func TestProcessOrdering(t *testing.T) {
	tbl, err := ParseTable("ai_ordered", yamlNode(t, `
create:
  features:
    id: int primary key
process:
  cleanup:
    statement: delete from ai_ordered where id < 0
  stage:
    priority: 1
    statement: select 1
  enrich:
    priority: 5
    statement: select 2
  finalize:
    statement: select 3
`))
	require.NoError(t, err)
	require.Len(t, tbl.Processes, 4)

	// declared priorities ascend; undeclared (99) keep document order; then renumbered 1..n
	names := make([]string, len(tbl.Processes))
	for i, p := range tbl.Processes {
		names[i] = p.Name
		assert.Equal(t, i+1, p.Priority)
	}
	assert.Equal(t, []string{"stage", "enrich", "cleanup", "finalize"}, names)
}

func TestParseTableDeterministic(t *testing.T) {
	src := `
create:
  features:
    - order_id: bigint not null
    - region: varchar(16)
    - amount: numeric(12,2) check (amount >= 0)
    - update_date: timestamp not null
  primary_key: [order_id, region]
  foreign_key:
    name: region
    ref_table: dim_region
    ref_column: region
process:
  load:
    priority: 2
    statement: select 1
  backfill:
    statement: select 2
  stage:
    priority: 1
    statement: select 3
control:
  table_type: transaction
  rtt_value: 30
  rtt_column: update_date
`
	first, err := ParseTable("src_orders", yamlNode(t, src))
	require.NoError(t, err)
	second, err := ParseTable("src_orders", yamlNode(t, src))
	require.NoError(t, err)

	// same input, same model: column order, derived pk/fk flags,
	// process renumbering
	assert.Equal(t, first.Profile.ColumnNames(), second.Profile.ColumnNames())
	assert.Equal(t, first.Profile, second.Profile)
	assert.Equal(t, first.Processes, second.Processes)
	assert.Equal(t, first, second)
}

func TestParseInitial(t *testing.T) {
	tbl, err := ParseTable("src_regions", yamlNode(t, `
create:
  features:
    code: varchar(8) primary key
    label: varchar(64) not null
initial:
  values:
    - [emea, Europe]
    - code: apac
      label: Asia Pacific
`))
	require.NoError(t, err)
	require.NotNil(t, tbl.Initial)
	assert.Equal(t, [][]string{{"emea", "Europe"}, {"apac", "Asia Pacific"}}, tbl.Initial.Rows)

	tbl, err = ParseTable("src_regions", yamlNode(t, `
create:
  features:
    code: varchar(8) primary key
init: insert into src_regions values ('emea', 'Europe')
`))
	require.NoError(t, err)
	require.NotNil(t, tbl.Initial)
	assert.Equal(t, "insert into src_regions values ('emea', 'Europe')", tbl.Initial.Statement)

	_, err = ParseTable("src_regions", yamlNode(t, `
create:
  features:
    code: varchar(8) primary key
    label: varchar(64)
initial:
  values:
    - [only_one]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row has 1 values")
}
