package control

import "strings"

// Control table names. These column contracts are queried by external
// systems and must stay stable.
const (
	TableWatermark = "ctr_data_pipeline"
	TableLogging   = "ctr_data_logging"
	TableTask      = "ctr_task_process"
	TableSchedule  = "ctr_task_schedule"
)

// Row statuses shared by the logging and task tables.
const (
	StatusSuccess    = 0
	StatusFailed     = 1
	StatusProcessing = 2
)

// Pipeline tracking states.
const (
	TrackingProcessing  = "PROCESSING"
	TrackingSuccess     = "SUCCESS"
	TrackingFailed      = "FAILED"
	TrackingAlertFailed = "ALERT-FAILED"
)

// Timestamp layouts used in control rows.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "2006-01-02 15:04:05"
)

// tableSpec describes a control table to the generic Pull/Push/Update
// primitives: its primary key and full column list, in schema order.
type tableSpec struct {
	name    string
	pk      []string
	columns []string
	active  bool // carries an active_flag column
}

var tableSpecs = map[string]tableSpec{
	TableWatermark: {
		name: TableWatermark,
		pk:   []string{"table_name"},
		columns: []string{
			"system_type", "table_name", "table_type",
			"data_date", "update_date", "run_date",
			"run_type", "run_count_now", "run_count_max",
			"rtt_value", "rtt_column", "active_flag",
		},
		active: true,
	},
	TableLogging: {
		name: TableLogging,
		pk:   []string{"table_name", "run_date", "action_type"},
		columns: []string{
			"table_name", "run_date", "action_type",
			"data_date", "update_date", "row_record",
			"process_time", "status",
		},
	},
	TableTask: {
		name: TableTask,
		pk:   []string{"process_id"},
		columns: []string{
			"process_id",
			"process_name_put", "process_name_get",
			"run_date_put", "run_date_get",
			"process_message",
			"process_number_put", "process_number_get",
			"process_module", "process_type",
			"status", "update_date", "process_time",
		},
	},
	TableSchedule: {
		name: TableSchedule,
		pk:   []string{"pipeline_id"},
		columns: []string{
			"pipeline_id", "pipeline_name", "pipeline_type",
			"tracking", "active_flag", "update_date", "primary_id",
		},
		active: true,
	},
}

func (s tableSpec) hasColumn(name string) bool {
	for _, c := range s.columns {
		if c == name {
			return true
		}
	}
	return false
}

func (s tableSpec) isPK(name string) bool {
	for _, c := range s.pk {
		if c == name {
			return true
		}
	}
	return false
}

// joinList serializes a string list into a single control-table column.
func joinList(vals []string) string {
	return strings.Join(vals, ",")
}

// splitList reverses joinList; empty input yields nil.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
