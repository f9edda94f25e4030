package router

import (
	"maps"

	"queryflow/pkg/types"
)

var genericColumns = []string{"id", "result", "status", "platform", "dataSource"}

// genericRows is the example dataset returned for unmatched queries under the
// generic fallback policy.
var genericRows = []types.Row{
	{"id": 1, "result": "Snowflake data warehouse ingestion completed", "status": "Success", "platform": "Snowflake", "dataSource": "S3"},
	{"id": 2, "result": "Databricks Spark job processed analytics data", "status": "Success", "platform": "Databricks", "dataSource": "Kafka"},
	{"id": 3, "result": "Atlan metadata catalog updated for governance", "status": "Success", "platform": "Atlan", "dataSource": "Snowflake"},
	{"id": 4, "result": "Snowflake query execution for reporting", "status": "Failed", "platform": "Snowflake", "dataSource": "Internal"},
	{"id": 5, "result": "Databricks ML model training run", "status": "Running", "platform": "Databricks", "dataSource": "Azure Blob"},
}

func genericRecord(text string) types.QueryRecord {
	rows := make([]types.Row, len(genericRows))
	for i, row := range genericRows {
		rows[i] = maps.Clone(row)
	}
	cols := make([]string, len(genericColumns))
	copy(cols, genericColumns)
	return types.QueryRecord{
		ID:      types.SyntheticID,
		Text:    text,
		Columns: cols,
		Rows:    rows,
	}
}
