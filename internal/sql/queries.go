package sql

import (
	"embed"
)

// Migrations holds the DDL applied by db.ApplyMigrations in filename order.
//
//go:embed migrations/*.sql
var Migrations embed.FS

//go:embed queries/upsert_hospital.sql
var UpsertHospital string

//go:embed queries/select_hospital.sql
var SelectHospital string

//go:embed queries/mark_hospital_checked.sql
var MarkHospitalChecked string

//go:embed queries/get_processed_file.sql
var GetProcessedFile string

//go:embed queries/upsert_processed_file.sql
var UpsertProcessedFile string

//go:embed queries/start_job.sql
var StartJob string

//go:embed queries/finish_job.sql
var FinishJob string

//go:embed queries/update_job_progress.sql
var UpdateJobProgress string

//go:embed queries/append_job_log.sql
var AppendJobLog string

//go:embed queries/get_job.sql
var GetJob string

//go:embed queries/list_job_logs.sql
var ListJobLogs string

//go:embed queries/count_price_records.sql
var CountPriceRecords string
