package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldYear       = "year"
	FieldMonth      = "month"
	FieldImageHash  = "image_hash"
	FieldImagePath  = "image_path"
	FieldStoreName  = "store_name"
	FieldAmount     = "total_amount"
	FieldRowCount   = "row_count"
	FieldReceiptID  = "receipt_id"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentIngest  = "ingest"
	ComponentStorage = "storage"
	ComponentVision  = "vision"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentReport  = "report"
	ComponentBackup  = "backup"
)

// Operations defines standard operation names
const (
	OpInsert   = "insert"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpQuery    = "query"
	OpExtract  = "extract"
	OpParse    = "parse"
	OpUpload   = "upload"
	OpDownload = "download"
	OpSend     = "send"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
