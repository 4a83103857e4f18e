package config

// Setting keys. They double as config-file keys and, with dashes, as flag names.
const (
	KeyStartDate       = "start_date"
	KeyEndDate         = "end_date"
	KeyPyPIProject     = "pypi_project"
	KeyTableName       = "table_name"
	KeyGCPProject      = "gcp_project"
	KeyTimestampColumn = "timestamp_column"
	KeyDestination     = "destination"
	KeyS3Path          = "s3_path"
	KeyAWSProfile      = "aws_profile"
	KeyGCSPath         = "gcs_path"
	KeyCredentials     = "credentials"
	KeyRemoteDatabase  = "remote_database"
	KeyDuckDBPath      = "duckdb_path"
	KeyOutputDir       = "output_dir"
)

// Field describes one run setting.
type Field struct {
	Key      string
	Env      string
	Usage    string
	Required bool
}

// Fields lists every run setting in presentation order.
var Fields = []Field{
	{Key: KeyStartDate, Env: "START_DATE", Usage: "first day of the window, inclusive (YYYY-MM-DD)", Required: true},
	{Key: KeyEndDate, Env: "END_DATE", Usage: "last day of the window, exclusive (YYYY-MM-DD)", Required: true},
	{Key: KeyPyPIProject, Env: "PYPI_PROJECT", Usage: "PyPI package name to filter on", Required: true},
	{Key: KeyTableName, Env: "TABLE_NAME", Usage: "source table in bigquery-public-data.pypi, also the staged table name", Required: true},
	{Key: KeyGCPProject, Env: "GCP_PROJECT", Usage: "Google Cloud project billed for the query", Required: true},
	{Key: KeyTimestampColumn, Env: "TIMESTAMP_COLUMN", Usage: "column used for the time filter and partitioning", Required: true},
	{Key: KeyDestination, Env: "DESTINATION", Usage: "comma separated destinations: local, s3, gcs, motherduck", Required: true},
	{Key: KeyS3Path, Env: "S3_PATH", Usage: "s3://bucket/prefix for the s3 destination"},
	{Key: KeyAWSProfile, Env: "AWS_PROFILE", Usage: "AWS shared config profile for the s3 destination"},
	{Key: KeyGCSPath, Env: "GCS_PATH", Usage: "gs://bucket/prefix for the gcs destination"},
	{Key: KeyCredentials, Usage: "service account key file, overrides GOOGLE_APPLICATION_CREDENTIALS"},
	{Key: KeyRemoteDatabase, Env: "MOTHERDUCK_DATABASE", Usage: "MotherDuck database receiving the mirror"},
	{Key: KeyDuckDBPath, Env: "DUCKDB_PATH", Usage: "local DuckDB file used for staging (default in-memory)"},
	{Key: KeyOutputDir, Env: "OUTPUT_DIR", Usage: "directory for the local destination files"},
}

// EnvKey returns the environment variable bound to a setting key, or "" if none.
func EnvKey(key string) string {
	for _, f := range Fields {
		if f.Key == key {
			return f.Env
		}
	}
	return ""
}

// RequiredKeys returns the keys that must be set for every run.
func RequiredKeys() []string {
	var keys []string
	for _, f := range Fields {
		if f.Required {
			keys = append(keys, f.Key)
		}
	}
	return keys
}
