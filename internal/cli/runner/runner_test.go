package runner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/credentials"
	"github.com/withObsrvr/pypi-ingest/internal/destination"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
	"github.com/withObsrvr/pypi-ingest/internal/pipeline"
	"github.com/withObsrvr/pypi-ingest/internal/warehouse/warehousetest"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParametersPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "pypi.yaml", `
start_date: "2022-01-01"
end_date: "2022-02-01"
pypi_project: from-file
table_name: file_downloads
gcp_project: file-project
timestamp_column: timestamp
destination:
  - local
  - s3
s3_path: s3://file-bucket
`)
	envFile := writeFile(t, dir, ".env", "PYPI_PROJECT=from-dotenv\nGCP_PROJECT=dotenv-project\n")

	r, err := New(Options{
		ConfigFile: cfg,
		EnvFile:    envFile,
		Flags:      map[string]string{config.KeyStartDate: "2023-01-01", config.KeyEndDate: "2023-02-01"},
		Lookup:     mapLookup(map[string]string{"GCP_PROJECT": "env-project"}),
	})
	require.NoError(t, err)

	p, err := r.Parameters()
	require.NoError(t, err)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"flag wins over file", p.StartDate, "2023-01-01"},
		{"process env wins over env file", p.GCPProject, "env-project"},
		{"env file wins over config file", p.PyPIProject, "from-dotenv"},
		{"config file is the fallback", p.TableName, "file_downloads"},
		{"config list joins", strings.Join(p.DestinationNames(), ","), "s3,local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestMissingEnvFileIgnored(t *testing.T) {
	r, err := New(Options{
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
		Lookup:  mapLookup(nil),
	})
	require.NoError(t, err)

	_, err = r.Parameters()
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
	for _, key := range config.RequiredKeys() {
		assert.Contains(t, err.Error(), key)
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := New(Options{
		ConfigFile: filepath.Join(t.TempDir(), "absent.yaml"),
		EnvFile:    filepath.Join(t.TempDir(), "absent.env"),
		Lookup:     mapLookup(nil),
	})
	assert.Error(t, err)
}

func TestSettingsYAML(t *testing.T) {
	r, err := New(Options{
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
		Lookup:  mapLookup(nil),
		Flags: map[string]string{
			config.KeyStartDate:       "2023-01-01",
			config.KeyEndDate:         "2023-02-01",
			config.KeyPyPIProject:     "duckdb",
			config.KeyTableName:       "file_downloads",
			config.KeyGCPProject:      "duckdb-pypi",
			config.KeyTimestampColumn: "timestamp",
			config.KeyDestination:     "local",
		},
	})
	require.NoError(t, err)
	p, err := r.Parameters()
	require.NoError(t, err)

	out, err := SettingsYAML(p)
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.HasPrefix(text, "start_date: "), text)
	assert.Contains(t, text, "start_date: \"2023-01-01\"\n")
	assert.Contains(t, text, "remote_database: pypi\n")
	assert.Contains(t, text, "s3_path: \"\"\n")
	assert.Less(t, strings.Index(text, "destination:"), strings.Index(text, "output_dir:"))
}

func TestRunReportsOutcome(t *testing.T) {
	dir := t.TempDir()
	key := writeFile(t, dir, "sa.json", `{"type":"service_account","project_id":"duckdb-pypi"}`)

	var (
		mu         sync.Mutex
		pushedPath string
		slackText  string
	)
	pushgw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		pushedPath = req.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer pushgw.Close()
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var msg slack.WebhookMessage
		_ = json.Unmarshal(body, &msg)
		mu.Lock()
		slackText = msg.Text
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	outDir := filepath.Join(dir, "out")
	env := map[string]string{
		credentials.EnvVar:  key,
		"START_DATE":        "2023-01-01",
		"END_DATE":          "2023-02-01",
		"PYPI_PROJECT":      "duckdb",
		"TABLE_NAME":        "file_downloads",
		"GCP_PROJECT":       "duckdb-pypi",
		"TIMESTAMP_COLUMN":  "timestamp",
		"DESTINATION":       "local",
		"OUTPUT_DIR":        outDir,
		"SLACK_WEBHOOK_URL": hook.URL,
	}
	engine := &warehousetest.Engine{Rows: warehousetest.WindowScenario()}
	r, err := New(Options{
		EnvFile:        filepath.Join(dir, "absent.env"),
		Lookup:         mapLookup(env),
		PushgatewayURL: pushgw.URL,
		Deps:           pipeline.Deps{Dialer: engine.Dialer()},
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.RowsStaged)
	assert.FileExists(t, filepath.Join(outDir, destination.LocalParquetFile))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, pushedPath, "/pypi_project/duckdb")
	assert.Contains(t, slackText, "pypi-ingest succeeded for duckdb")
}

func TestRunReportingFailureDoesNotFailRun(t *testing.T) {
	dir := t.TempDir()
	key := writeFile(t, dir, "sa.json", `{"type":"service_account","project_id":"duckdb-pypi"}`)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	engine := &warehousetest.Engine{Rows: warehousetest.WindowScenario()}
	r, err := New(Options{
		EnvFile: filepath.Join(dir, "absent.env"),
		Lookup:  mapLookup(map[string]string{credentials.EnvVar: key}),
		Flags: map[string]string{
			config.KeyStartDate:       "2023-01-01",
			config.KeyEndDate:         "2023-02-01",
			config.KeyPyPIProject:     "duckdb",
			config.KeyTableName:       "file_downloads",
			config.KeyGCPProject:      "duckdb-pypi",
			config.KeyTimestampColumn: "timestamp",
			config.KeyDestination:     "local",
			config.KeyOutputDir:       filepath.Join(dir, "out"),
		},
		PushgatewayURL: broken.URL,
		SlackWebhook:   broken.URL,
		Deps:           pipeline.Deps{Dialer: engine.Dialer()},
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.NoError(t, err)
}

func TestRunConfigurationErrorIsReturned(t *testing.T) {
	r, err := New(Options{
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
		Lookup:  mapLookup(nil),
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}
