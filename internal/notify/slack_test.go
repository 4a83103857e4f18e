package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/destination"
	"github.com/withObsrvr/pypi-ingest/internal/pipeline"
)

func result(t *testing.T) *pipeline.Result {
	t.Helper()
	p, err := config.Load(config.MapSource(map[string]string{
		config.KeyStartDate:       "2023-01-01",
		config.KeyEndDate:         "2023-02-01",
		config.KeyPyPIProject:     "duckdb",
		config.KeyTableName:       "file_downloads",
		config.KeyGCPProject:      "duckdb-pypi",
		config.KeyTimestampColumn: "timestamp",
		config.KeyDestination:     "s3,local",
		config.KeyS3Path:          "s3://bucket",
	}))
	require.NoError(t, err)
	start := time.Date(2023, 2, 2, 6, 0, 0, 0, time.UTC)
	return &pipeline.Result{
		Params:      p,
		RowsFetched: 5,
		RowsStaged:  5,
		Report:      destination.Report{Completed: []string{"s3", "local"}},
		Started:     start,
		Finished:    start.Add(3 * time.Second),
	}
}

func TestSummary(t *testing.T) {
	res := result(t)
	assert.Equal(t,
		":white_check_mark: pypi-ingest succeeded for duckdb [2023-01-01, 2023-02-01) into file_downloads\n"+
			"rows fetched: 5, rows staged: 5\n"+
			"destinations written: s3, local\n"+
			"duration: 3s",
		Summary(res, nil))

	res.Report = destination.Report{Completed: []string{"s3"}, Failed: "local"}
	text := Summary(res, errors.New("destination local: disk full"))
	assert.Contains(t, text, ":x: pypi-ingest failed")
	assert.Contains(t, text, "destination failed: local")
	assert.Contains(t, text, "error: destination local: disk full")

	assert.Equal(t, ":x: pypi-ingest failed\nerror: boom", Summary(nil, errors.New("boom")))
}

func TestNewWithoutConfigIsNil(t *testing.T) {
	assert.Nil(t, New())
	assert.Nil(t, New(WithWebhook(""), WithBot("", []string{"#data"})))
	assert.Nil(t, New(WithBot("xoxb-token", nil)))

	var n *Notifier
	assert.NoError(t, n.Notify(context.Background(), nil, nil))
}

func TestNotifyWebhook(t *testing.T) {
	var got slack.WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(WithWebhook(srv.URL))
	require.NotNil(t, n)
	require.NoError(t, n.Notify(context.Background(), result(t), nil))
	assert.Contains(t, got.Text, "pypi-ingest succeeded for duckdb")
}

func TestNotifyWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := New(WithWebhook(srv.URL)).Notify(context.Background(), result(t), nil)
	assert.Error(t, err)
}

func TestNotifyBotChannels(t *testing.T) {
	var channels []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		channels = append(channels, r.Form.Get("channel"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"` + r.Form.Get("channel") + `","ts":"1.0"}`))
	}))
	defer srv.Close()

	n := New(WithBot("xoxb-token", []string{"C1", "C2"}, slack.OptionAPIURL(srv.URL+"/")))
	require.NotNil(t, n)
	require.NoError(t, n.Notify(context.Background(), result(t), nil))
	assert.Equal(t, []string{"C1", "C2"}, channels)
}
