package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/withObsrvr/pypi-ingest/internal/destination"
	"github.com/withObsrvr/pypi-ingest/internal/pipeline"
)

func successResult() *pipeline.Result {
	finished := time.Date(2023, 2, 2, 6, 0, 0, 0, time.UTC)
	return &pipeline.Result{
		RowsFetched: 5,
		RowsStaged:  5,
		Steps: []pipeline.StepTiming{
			{Name: pipeline.StepQuery, Elapsed: 1500 * time.Millisecond},
			{Name: pipeline.StepStage, Elapsed: 200 * time.Millisecond},
		},
		Report: destination.Report{
			Completed: []string{"s3", "local"},
			Durations: map[string]time.Duration{"s3": 2 * time.Second, "local": time.Second},
		},
		Started:  finished.Add(-5 * time.Second),
		Finished: finished,
	}
}

func TestObserveSuccess(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)

	res := successResult()
	r.Observe(res, nil)

	assert.Equal(t, 1.5, testutil.ToFloat64(r.queryDuration))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.rowsFetched))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.rowsStaged))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.destinationDuration.WithLabelValues("s3")))
	assert.Equal(t, float64(res.Finished.Unix()), testutil.ToFloat64(r.lastSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("success")))
	assert.Equal(t, 0, testutil.CollectAndCount(r.destinationFailures))
}

func TestObserveFailure(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)

	res := successResult()
	res.Report.Completed = []string{"s3"}
	res.Report.Failed = "local"
	r.Observe(res, errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.destinationFailures.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.lastSuccess))

	r.Observe(nil, errors.New("config"))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("failure")))
}

func TestPush(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		mu.Lock()
		path = req.URL.Path
		body = string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, err := NewRecorder()
	require.NoError(t, err)
	r.Observe(successResult(), nil)

	err = r.Push(context.Background(), srv.URL, "", map[string]string{"pypi_project": "duckdb"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(path, "/metrics/job/"+DefaultJob), path)
	assert.Contains(t, path, "/pypi_project/duckdb")
	assert.Contains(t, body, "pypi_ingest_rows_staged")
}

func TestPushErrors(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)

	assert.Error(t, r.Push(context.Background(), "", "", nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	assert.Error(t, r.Push(context.Background(), srv.URL, "job", nil))
}
