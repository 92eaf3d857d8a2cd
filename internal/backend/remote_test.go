package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// jobAPI is a minimal in-memory job API test server. Each job progresses
// pending -> running -> final after a fixed number of polls.
type jobAPI struct {
	final    remoteJobStatus
	polls    atomic.Int32
	cancels  atomic.Int32
	pollsTo  int32
	onSubmit func(remoteJobRequest)
}

func (a *jobAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req remoteJobRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if a.onSubmit != nil {
			a.onSubmit(req)
		}
		_ = json.NewEncoder(w).Encode(remoteJobStatus{ID: "job-1", State: "pending"})
	})
	mux.HandleFunc("GET /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		status := remoteJobStatus{ID: "job-1", State: "running"}
		if a.polls.Add(1) >= a.pollsTo {
			status = a.final
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("DELETE /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		a.cancels.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func fastRemote(endpoint string) *Remote {
	r := NewRemote(endpoint)
	r.PollInterval = 5 * time.Millisecond
	return r
}

func TestRemoteSucceededJob(t *testing.T) {
	api := &jobAPI{pollsTo: 2, final: remoteJobStatus{ID: "job-1", State: "succeeded"}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	workdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "genes.results"), []byte("x"), 0o644))

	var submitted remoteJobRequest
	api.onSubmit = func(req remoteJobRequest) { submitted = req }

	job := JobSpec{
		InstanceID: "quant:S1",
		Command:    "quant ref.idx reads.fq",
		WorkDir:    workdir,
		Outputs:    []pipeline.Output{{Name: "genes", Glob: "genes.results"}},
		Resources:  pipeline.Resources{CPUs: 4, MemoryMB: 8192},
		Timeout:    time.Hour,
	}
	res, err := fastRemote(srv.URL).Submit(context.Background(), job)
	require.NoError(t, err)

	assert.Len(t, res.Produced["genes"], 1)
	assert.Equal(t, "quant:S1", submitted.InstanceID)
	assert.Equal(t, 4, submitted.CPUs)
	assert.Equal(t, 3600, submitted.TimeoutSec)
}

func TestRemoteFailedJob(t *testing.T) {
	api := &jobAPI{pollsTo: 1, final: remoteJobStatus{ID: "job-1", State: "failed", ExitCode: 2, Error: "segfault"}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	_, err := fastRemote(srv.URL).Submit(context.Background(), JobSpec{InstanceID: "quant:S1", WorkDir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, pipeline.KindExecution, pipeline.KindOf(err))
	assert.Contains(t, err.Error(), "segfault")
}

func TestRemoteTimeoutJob(t *testing.T) {
	api := &jobAPI{pollsTo: 1, final: remoteJobStatus{ID: "job-1", State: "timeout"}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	_, err := fastRemote(srv.URL).Submit(context.Background(), JobSpec{InstanceID: "quant:S1", WorkDir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, pipeline.KindTimeout, pipeline.KindOf(err))
}

func TestRemoteUnreachableIsTransient(t *testing.T) {
	_, err := fastRemote("http://127.0.0.1:1").Submit(context.Background(), JobSpec{InstanceID: "quant:S1"})
	require.Error(t, err)
	assert.True(t, pipeline.IsTransientError(err), "network failures are retryable")
}

func TestRemoteServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fastRemote(srv.URL).Submit(context.Background(), JobSpec{InstanceID: "quant:S1"})
	require.Error(t, err)
	assert.True(t, pipeline.IsTransientError(err))
}

func TestRemoteBadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown image", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastRemote(srv.URL).Submit(context.Background(), JobSpec{InstanceID: "quant:S1"})
	require.Error(t, err)
	assert.Equal(t, pipeline.KindExecution, pipeline.KindOf(err), "a rejected spec will be rejected again")
}

func TestRemoteCancellation(t *testing.T) {
	api := &jobAPI{pollsTo: 1000, final: remoteJobStatus{}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := fastRemote(srv.URL).Submit(ctx, JobSpec{InstanceID: "quant:S1", WorkDir: t.TempDir()})
	require.Error(t, err)
	assert.Eventually(t, func() bool { return api.cancels.Load() > 0 },
		time.Second, 10*time.Millisecond, "cancellation issues a DELETE to the job API")
}
