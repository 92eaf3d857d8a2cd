package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Remote submits jobs to a managed batch/job HTTP API:
//
//	POST   {endpoint}/v1/jobs          -> {"id": ...}
//	GET    {endpoint}/v1/jobs/{id}     -> {"state": ..., "exit_code": ...}
//	DELETE {endpoint}/v1/jobs/{id}       (cooperative cancel)
//
// The working directory must be on storage shared with the remote workers
// (the scratch root is expected to be a mounted network volume), so output
// collection and stream capture still happen locally after the job ends.
//
// Submit and poll failures (network errors, 5xx) are transient backend
// errors; wrap a Remote in Retrying to get bounded exponential backoff.
// The job's own non-zero exit is never retried.
type Remote struct {
	Endpoint     string
	Client       *http.Client
	PollInterval time.Duration
}

// NewRemote creates a remote job-API backend.
func NewRemote(endpoint string) *Remote {
	return &Remote{
		Endpoint:     endpoint,
		Client:       &http.Client{Timeout: 30 * time.Second},
		PollInterval: 2 * time.Second,
	}
}

func (r *Remote) Name() string { return "remote" }

type remoteJobRequest struct {
	InstanceID string `json:"instance_id"`
	Command    string `json:"command"`
	WorkDir    string `json:"work_dir"`
	Image      string `json:"image,omitempty"`
	CPUs       int    `json:"cpus,omitempty"`
	MemoryMB   int    `json:"memory_mb,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

type remoteJobStatus struct {
	ID       string `json:"id"`
	State    string `json:"state"` // pending | running | succeeded | failed | timeout
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Submit submits the job and polls until it reaches a terminal state.
func (r *Remote) Submit(ctx context.Context, job JobSpec) (JobResult, error) {
	req := remoteJobRequest{
		InstanceID: job.InstanceID,
		Command:    job.Command,
		WorkDir:    job.WorkDir,
		Image:      job.Image,
		CPUs:       job.Resources.CPUs,
		MemoryMB:   job.Resources.MemoryMB,
		TimeoutSec: int(job.Timeout / time.Second),
	}

	status, err := r.post(ctx, job.InstanceID, req)
	if err != nil {
		return JobResult{}, err
	}

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()
	for status.State == "pending" || status.State == "running" {
		select {
		case <-ctx.Done():
			// Best-effort cooperative cancel; the API may take a while.
			r.cancel(job.InstanceID, status.ID)
			return JobResult{}, ctx.Err()
		case <-ticker.C:
		}
		status, err = r.poll(ctx, job.InstanceID, status.ID)
		if err != nil {
			return JobResult{}, err
		}
	}

	result := JobResult{
		ExitCode:   status.ExitCode,
		StdoutPath: job.WorkDir + "/" + StdoutFile,
		StderrPath: job.WorkDir + "/" + StderrFile,
	}

	switch status.State {
	case "succeeded":
		produced, err := collectOutputs(job)
		if err != nil {
			return result, err
		}
		result.Produced = produced
		return result, nil
	case "timeout":
		return result, pipeline.NewTimeoutError(job.InstanceID, "remote job exceeded wall-clock budget")
	case "failed":
		detail := status.Error
		if detail == "" {
			detail = tailFile(result.StderrPath, 2048)
		}
		return result, pipeline.NewExecError(job.InstanceID,
			fmt.Sprintf("remote job exited %d: %s", status.ExitCode, detail), nil)
	default:
		return result, pipeline.NewTransientError(job.InstanceID,
			fmt.Sprintf("remote job in unexpected state %q", status.State), nil)
	}
}

func (r *Remote) post(ctx context.Context, instance string, req remoteJobRequest) (remoteJobStatus, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return remoteJobStatus{}, fmt.Errorf("marshal job request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return remoteJobStatus{}, pipeline.NewTransientError(instance, "building submit request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return r.do(instance, httpReq)
}

func (r *Remote) poll(ctx context.Context, instance, jobID string) (remoteJobStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return remoteJobStatus{}, pipeline.NewTransientError(instance, "building poll request", err)
	}
	return r.do(instance, httpReq)
}

func (r *Remote) cancel(instance, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.Endpoint+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return
	}
	resp, err := r.Client.Do(httpReq)
	if err == nil {
		resp.Body.Close()
	}
}

func (r *Remote) do(instance string, req *http.Request) (remoteJobStatus, error) {
	resp, err := r.Client.Do(req)
	if err != nil {
		return remoteJobStatus{}, pipeline.NewTransientError(instance, "talking to job API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return remoteJobStatus{}, pipeline.NewTransientError(instance,
			fmt.Sprintf("job API returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return remoteJobStatus{}, pipeline.NewExecError(instance,
			fmt.Sprintf("job API rejected request (%d): %s", resp.StatusCode, string(body)), nil)
	}

	var status remoteJobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return remoteJobStatus{}, pipeline.NewTransientError(instance, "decoding job API response", err)
	}
	return status, nil
}
