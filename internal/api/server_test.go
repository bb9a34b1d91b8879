package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvhal/replagent/internal/adapters/sandbox"
	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
	"github.com/arvhal/replagent/internal/core/services"
)

type fixedLLM struct {
	response string
}

func (f *fixedLLM) GenerateText(ctx context.Context, prompt string) (string, error) {
	return f.response, nil
}

func newTestServer(t *testing.T, llm ports.LLMProvider) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := slog.New(slog.DiscardHandler)
	sched := services.NewPipelineScheduler(logger, services.SchedulerConfig{})
	sched.Start(ctx)
	ingestor := services.NewIngestor(logger, services.IngestConfig{})
	bus := services.NewEventBus(logger)
	newExec := func() ports.Executor {
		return sandbox.NewStarlarkExecutor(logger, sandbox.StarlarkConfig{Timeout: 5 * time.Second})
	}

	orch := services.NewOrchestrator(logger, sched, ingestor, llm, newExec, bus, nil, services.OrchestratorConfig{})

	ts := httptest.NewServer(NewServer(logger, orch, bus, "", 1).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJob(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fixedLLM{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartJobAndPollToCompletion(t *testing.T) {
	ts := newTestServer(t, &fixedLLM{response: "FINAL_ANSWER: one invoice violates policy"})

	resp := postJob(t, ts, `{
		"query": "which invoices violate policy?",
		"documents": [
			{"locator": "Invoice_0001.txt", "content": "Amount: $2400.00\nStatus: VIOLATION"}
		]
	}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.JobID)
	assert.Equal(t, "queued", started.Status)

	var job domain.Job
	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("%s/api/jobs/%s", ts.URL, started.JobID))
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			return false
		}
		return job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Contains(t, *job.Result, "violates policy")
	assert.Equal(t, 100, job.Progress)
}

func TestStartJobRejectsEmptyQuery(t *testing.T) {
	ts := newTestServer(t, &fixedLLM{})

	resp := postJob(t, ts, `{"query": "", "source": {"type": "demo", "count": 5}}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartJobRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, &fixedLLM{})

	resp := postJob(t, ts, `{"query": `)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartJobRejectsUnknownSourceType(t *testing.T) {
	ts := newTestServer(t, &fixedLLM{})

	resp := postJob(t, ts, `{"query": "q", "source": {"type": "carrier-pigeon"}}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobStatusNotFound(t *testing.T) {
	ts := newTestServer(t, &fixedLLM{})

	resp, err := http.Get(ts.URL + "/api/jobs/" + string(domain.NewJobID()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobEventsEndAfterTerminalJob(t *testing.T) {
	ts := newTestServer(t, &fixedLLM{response: "FINAL_ANSWER: done"})

	resp := postJob(t, ts, `{"query": "q", "documents": [{"locator": "a.txt", "content": "x"}]}`)
	var started struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()

	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("%s/api/jobs/%s", ts.URL, started.JobID))
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var job domain.Job
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			return false
		}
		return job.Terminal()
	}, 10*time.Second, 20*time.Millisecond)

	// The stream must end on its own for a finished job, not wait for the
	// client to hang up.
	client := &http.Client{Timeout: 5 * time.Second}
	r, err := client.Get(fmt.Sprintf("%s/api/jobs/%s/events", ts.URL, started.JobID))
	require.NoError(t, err)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: status")
	assert.Contains(t, string(body), `"Status":"completed"`)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, &fixedLLM{response: "FINAL_ANSWER: done"})

	resp := postJob(t, ts, `{"query": "q", "documents": [{"locator": "a.txt", "content": "x"}]}`)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	r, err := http.Get(ts.URL + "/api/jobs")
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)

	var listing struct {
		Jobs []domain.Job `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&listing))
	assert.Len(t, listing.Jobs, 1)
}
