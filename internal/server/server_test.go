package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepchain/internal/blockchain"
	"stepchain/internal/core"
	"stepchain/internal/metrics"
	"stepchain/internal/security"
)

const pipeline = `
steps:
  - name: gcr.io/k8s-skaffold/pack
    id: Build
    args: ["build", "$_IMAGE:$COMMIT_SHA"]
  - name: gcr.io/cloud-builders/docker
    id: Push
    args: ["push", "$_IMAGE:$COMMIT_SHA"]
  - name: gcr.io/google.com/cloudsdktool/cloud-sdk:slim
    id: Deploy
    entrypoint: gcloud
    args: ["run", "services", "update", "$_SERVICE_NAME"]
images: ["$_IMAGE:$COMMIT_SHA"]
substitutions:
  _IMAGE: us-docker.pkg.dev/demo/red
  _SERVICE_NAME: red
`

type stubExecutor struct {
	mu    sync.Mutex
	exits map[string]int
	ran   []string
	args  [][]string
}

func (s *stubExecutor) RunStep(_ context.Context, req core.StepRequest) (*core.StepOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, req.Ref)
	s.args = append(s.args, req.Step.Args)
	return &core.StepOutput{ExitCode: s.exits[req.Ref], Output: req.Ref + " done\n"}, nil
}

func (s *stubExecutor) Ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ran...)
}

type fixture struct {
	srv    *Server
	http   *httptest.Server
	exec   *stubExecutor
	ledger *blockchain.Ledger
}

func newFixture(t *testing.T, exits map[string]int, opts ...Option) *fixture {
	t.Helper()
	ledger, err := blockchain.OpenLedger(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	signer, err := security.GenerateSigner()
	require.NoError(t, err)

	exec := &stubExecutor{exits: exits}
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("stepchain", reg)
	runner := core.NewRunner(exec, core.WithLedger(ledger, signer), core.WithObserver(collector))

	opts = append([]Option{WithLedger(ledger), WithMetrics(collector, reg)}, opts...)
	srv := New(runner, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, http: ts, exec: exec, ledger: ledger}
}

func (f *fixture) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *fixture) submit(t *testing.T, doc, query string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(f.http.URL+"/builds?"+query, "application/yaml", strings.NewReader(doc))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func (f *fixture) waitDone(t *testing.T, id string) core.Result {
	t.Helper()
	var res core.Result
	require.Eventually(t, func() bool {
		var ok bool
		res, ok = f.srv.Build(id)
		return ok && res.Status.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return res
}

func TestSubmitAndRunBuild(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	resp, body := f.submit(t, pipeline, "commit_sha=abc1234def&sub=_SERVICE_NAME=blue")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "QUEUED", body["status"])
	require.NotEmpty(t, body["id"])

	res := f.waitDone(t, body["id"])
	assert.Equal(t, core.StatusSuccess, res.Status)
	assert.Equal(t, []string{"us-docker.pkg.dev/demo/red:abc1234def"}, res.Images)
	assert.Equal(t, []string{"Build", "Push", "Deploy"}, f.exec.Ran())
	assert.Equal(t, []string{"run", "services", "update", "blue"}, f.exec.args[2])
	assert.Equal(t, 3, f.ledger.Len())

	getResp, err := http.Get(f.http.URL + "/builds/" + body["id"])
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var got core.Result
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	assert.Equal(t, body["id"], got.BuildID)
	assert.Equal(t, core.StatusSuccess, got.Status)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, core.StatusSuccess, got.Steps[2].Status)
}

func TestFailedStepHaltsBuild(t *testing.T) {
	f := newFixture(t, map[string]int{"Push": 1})
	f.start(t)

	resp, body := f.submit(t, pipeline, "commit_sha=abc1234def")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	res := f.waitDone(t, body["id"])
	assert.Equal(t, core.StatusFailure, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "Push", res.Failure.StepID)
	assert.Equal(t, 1, res.Failure.ExitCode)
	assert.Empty(t, res.Images)
	assert.Equal(t, core.StatusPending, res.Steps[2].Status)
	assert.Equal(t, []string{"Build", "Push"}, f.exec.Ran())
}

func TestSubmitRejectsBadDocuments(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name  string
		doc   string
		query string
		want  string
	}{
		{"syntax", "steps: [", "", "parse config"},
		{"no steps", "images: [a]", "", "steps"},
		{"unknown field", "steps:\n  - name: a\n    command: b\n", "", "command"},
		{"strict miss", pipeline, "", "COMMIT_SHA"},
		{"bad override", pipeline, "commit_sha=x&sub=novalue", "KEY=VALUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.submit(t, tt.doc, tt.query)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body["error"], tt.want)
		})
	}
	assert.Empty(t, f.exec.Ran())
}

func TestQueueFull(t *testing.T) {
	f := newFixture(t, nil, WithQueueSize(1))
	// no worker: the first build stays queued

	resp, _ := f.submit(t, pipeline, "commit_sha=a")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := f.submit(t, pipeline, "commit_sha=b")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, ErrQueueFull.Error(), body["error"])
}

func TestListAndMissingBuild(t *testing.T) {
	f := newFixture(t, nil)

	_, first := f.submit(t, pipeline, "commit_sha=a")
	_, second := f.submit(t, pipeline, "commit_sha=b")

	resp, err := http.Get(f.http.URL + "/builds")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, first["id"], list[0].ID)
	assert.Equal(t, second["id"], list[1].ID)
	assert.Equal(t, "QUEUED", list[1].Status)

	missing, err := http.Get(f.http.URL + "/builds/does-not-exist")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestVerifyLedgerAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	_, body := f.submit(t, pipeline, "commit_sha=abc")
	f.waitDone(t, body["id"])

	resp, err := http.Get(f.http.URL + "/ledger/verify")
	require.NoError(t, err)
	var verify map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verify))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", verify["status"])
	assert.Equal(t, 3.0, verify["blocks"])

	f.ledger.Blocks()[1].ExitCode = 42
	resp, err = http.Get(f.http.URL + "/ledger/verify")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	mresp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `stepchain_builds_total{status="SUCCESS"} 1`)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestParseOverrides(t *testing.T) {
	got, err := parseOverrides([]string{"_A=1", "_B=x=y", "_C="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"_A": "1", "_B": "x=y", "_C": ""}, got)

	_, err = parseOverrides([]string{"=v"})
	assert.Error(t, err)
}

func TestShutdownCancelsQueuedBuilds(t *testing.T) {
	f := newFixture(t, nil)

	_, first := f.submit(t, pipeline, "commit_sha=a")
	_, second := f.submit(t, pipeline, "commit_sha=b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.srv.Run(ctx)

	for _, id := range []string{first["id"], second["id"]} {
		res, ok := f.srv.Build(id)
		require.True(t, ok)
		assert.Equal(t, core.StatusCancelled, res.Status)
		assert.NotNil(t, res.FinishedAt)
		assert.Equal(t, core.StatusPending, res.Steps[0].Status)
	}
	assert.Empty(t, f.exec.Ran())

	resp, body := f.submit(t, pipeline, "commit_sha=c")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, ErrStopped.Error(), body["error"])
}
