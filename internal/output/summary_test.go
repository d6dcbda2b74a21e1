package output

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"stepchain/internal/core"
)

func init() {
	color.NoColor = true
}

func TestPrintResultSuccess(t *testing.T) {
	res := &core.Result{
		BuildID: "b-1",
		Status:  core.StatusSuccess,
		Steps: []core.StepResult{
			{StepID: "Build", Name: "gcr.io/k8s-skaffold/pack", Status: core.StatusSuccess, LogPath: "logs/b-1/00_Build.log"},
		},
		Images: []string{"us-docker.pkg.dev/demo/red:abc1234"},
	}

	var buf bytes.Buffer
	PrintResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "Build b-1")
	assert.Contains(t, out, "✔ Build")
	assert.Contains(t, out, "log logs/b-1/00_Build.log")
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "image us-docker.pkg.dev/demo/red:abc1234")
}

func TestPrintResultFailure(t *testing.T) {
	res := &core.Result{
		BuildID: "b-2",
		Status:  core.StatusFailure,
		Steps: []core.StepResult{
			{StepID: "Build", Status: core.StatusSuccess},
			{StepID: "Push", Status: core.StatusFailure, ExitCode: 1},
			{StepID: "Deploy", Status: core.StatusPending},
		},
		Failure: &core.StepFailure{StepID: "Push", Index: 1, ExitCode: 1, Status: core.StatusFailure, Err: errors.New("denied")},
	}

	var buf bytes.Buffer
	PrintResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "✘ Push")
	assert.Contains(t, out, "· Deploy")
	assert.Contains(t, out, "exit code 1")
	assert.Contains(t, out, "step Push (#1) failed with exit code 1: denied")
	assert.NotContains(t, out, "image ")
}

func TestPrintPlan(t *testing.T) {
	plan := &core.Plan{
		BuildID: "b-3",
		Steps: []core.PlannedStep{{
			Index: 0,
			Ref:   "Deploy",
			Step:  core.Step{Name: "gcr.io/google.com/cloudsdktool/cloud-sdk:slim", Entrypoint: "gcloud", Args: []string{"run", "deploy"}},
		}},
		Images: []string{"img:1"},
	}

	var buf bytes.Buffer
	PrintPlan(&buf, plan)
	out := buf.String()
	assert.Contains(t, out, "1. Deploy: gcr.io/google.com/cloudsdktool/cloud-sdk:slim [gcloud]")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "image img:1")
}
