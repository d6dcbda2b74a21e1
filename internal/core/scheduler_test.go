package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanResolvesDeployPipeline(t *testing.T) {
	build, err := LoadConfig(filepath.Join("testdata", "cloudbuild.yaml"))
	require.NoError(t, err)

	env := BuildEnv{BuildID: "b-42", ProjectID: "proj", RepoName: "photos", CommitSHA: "abc123"}
	table, err := NewTable(build, env, nil)
	require.NoError(t, err)

	plan, err := NewScheduler().Plan(build, table)
	require.NoError(t, err)

	image := "us-central1-docker.pkg.dev/proj/cloud-run-source-deploy/photos/red:abc123"
	assert.Equal(t, "b-42", plan.BuildID)
	assert.Equal(t, image, plan.Steps[0].Step.Args[1])
	assert.Equal(t, []string{"push", image}, plan.Steps[1].Step.Args)
	assert.Equal(t, "red", plan.Steps[2].Step.Args[3])
	assert.Contains(t, plan.Steps[2].Step.Args, "--region=us-central1")
	assert.Contains(t, plan.Steps[2].Step.Args,
		"--labels=managed-by=gcp-cloud-build-deploy-cloud-run,commit-sha=abc123,gcb-build-id=b-42,gcb-trigger-id=7a1c2b3d-trigger")
	assert.Equal(t, []string{image}, plan.Images)

	// the parsed build is not touched by resolution
	assert.Contains(t, build.Steps[1].Args[1], "$COMMIT_SHA")
}

func TestPlanKeepsDeclaredOrder(t *testing.T) {
	build := &Build{Steps: []Step{{Name: "c", ID: "3"}, {Name: "a", ID: "1"}, {Name: "b"}}}
	table, err := NewTable(build, BuildEnv{BuildID: "b"}, nil)
	require.NoError(t, err)

	plan, err := NewScheduler().Plan(build, table)
	require.NoError(t, err)

	var refs []string
	for i := 0; ; i++ {
		ps, ok := NewScheduler().NextStep(plan, i)
		if !ok {
			break
		}
		refs = append(refs, ps.Ref)
	}
	assert.Equal(t, []string{"3", "1", "step-2"}, refs)
}

func TestPlanStrictMissFailsBeforeAnything(t *testing.T) {
	build := &Build{Steps: []Step{
		{Name: "ok", Args: []string{"fine"}},
		{Name: "deploy", Args: []string{"--image=$_IMAGE"}},
	}}
	table, err := NewTable(build, BuildEnv{BuildID: "b"}, nil)
	require.NoError(t, err)

	_, err = NewScheduler().Plan(build, table)
	var unresolved *UnresolvedVariableError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "_IMAGE", unresolved.Variable)
	assert.Equal(t, "steps[1].args[0]", unresolved.Field)
}

func TestPlanUnresolvedImage(t *testing.T) {
	build := &Build{Steps: []Step{{Name: "ok"}}, Images: []string{"gcr.io/$PROJECT_ID/app"}}
	table, err := NewTable(build, BuildEnv{BuildID: "b"}, nil)
	require.NoError(t, err)

	_, err = NewScheduler().Plan(build, table)
	var unresolved *UnresolvedVariableError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "images[0]", unresolved.Field)
}

func TestPlanResolvesEnvDirAndEntrypoint(t *testing.T) {
	build := &Build{
		Steps: []Step{{
			Name:       "gcr.io/$PROJECT_ID/tool",
			Entrypoint: "${_BIN}",
			Dir:        "svc/$_SVC",
			Env:        []string{"TARGET=$_SVC"},
		}},
		Substitutions: map[string]string{"_BIN": "make", "_SVC": "red"},
	}
	table, err := NewTable(build, BuildEnv{BuildID: "b", ProjectID: "p"}, nil)
	require.NoError(t, err)

	plan, err := NewScheduler().Plan(build, table)
	require.NoError(t, err)

	s := plan.Steps[0].Step
	assert.Equal(t, "gcr.io/p/tool", s.Name)
	assert.Equal(t, "make", s.Entrypoint)
	assert.Equal(t, "svc/red", s.Dir)
	assert.Equal(t, []string{"TARGET=red"}, s.Env)
}

func TestPlanResolvesTags(t *testing.T) {
	build := &Build{
		Steps:         []Step{{Name: "ok"}},
		Tags:          []string{"svc-$_SERVICE_NAME", "${BRANCH_NAME}", "static"},
		Substitutions: map[string]string{"_SERVICE_NAME": "red"},
	}
	table, err := NewTable(build, BuildEnv{BuildID: "b", BranchName: "main"}, nil)
	require.NoError(t, err)

	plan, err := NewScheduler().Plan(build, table)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-red", "main", "static"}, plan.Tags)
	assert.Equal(t, "svc-$_SERVICE_NAME", build.Tags[0])
}

func TestPlanUnresolvedTag(t *testing.T) {
	build := &Build{
		Steps:         []Step{{Name: "ok"}},
		Tags:          []string{"svc-$_SERVICE_NAME", "${_MISSING}"},
		Substitutions: map[string]string{"_SERVICE_NAME": "red"},
	}
	table, err := NewTable(build, BuildEnv{BuildID: "b"}, nil)
	require.NoError(t, err)

	_, err = NewScheduler().Plan(build, table)
	var unresolved *UnresolvedVariableError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "_MISSING", unresolved.Variable)
	assert.Equal(t, "tags[1]", unresolved.Field)

	build.Options.SubstitutionOption = SubstitutionAllowLoose
	plan, err := NewScheduler().Plan(build, table)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-red", "${_MISSING}"}, plan.Tags)
}
