package output

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"stepchain/internal/core"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// PrintResult writes a human readable summary of a finished build.
func PrintResult(w io.Writer, res *core.Result) {
	fmt.Fprintf(w, "\nBuild %s\n", res.BuildID)
	for _, st := range res.Steps {
		fmt.Fprintf(w, "  %s %-20s %s%s\n", mark(st.Status), st.StepID, st.Name, duration(st))
		if st.Status != core.StatusSuccess && st.Status != core.StatusPending {
			fmt.Fprintf(w, "      exit code %d\n", st.ExitCode)
		}
		if st.LogPath != "" {
			dimColor.Fprintf(w, "      log %s\n", st.LogPath)
		}
	}

	if res.Status == core.StatusSuccess {
		okColor.Fprintf(w, "\n%s\n", res.Status)
		for _, img := range res.Images {
			fmt.Fprintf(w, "  image %s\n", img)
		}
		return
	}

	failColor.Fprintf(w, "\n%s\n", res.Status)
	if res.Failure != nil {
		fmt.Fprintf(w, "  %v\n", res.Failure)
	}
}

// PrintPlan writes the resolved steps and images without running anything.
func PrintPlan(w io.Writer, plan *core.Plan) {
	fmt.Fprintf(w, "Build %s (%d steps, timeout %s)\n", plan.BuildID, len(plan.Steps), plan.Timeout)
	for _, ps := range plan.Steps {
		fmt.Fprintf(w, "  %d. %s: %s", ps.Index+1, ps.Ref, ps.Step.Name)
		if ps.Step.Entrypoint != "" {
			fmt.Fprintf(w, " [%s]", ps.Step.Entrypoint)
		}
		fmt.Fprintln(w)
		for _, a := range ps.Step.Args {
			dimColor.Fprintf(w, "       %s\n", a)
		}
	}
	for _, img := range plan.Images {
		fmt.Fprintf(w, "  image %s\n", img)
	}
}

func mark(s core.Status) string {
	switch s {
	case core.StatusSuccess:
		return okColor.Sprint("✔")
	case core.StatusPending:
		return dimColor.Sprint("·")
	default:
		return failColor.Sprint("✘")
	}
}

func duration(st core.StepResult) string {
	if st.StartedAt == nil || st.FinishedAt == nil {
		return ""
	}
	return dimColor.Sprintf(" (%s)", st.FinishedAt.Sub(*st.StartedAt).Round(time.Millisecond))
}
