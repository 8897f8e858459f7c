package daemon

import (
	"fmt"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/relforge/internal/history"
	"git.home.luguber.info/inful/relforge/internal/publish"
)

// runSummaryMarkdown renders one run's history as a GFM document.
func runSummaryMarkdown(run history.RunRecord, jobs []history.JobRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "Trigger **%s** on `%s`, outcome **%s**.\n\n", run.Trigger, run.Ref, run.Outcome)
	fmt.Fprintf(&b, "| Variant | Status | Package | Size | Duration | Error |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	for _, j := range jobs {
		errText := j.Error
		if errText == "" {
			errText = "-"
		}
		pkg := j.PackageName
		if pkg == "" {
			pkg = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %dms | %s |\n",
			j.Variant, j.Status, pkg, j.PackageSize, j.Duration.Milliseconds(), errText)
	}
	return b.String()
}

// handleRunSummary serves a rendered HTML summary of one run.
func (s *Server) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	if s.daemon.store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	runID := r.PathValue("id")
	run, err := s.daemon.store.Run(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	jobs, err := s.daemon.store.JobsForRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	html, err := publish.SummaryHTML(runSummaryMarkdown(*run, jobs))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
