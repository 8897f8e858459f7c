package publish

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/relforge/internal/dist"
)

var summaryRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// SummaryMarkdown renders the publication summary for one variant: the
// download location, package facts and the retention notice.
func SummaryMarkdown(variant string, out *dist.Outputs, res *Result, retention time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Package published: %s\n\n", res.ObjectName)
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Variant | %s |\n", variant)
	fmt.Fprintf(&b, "| Version | %s |\n", out.Version)
	fmt.Fprintf(&b, "| Size | %d bytes |\n", res.SizeBytes)
	fmt.Fprintf(&b, "| Download | [%s](%s) |\n\n", res.ObjectName, res.DownloadURL)
	fmt.Fprintf(&b, "The download link is retained for %d days and expires %s.\n",
		int(retention.Hours())/24, res.Expires.UTC().Format(time.RFC3339))
	return b.String()
}

// SummaryHTML converts the Markdown summary to HTML for the daemon's
// run-summary endpoint.
func SummaryHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := summaryRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render summary: %w", err)
	}
	return buf.String(), nil
}
