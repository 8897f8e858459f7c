package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyJobID      = "job_id"
	KeyVariant    = "variant"
	KeyStage      = "stage"
	KeyTrigger    = "trigger"
	KeyRef        = "ref"
	KeyRevision   = "revision"
	KeyDurationMS = "duration_ms"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyName       = "name"
	KeyArtifact   = "artifact"
	KeySizeBytes  = "size_bytes"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func Variant(v string) slog.Attr      { return slog.String(KeyVariant, v) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Trigger(t string) slog.Attr      { return slog.String(KeyTrigger, t) }
func Ref(r string) slog.Attr          { return slog.String(KeyRef, r) }
func Revision(rev string) slog.Attr   { return slog.String(KeyRevision, rev) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Name(n string) slog.Attr         { return slog.String(KeyName, n) }
func Artifact(a string) slog.Attr     { return slog.String(KeyArtifact, a) }
func SizeBytes(n int64) slog.Attr     { return slog.Int64(KeySizeBytes, n) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
