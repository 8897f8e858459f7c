package config

import "time"

// ProjectConfig identifies the source project the pipeline builds.
type ProjectConfig struct {
	// Name is the distribution name; it becomes the artifact file name stem
	// and the Name field of package metadata.
	Name string `yaml:"name"`
	// Remote is the git URL revisions are resolved against.
	Remote string `yaml:"remote"`
	// TrunkBranch is the default revision reference for manual dispatches
	// that carry no explicit ref. Defaults to "master".
	TrunkBranch string `yaml:"trunk_branch,omitempty"`
	// BaseVersion seeds the computed package version when the built revision
	// is not a release tag. Defaults to "0.0.0".
	BaseVersion string `yaml:"base_version,omitempty"`
}

// Variant is one packaging configuration: a named selector over the source
// tree. Adding a variant is a config change, never a code change.
type Variant struct {
	Name string `yaml:"name"`
	// Include holds path glob patterns (doublestar-less, path.Match per
	// segment with ** support) selecting files for this variant's
	// distribution. Empty means the whole tree.
	Include []string `yaml:"include,omitempty"`
	// Exclude patterns are removed after Include is applied.
	Exclude []string `yaml:"exclude,omitempty"`
	// InstallSubpath is the repository sub-directory the remote install
	// check targets for non-default variants ("" = repository root).
	InstallSubpath string `yaml:"install_subpath,omitempty"`
	// Default marks the variant whose remote install check uses the
	// repository root regardless of InstallSubpath.
	Default bool `yaml:"default,omitempty"`
}

// AssetsConfig describes the UI asset build that runs before packaging.
type AssetsConfig struct {
	// Command is the argv of the asset build ("" disables the stage).
	Command []string `yaml:"command,omitempty"`
	// Dir is the working directory of the command, relative to the checkout.
	Dir string `yaml:"dir,omitempty"`
	// Output is the directory (relative to the checkout) the command must
	// produce; the stage fails when it is missing afterwards.
	Output string `yaml:"output,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
}

// ScheduleConfig is one recurring trunk build.
type ScheduleConfig struct {
	Name     string `yaml:"name"`
	Interval string `yaml:"interval"` // duration string, e.g. "24h"
}

// TriggersConfig declares which events start pipeline runs.
type TriggersConfig struct {
	// PushBranches holds branch name patterns (path.Match syntax) that
	// accept push triggers.
	PushBranches []string `yaml:"push_branches,omitempty"`
	// PullRequests enables pull-request triggers (draft PRs are always
	// ignored).
	PullRequests bool `yaml:"pull_requests,omitempty"`
	// Schedules lists recurring trunk builds (daemon mode only).
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
}

// VerifyConfig tunes the verification stage.
type VerifyConfig struct {
	// ParityFatal controls whether a manifest parity mismatch between the
	// source archive and the binary package fails the run. Defaults to true.
	ParityFatal *bool `yaml:"parity_fatal,omitempty"`
	// PRInstallScript is an auxiliary installer script run against the
	// merge ref for pull-request triggers ("" disables the check).
	PRInstallScript string `yaml:"pr_install_script,omitempty"`
}

// ParityIsFatal resolves the ParityFatal default.
func (v VerifyConfig) ParityIsFatal() bool { return v.ParityFatal == nil || *v.ParityFatal }

// PublishConfig configures artifact publication to an S3-compatible store.
type PublishConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	// Retention bounds how long a published package stays downloadable.
	// Defaults to 168h (7 days).
	Retention string `yaml:"retention,omitempty"`
}

// BuildConfig holds pipeline execution knobs.
type BuildConfig struct {
	// Timeout is the per-variant-job wall clock ceiling. Defaults to 20m.
	Timeout string `yaml:"timeout,omitempty"`
	// OutputDir receives the produced artifacts; empty means a directory
	// inside the run workspace.
	OutputDir string `yaml:"output_dir,omitempty"`
}

// DaemonConfig configures daemon mode.
type DaemonConfig struct {
	Listen  string `yaml:"listen,omitempty"` // default ":8441"
	Metrics bool   `yaml:"metrics,omitempty"`
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	// Path of the sqlite database file; ":memory:" is accepted for tests.
	// Empty disables history.
	Path string `yaml:"path,omitempty"`
}

// EventsConfig configures optional run lifecycle event publishing over NATS.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"` // default "relforge.runs"
}

// Config is the root configuration document.
type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Variants []Variant      `yaml:"variants"`
	Assets   AssetsConfig   `yaml:"assets,omitempty"`
	Triggers TriggersConfig `yaml:"triggers,omitempty"`
	Verify   VerifyConfig   `yaml:"verify,omitempty"`
	Publish  PublishConfig  `yaml:"publish,omitempty"`
	Build    BuildConfig    `yaml:"build,omitempty"`
	Daemon   DaemonConfig   `yaml:"daemon,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Events   EventsConfig   `yaml:"events,omitempty"`
}

// JobTimeout parses Build.Timeout with its default applied.
func (c *Config) JobTimeout() time.Duration {
	d, err := time.ParseDuration(c.Build.Timeout)
	if err != nil || d <= 0 {
		return 20 * time.Minute
	}
	return d
}

// RetentionWindow parses Publish.Retention with its default applied.
func (c *Config) RetentionWindow() time.Duration {
	d, err := time.ParseDuration(c.Publish.Retention)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// VariantByName returns the named variant.
func (c *Config) VariantByName(name string) (Variant, bool) {
	for _, v := range c.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}
