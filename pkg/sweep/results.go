package sweep

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Results is the per-sweep artifact store. All artifact names derive from
// RunConfiguration.Name() so that a run's log, metrics series, raw result
// and summary can be correlated without any index file.
type Results struct {
	dir string
}

// NewResults creates the artifact directory if needed.
func NewResults(dir string) (*Results, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating results directory %q failed", dir)
	}
	return &Results{dir: dir}, nil
}

// Dir returns the artifact directory.
func (r *Results) Dir() string {
	return r.dir
}

// LogPath is the combined stdout/stderr capture of the benchmark invocation.
func (r *Results) LogPath(c RunConfiguration) string {
	return filepath.Join(r.dir, c.Name()+".log")
}

// SummaryPath is the derived per-run digest.
func (r *Results) SummaryPath(c RunConfiguration) string {
	return filepath.Join(r.dir, c.Name()+"_summary.json")
}

// MetricsPath is the per-run metrics sample series, one JSON line per sample.
func (r *Results) MetricsPath(c RunConfiguration) string {
	return filepath.Join(r.dir, c.Name()+"_metrics.jsonl")
}

// ArtifactPath is the copy of the benchmark tool's own structured result.
func (r *Results) ArtifactPath(c RunConfiguration) string {
	return filepath.Join(r.dir, c.Name()+"_test_execution.json")
}

// WriteSummary persists the derived summary for a run.
func (r *Results) WriteSummary(c RunConfiguration, summary *Summary) error {
	content, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling run summary failed")
	}
	path := r.SummaryPath(c)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return errors.Wrapf(err, "writing run summary %q failed", path)
	}
	return nil
}
