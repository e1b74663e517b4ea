package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Check is one named check.
type Check func(ctx context.Context) CheckResult

// RunAll runs checks in order.
func RunAll(ctx context.Context, checks ...Check) []CheckResult {
	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		results = append(results, check(ctx))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "failed", "ready_with_warnings" or "ready".
func SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// WritePermissions checks that dir can be created and written.
func WritePermissions(dir string) Check {
	return func(context.Context) CheckResult {
		result := CheckResult{Name: "data_dir", Required: true}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
			return result
		}
		f, err := os.CreateTemp(dir, ".amanrag-preflight-*")
		if err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("permission denied: %v", err)
			return result
		}
		_ = f.Close()
		_ = os.Remove(f.Name())

		result.Status = StatusPass
		result.Message = dir
		return result
	}
}

// ChunkFiles checks that every configured chunk path exists.
func ChunkFiles(paths []string) Check {
	return func(context.Context) CheckResult {
		result := CheckResult{Name: "chunk_files"}
		if len(paths) == 0 {
			result.Status = StatusWarn
			result.Message = "no chunk files configured"
			result.Details = "Set storage.chunk_files or pass paths to 'amanrag index'"
			return result
		}

		var missing []string
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				missing = append(missing, filepath.Clean(p))
			}
		}
		if len(missing) > 0 {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("%d of %d missing", len(missing), len(paths))
			result.Details = strings.Join(missing, ", ")
			return result
		}
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%d configured", len(paths))
		return result
	}
}
