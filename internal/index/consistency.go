package index

import (
	"context"
	"fmt"
)

// CheckResult compares the sizes of the chunk store and both indexes.
type CheckResult struct {
	Chunks  int `json:"chunks"`
	Keyword int `json:"keyword"`
	Vector  int `json:"vector"`
}

// Consistent reports whether all three agree.
func (r CheckResult) Consistent() bool {
	return r.Chunks == r.Keyword && r.Chunks == r.Vector
}

func (r CheckResult) String() string {
	return fmt.Sprintf("chunks=%d keyword=%d vector=%d", r.Chunks, r.Keyword, r.Vector)
}

// Check counts the entries in each store.
func (r *Runner) Check(ctx context.Context) (CheckResult, error) {
	n, err := r.deps.Chunks.Count(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("count chunks: %w", err)
	}
	return CheckResult{
		Chunks:  n,
		Keyword: r.deps.Keyword.Count(),
		Vector:  r.deps.Vector.Count(),
	}, nil
}
