package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Availability is implemented by embedders.
type Availability interface {
	Available(ctx context.Context) bool
	ModelName() string
}

// ModelLister lists the models a generation server has pulled.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

const probeTimeout = 5 * time.Second

// Embedder checks that the query embedder can serve requests. Retrieval
// without it falls back to keyword search only, so the check is required.
func Embedder(e Availability) Check {
	return func(ctx context.Context) CheckResult {
		result := CheckResult{Name: "embedder", Required: true}
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		if !e.Available(ctx) {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("%s not available", e.ModelName())
			result.Details = "Start Ollama and run 'ollama pull " + e.ModelName() + "'"
			return result
		}
		result.Status = StatusPass
		result.Message = e.ModelName()
		return result
	}
}

// GenerationModels checks that each configured model is pulled. A missing
// model is a warning: the dispatcher falls back to the other tier.
func GenerationModels(lister ModelLister, models ...string) Check {
	return func(ctx context.Context) CheckResult {
		result := CheckResult{Name: "generation_models"}
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		pulled, err := lister.Models(ctx)
		if err != nil {
			result.Status = StatusFail
			result.Message = "generation service unreachable"
			result.Details = err.Error()
			return result
		}

		var missing []string
		for _, m := range models {
			if !hasModel(pulled, m) {
				missing = append(missing, m)
			}
		}
		switch {
		case len(missing) == len(models):
			result.Status = StatusFail
			result.Message = "no configured model is pulled: " + strings.Join(missing, ", ")
		case len(missing) > 0:
			result.Status = StatusWarn
			result.Message = "missing: " + strings.Join(missing, ", ")
		default:
			result.Status = StatusPass
			result.Message = strings.Join(models, ", ")
		}
		if len(missing) > 0 {
			result.Details = "Run 'ollama pull <model>' for each missing model"
		}
		return result
	}
}

func hasModel(pulled []string, want string) bool {
	want = strings.ToLower(want)
	for _, name := range pulled {
		name = strings.ToLower(name)
		if name == want || strings.TrimSuffix(name, ":latest") == want {
			return true
		}
	}
	return false
}
