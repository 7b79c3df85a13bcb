package out

import "context"

// GenerateOptions tunes one generation request. Zero values mean "provider
// default".
type GenerateOptions struct {
	Model           string
	ContextTokens   int
	MaxOutputTokens int
	Temperature     float64
}

// Inference is a single request/response call against the local generation
// server. It holds no state and retries nothing; retry and backoff policy
// lives in the background processor. Failures are distinguishable through
// apperr codes (timeout vs transport vs upstream rejection).
type Inference interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Ping checks server reachability (model listing endpoint).
	Ping(ctx context.Context) error
}
