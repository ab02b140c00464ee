// Package embedding narrows llmclient.Client down to the single capability
// the archive and retriever need: turning text into vectors. Keeping this as
// its own small interface (rather than passing the full llmclient.Client
// around) means an Archive can be wired to a different embedding backend
// than the chat backend, the way the teacher's pkg/embeddings and
// pkg/llm/provider were already independent axes of configuration.
package embedding

import "context"

// Embedder converts text into a dense vector embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// Dimensions returns the width of vectors produced by embedding a probe
// string, used by archive backends to size their vector column/index at
// startup.
func Dimensions(ctx context.Context, e Embedder) (int, error) {
	vec, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}
