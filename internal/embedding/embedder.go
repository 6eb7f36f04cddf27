// Package embedding turns text into vectors: provider clients, a persistent content-addressed
// cache, and the cache-first batching Provider that sits in front of them.
package embedding

import "context"

// Client is the provider boundary: one request of texts for a model, one vector per text in
// the same order.
type Client interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	Close() error
}
