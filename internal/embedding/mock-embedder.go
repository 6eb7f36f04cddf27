package embedding

import (
	"context"
	"math"
	"sync"

	"github.com/hyperjump/contaluz/pkg/utils"
)

// MockClient is a deterministic Client for tests and offline runs. The same text always maps
// to the same unit vector. SetFailure makes every following call fail.
type MockClient struct {
	dimensions int
	mu         sync.Mutex
	calls      int
	texts      int
	failure    error
}

// NewMockClient returns a client producing vectors of the given dimensions (384 when <= 0).
func NewMockClient(dimensions int) *MockClient {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockClient{dimensions: dimensions}
}

// Embed returns one hash-derived vector per text.
func (m *MockClient) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.texts += len(texts)
	failure := m.failure
	m.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *MockClient) vector(text string) []float32 {
	h := HashString(text)
	emb := make([]float32, m.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

// SetFailure makes subsequent calls return err; nil restores normal behaviour.
func (m *MockClient) SetFailure(err error) {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
}

// Calls returns how many requests reached the client.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// TextsSent returns how many texts were sent across all requests.
func (m *MockClient) TextsSent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

// Dimensions returns the vector length.
func (m *MockClient) Dimensions() int { return m.dimensions }

func (m *MockClient) Close() error { return nil }
