package embedding

import (
	"context"
	"strings"

	cerr "github.com/hyperjump/contaluz/pkg/errors"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig holds the settings of an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, useful for testing against a mock server
	Dimensions int    // requested output size; only sent for text-embedding-3 models
}

// OpenAIClient calls the OpenAI embeddings API.
type OpenAIClient struct {
	client     openaisdk.Client
	dimensions int
}

// NewOpenAIClient creates a client. Returns an error if the API key is missing.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, cerr.New(cerr.CodeProviderConfigInvalid, "openai: missing api key")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{client: openaisdk.NewClient(opts...), dimensions: cfg.Dimensions}, nil
}

// Embed sends texts in one request and returns the vectors ordered by their input index.
func (c *OpenAIClient) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if c.dimensions > 0 && strings.HasPrefix(model, "text-embedding-3") {
		params.Dimensions = openaisdk.Int(int64(c.dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, cerr.Errorf(cerr.CodeProviderResponseInvalid,
			"openai: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) || out[d.Index] != nil {
			return nil, cerr.Errorf(cerr.CodeProviderResponseInvalid, "openai: bad embedding index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func (c *OpenAIClient) Close() error { return nil }
