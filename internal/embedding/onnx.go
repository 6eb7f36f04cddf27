//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"sync"

	cerr "github.com/hyperjump/contaluz/pkg/errors"
	"github.com/hyperjump/contaluz/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXClient runs a local sentence-embedding model with ONNX Runtime. It requires CGO and the
// onnxruntime shared library. The model argument of Embed is ignored; the loaded model file
// decides the output.
type ONNXClient struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	// Tensors are bound to the session; Run reads inputs from and writes outputs to them.
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXClient loads the model at modelPath.
func NewONNXClient(modelPath string, dimensions, maxTokens int) (*ONNXClient, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, cerr.Wrap(err, cerr.CodeProviderUnavailable, "initialize onnx runtime")
		}
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	c := &ONNXClient{dimensions: dimensions, maxTokens: maxTokens, tokenizer: &SimpleTokenizer{}}
	inputIDs, attentionMask, tokenTypeIDs := c.tokenizer.Tokenize("", maxTokens)
	shape := ort.NewShape(1, int64(maxTokens))

	var err error
	if c.inputIDsTensor, err = ort.NewTensor(shape, inputIDs); err != nil {
		return nil, c.fail(err, "create input_ids tensor")
	}
	if c.attentionMaskTensor, err = ort.NewTensor(shape, attentionMask); err != nil {
		return nil, c.fail(err, "create attention_mask tensor")
	}
	if c.tokenTypeIDsTensor, err = ort.NewTensor(shape, tokenTypeIDs); err != nil {
		return nil, c.fail(err, "create token_type_ids tensor")
	}
	if c.outputTensor, err = ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions)); err != nil {
		return nil, c.fail(err, "create output tensor")
	}

	c.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{c.inputIDsTensor, c.attentionMaskTensor, c.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{c.outputTensor},
		nil,
	)
	if err != nil {
		return nil, c.fail(err, "create onnx session")
	}
	return c, nil
}

func (c *ONNXClient) fail(err error, msg string) error {
	_ = c.Close()
	return cerr.Wrap(err, cerr.CodeProviderUnavailable, msg)
}

// Embed runs inference once per text. Sessions are not reentrant, so calls are serialized.
func (c *ONNXClient) Embed(ctx context.Context, _ string, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, cerr.New(cerr.CodeProviderUnavailable, "onnx session closed")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inputIDs, attentionMask, tokenTypeIDs := c.tokenizer.Tokenize(text, c.maxTokens)
		copy(c.inputIDsTensor.GetData(), inputIDs)
		copy(c.attentionMaskTensor.GetData(), attentionMask)
		copy(c.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

		if err := c.session.Run(); err != nil {
			return nil, cerr.Wrap(err, cerr.CodeProviderUnavailable, "onnx inference")
		}
		vec := make([]float32, c.dimensions)
		copy(vec, c.outputTensor.GetData())
		utils.NormalizeL2(vec)
		out[i] = vec
	}
	return out, nil
}

// Close destroys the session and tensors.
func (c *ONNXClient) Close() error {
	var err error
	if c.session != nil {
		err = c.session.Destroy()
		c.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{c.inputIDsTensor, c.attentionMaskTensor, c.tokenTypeIDsTensor} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	c.inputIDsTensor, c.attentionMaskTensor, c.tokenTypeIDsTensor = nil, nil, nil
	if c.outputTensor != nil {
		_ = c.outputTensor.Destroy()
		c.outputTensor = nil
	}
	return err
}
