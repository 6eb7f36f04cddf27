//go:build !cgo
// +build !cgo

package embedding

import (
	"context"

	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

// ONNXClient stub type when built without CGO (see onnx.go for the real implementation).
type ONNXClient struct{}

// NewONNXClient returns an error when built without CGO.
func NewONNXClient(_ string, _, _ int) (*ONNXClient, error) {
	return nil, cerr.New(cerr.CodeProviderUnavailable,
		"onnx client requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (c *ONNXClient) Embed(context.Context, string, []string) ([][]float32, error) {
	return nil, cerr.New(cerr.CodeProviderUnavailable, "onnx client not available")
}

func (c *ONNXClient) Close() error { return nil }
