// Package errors defines the coded error taxonomy shared by every contaluz component.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error. The last dot-separated segment is the
// reason and drives the Is* helpers.
type Code string

const (
	CodeProviderUnavailable     Code = "embedding.provider.unavailable"
	CodeProviderTimeout         Code = "embedding.provider.timeout"
	CodeProviderResponseInvalid Code = "embedding.provider.invalid_response"
	CodeProviderConfigInvalid   Code = "embedding.provider.invalid_input"

	CodeIndexDimensionMismatch  Code = "index.vector.dimension_mismatch"
	CodeIndexNotFound           Code = "index.get.not_found"
	CodeIndexAlreadyExists      Code = "index.create.conflict"
	CodeIndexInvalidInput       Code = "index.request.invalid_input"
	CodeIndexPersistFailure     Code = "index.persist.failure"
	CodeIndexSnapshotNotFound   Code = "index.snapshot.not_found"
	CodeIndexLoadCorrupt        Code = "index.load.corrupt"
	CodeIndexBackendUnavailable Code = "index.backend.unavailable"
	CodeIndexRegistryFailure    Code = "index.registry.failure"

	CodeCacheIOFailure Code = "cache.io.failure"

	CodeStoreDatabaseFailure Code = "store.database.failure"
	CodeStoreRecordNotFound  Code = "store.record.not_found"
	CodeStoreInvalidInput    Code = "store.request.invalid_input"

	CodeSearchQueryInvalid Code = "search.query.invalid"

	CodeIngestParseInvalidFormat Code = "ingest.parse.invalid_format"
	CodeIngestReadFailure        Code = "ingest.read.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldIndexID(value string) Attr {
	return Field("index_id", value)
}

func FieldOperation(value string) Attr {
	return Field("operation", value)
}

func FieldModel(value string) Attr {
	return Field("model", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the outermost code attached to err, or "" when err carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}
	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}
	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsDimensionMismatch(err error) bool {
	return reason(CodeOf(err)) == "dimension_mismatch"
}

func IsCorrupt(err error) bool {
	return reason(CodeOf(err)) == "corrupt"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsProviderFailure reports whether err came from the embedding provider boundary.
func IsProviderFailure(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "embedding.provider.")
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err), IsDimensionMismatch(err):
		return http.StatusBadRequest
	case IsCorrupt(err):
		return http.StatusUnprocessableEntity
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsProviderFailure(err):
		return http.StatusBadGateway
	case HasCode(err, CodeIndexBackendUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
