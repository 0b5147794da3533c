package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/logging"
)

const maxBodyBytes = 8 << 20

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps an error to its HTTP status. Spatial endpoints report
// invalid input as 422 because the request was well formed but the
// coordinate is not usable.
func StatusFor(err error, spatial bool) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		if spatial {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case apperr.KindInvalidGeometry:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Default().Warn(context.Background(), "Failed to encode response", zap.Error(err))
	}
}

// WriteError writes the error envelope for err
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	writeError(ctx, w, err, false)
}

// WriteSpatialError is WriteError for coordinate-driven endpoints
func WriteSpatialError(ctx context.Context, w http.ResponseWriter, err error) {
	writeError(ctx, w, err, true)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error, spatial bool) {
	status := StatusFor(err, spatial)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.Default().Error(ctx, "Request failed", zap.Error(err))
		msg = "internal error"
	} else if status == http.StatusServiceUnavailable {
		logging.Default().Warn(ctx, "Dependency unavailable", zap.Error(err))
	}
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// DecodeJSON reads a single JSON document from the request body into v
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.Invalid("body", "request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("body", "request body is required")
		}
		// geometry decoding already classifies its own failures
		if apperr.KindOf(err) == apperr.KindInvalidGeometry {
			return err
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperr.Invalid(typeErr.Field, "expected %s", typeErr.Type)
		}
		return apperr.Invalid("body", "malformed JSON: %v", err)
	}
	if dec.More() {
		return apperr.Invalid("body", "unexpected data after JSON document")
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags on a request DTO and reports the first
// violation as an InvalidInput error naming the JSON field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Invalid("body", "%v", err)
	}
	fe := verrs[0]
	field := fieldPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return apperr.Invalid(field, "is required")
	case "min", "gte":
		return apperr.Invalid(field, "must be at least %s", fe.Param())
	case "max", "lte":
		return apperr.Invalid(field, "must be at most %s", fe.Param())
	case "oneof":
		return apperr.Invalid(field, "must be one of [%s]", fe.Param())
	default:
		return apperr.Invalid(field, "failed %s validation", fe.Tag())
	}
}

// fieldPath strips the top-level struct name from a validator namespace
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// QueryBool parses an optional boolean query parameter
func QueryBool(r *http.Request, name string) (bool, error) {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	default:
		return false, apperr.Invalid(name, "%s", fmt.Sprintf("invalid boolean %q", r.URL.Query().Get(name)))
	}
}
