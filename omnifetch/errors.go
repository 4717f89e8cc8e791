package omnifetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hazyhaar/omnifetch/omnifetch/internal/browser"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/executor"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/inference"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/store"
)

// Kind is the stable, machine-readable failure class reported to clients.
type Kind string

const (
	KindInvalidRequest   Kind = "invalid_request"
	KindNavigation       Kind = "navigation_error"
	KindBrowserStart     Kind = "browser_start_error"
	KindInferenceBackend Kind = "inference_backend_error"
	KindInferenceParse   Kind = "inference_parse_error"
	KindNotFound         Kind = "blueprint_not_found"
	KindStoreWrite       Kind = "store_write_error"
	KindCanceled         Kind = "canceled"
	KindInternal         Kind = "internal_error"
)

// RequestError rejects a request before any work is done.
type RequestError struct {
	Field string
	Err   error
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %v", e.Err)
	}
	return fmt.Sprintf("invalid request: %s: %v", e.Field, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func invalid(field string, err error) error { return &RequestError{Field: field, Err: err} }

// Classify maps an error returned by the Service to its Kind and HTTP status.
func Classify(err error) (Kind, int) {
	var (
		reqErr   *RequestError
		startErr *browser.StartError
		navErr   *browser.NavigationError
		backErr  *inference.BackendError
		parseErr *inference.ParseError
		writeErr *store.WriteError
	)
	switch {
	case err == nil:
		return "", http.StatusOK
	case errors.As(err, &reqErr):
		return KindInvalidRequest, http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return KindCanceled, 499
	case errors.Is(err, executor.ErrBlueprintNotFound):
		return KindNotFound, http.StatusNotFound
	case errors.As(err, &startErr), errors.Is(err, browser.ErrClosed):
		return KindBrowserStart, http.StatusServiceUnavailable
	case errors.As(err, &navErr):
		return KindNavigation, http.StatusBadGateway
	case errors.As(err, &parseErr):
		return KindInferenceParse, http.StatusUnprocessableEntity
	case errors.As(err, &backErr):
		return KindInferenceBackend, http.StatusBadGateway
	case errors.As(err, &writeErr):
		if errors.Is(err, store.ErrDuplicateID) {
			return KindStoreWrite, http.StatusConflict
		}
		return KindStoreWrite, http.StatusInternalServerError
	}
	return KindInternal, http.StatusInternalServerError
}
