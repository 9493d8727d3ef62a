package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-tenancy/command"
	"github.com/goliatone/go-tenancy/pkg/types"
)

const (
	textCodeValidation  = "VALIDATION_FAILED"
	textCodeNotFound    = "NOT_FOUND"
	textCodeTransition  = "INVALID_TRANSITION"
	textCodeImmutable   = "AUDIT_IMMUTABLE"
	textCodeIntegrity   = "INTEGRITY_MISMATCH"
	textCodeFeatureOff  = "FEATURE_DISABLED"
	textCodeInternal    = "INTERNAL"
	textCodeBadEncoding = "BAD_REQUEST_BODY"
)

// toRichError maps core sentinels onto go-errors categories. Errors that are
// already rich pass through unchanged.
func toRichError(err error) *goerrors.Error {
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return rich
	}
	switch {
	case errors.Is(err, types.ErrNotFound):
		return goerrors.Wrap(err, goerrors.CategoryNotFound, err.Error()).
			WithCode(goerrors.CodeNotFound).
			WithTextCode(textCodeNotFound)
	case errors.Is(err, command.ErrTrialExtensionDisabled):
		return goerrors.Wrap(err, goerrors.CategoryAuthz, err.Error()).
			WithCode(goerrors.CodeForbidden).
			WithTextCode(textCodeFeatureOff)
	case errors.Is(err, types.ErrInvalidTransition):
		return goerrors.Wrap(err, goerrors.CategoryConflict, err.Error()).
			WithCode(goerrors.CodeConflict).
			WithTextCode(textCodeTransition)
	case errors.Is(err, types.ErrImmutable):
		return goerrors.Wrap(err, goerrors.CategoryAuthz, err.Error()).
			WithCode(goerrors.CodeForbidden).
			WithTextCode(textCodeImmutable)
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrActorRequired):
		return goerrors.Wrap(err, goerrors.CategoryValidation, err.Error()).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(textCodeValidation)
	case errors.Is(err, types.ErrIntegrityMismatch):
		return goerrors.Wrap(err, goerrors.CategoryInternal, err.Error()).
			WithCode(goerrors.CodeInternal).
			WithTextCode(textCodeIntegrity)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "internal error").
		WithCode(goerrors.CodeInternal).
		WithTextCode(textCodeInternal)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Category string `json:"category"`
	Code     int    `json:"code"`
	TextCode string `json:"text_code,omitempty"`
	Message  string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, body)
}

// errorResponse maps err onto the status and body shared by every transport.
func errorResponse(err error) (int, errorBody) {
	rich := toRichError(err)
	status := rich.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return status, errorBody{Error: errorDetail{
		Category: string(rich.Category),
		Code:     status,
		TextCode: rich.TextCode,
		Message:  rich.Message,
	}}
}

func badRequest(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(textCodeValidation)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
