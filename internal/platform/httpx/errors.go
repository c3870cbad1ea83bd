package httpx

import (
	"errors"
	"net/http"

	"github.com/awecode/awecount-sub001/internal/shared"
)

// RespondError maps coded errors to RFC7807 responses. Uncoded errors are
// reported as internal without leaking their text.
func RespondError(w http.ResponseWriter, err error) {
	var coded *shared.Error
	if !errors.As(err, &coded) {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	problem := ProblemDetail{
		Type:     string(coded.Code),
		Status:   StatusOf(coded.Code),
		Detail:   coded.Message,
		Override: coded.Override,
		Details:  coded.Details,
	}
	problem.Title = http.StatusText(problem.Status)
	JSON(w, problem.Status, problem)
}

// StatusOf returns the HTTP status for an error code.
func StatusOf(code shared.Code) int {
	switch code {
	case shared.CodeValidation:
		return http.StatusBadRequest
	case shared.CodeNotFound:
		return http.StatusNotFound
	case shared.CodeInvalidTransition, shared.CodeFIFOInconsistency, shared.CodeInsufficientStock:
		return http.StatusConflict
	case shared.CodePostingImbalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
