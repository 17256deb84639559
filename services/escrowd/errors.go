package escrowd

import (
	"encoding/json"
	"errors"
	"net/http"

	escrowerr "bountyescrow/core/errors"
)

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// statusFor maps engine error codes onto HTTP statuses. Uncoded failures are
// internal errors.
func statusFor(err error) (int, string) {
	code, ok := escrowerr.CodeOf(err)
	if !ok {
		switch {
		case errors.Is(err, errBadRequest):
			return http.StatusBadRequest, "BadRequest"
		case errors.Is(err, errNotFound):
			return http.StatusNotFound, "NotFound"
		case errors.Is(err, ErrIdempotencyMismatch):
			return http.StatusConflict, "IdempotencyMismatch"
		}
		return http.StatusInternalServerError, "Internal"
	}
	switch code {
	case escrowerr.CodeBountyNotFound, escrowerr.CodeClaimNotFound,
		escrowerr.CodeProgramNotFound, escrowerr.CodeScheduleNotFound:
		return http.StatusNotFound, code.String()
	case escrowerr.CodeUnauthorized, escrowerr.CodeParticipantNotAllowed,
		escrowerr.CodeApprovalRequired:
		return http.StatusForbidden, code.String()
	case escrowerr.CodeRateLimitExceeded, escrowerr.CodeCooldownViolation:
		return http.StatusTooManyRequests, code.String()
	case escrowerr.CodeCircuitOpen:
		return http.StatusServiceUnavailable, code.String()
	case escrowerr.CodeTransferFailed:
		return http.StatusBadGateway, code.String()
	case escrowerr.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity, code.String()
	case escrowerr.CodeAlreadyInitialized, escrowerr.CodeNotInitialized,
		escrowerr.CodeBountyExists, escrowerr.CodeFundsNotLocked,
		escrowerr.CodeDeadlineNotPassed, escrowerr.CodeClaimExpired,
		escrowerr.CodeClaimAlreadyExecuted, escrowerr.CodeClaimPending,
		escrowerr.CodeProgramExists, escrowerr.CodeScheduleReleased,
		escrowerr.CodeScheduleNotDue:
		return http.StatusConflict, code.String()
	default:
		return http.StatusBadRequest, code.String()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeJSON(w, status, errorBody{Code: code, Error: err.Error()})
}
