package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type envelope struct {
	Error ErrorBody `json:"error"`
}

// WriteError renders err as the {"error":{...}} half of the result envelope.
// RATE_LIMITED responses also carry a Retry-After header in whole seconds.
func WriteError(w http.ResponseWriter, err error) error {
	appErr := AsAppError(err)
	w.Header().Set("Content-Type", "application/json")
	if retry := appErr.RetryAfter(); retry > 0 {
		secs := int(retry.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.WriteHeader(appErr.StatusCode())

	return json.NewEncoder(w).Encode(envelope{Error: ErrorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}})
}
