package api

import (
	"errors"
	"net/http"
)

// RequestError carries the status and client-facing message for a failed
// request.
type RequestError struct {
	Status  int
	Message string
}

func (e RequestError) Error() string {
	return e.Message
}

func ValidationError(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, Message: message}
}

func UnauthorizedError(message string) RequestError {
	return RequestError{Status: http.StatusUnauthorized, Message: message}
}

func NotFoundError(message string) RequestError {
	return RequestError{Status: http.StatusNotFound, Message: message}
}

func ServiceUnavailableError(message string) RequestError {
	return RequestError{Status: http.StatusServiceUnavailable, Message: message}
}

// InternalError hides the cause behind a generic message.
func InternalError() RequestError {
	return RequestError{Status: http.StatusInternalServerError, Message: "internal server error"}
}

// WriteRequestError writes err using its status. Errors that are not
// RequestErrors become a generic 500.
func WriteRequestError(w http.ResponseWriter, err error) {
	var reqErr RequestError
	if !errors.As(err, &reqErr) {
		reqErr = InternalError()
	}
	if reqErr.Status == 0 {
		reqErr.Status = http.StatusInternalServerError
	}
	writeError(w, reqErr.Status, reqErr)
}
