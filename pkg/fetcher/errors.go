package fetcher

import (
	"errors"
	"net/http"
)

// ResponseError is returned for every non-2xx response of the CA service
type ResponseError struct {
	StatusCode int
	Reason     string
	URL        string
	Body       string
}

func (e *ResponseError) Error() string {
	return e.Reason
}

// Returns the HTTP status carried by err, or 0 when err is not a
// *ResponseError
func StatusCode(err error) int {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

func IsNotModified(err error) bool {
	return StatusCode(err) == http.StatusNotModified
}
