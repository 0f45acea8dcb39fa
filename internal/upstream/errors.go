package upstream

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyResponse marks a 2xx response with no usable body. The upstream
// answers like this when credentials are misconfigured, so it is raised
// loudly instead of retried.
var ErrEmptyResponse = errors.New("upstream: empty response body, check partner API credentials")

// RateLimitError reports a local budget denial. The call was never issued.
type RateLimitError struct {
	Category   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream: %s rate limit exceeded, retry after %s", e.Category, e.RetryAfter)
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream: http %s", e.Status)
}

// BusinessError is a 2xx response whose embedded rCode signals failure,
// typically invalid parameters.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("upstream: rCode=%s %s", e.Code, e.Message)
}
