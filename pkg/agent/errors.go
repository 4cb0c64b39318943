package agent

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// GatewayError wraps every failure of a model backend call.
type GatewayError struct {
	Provider    string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s gateway error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s gateway error: %v", e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a gateway error caused by rate limiting.
func IsRateLimited(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.RateLimited
}

// newGatewayError classifies err from provider.
func newGatewayError(provider string, err error) *GatewayError {
	gwErr := &GatewayError{Provider: provider, Err: err}

	var oaiErr *openai.Error
	var antErr *anthropic.Error
	switch {
	case errors.As(err, &oaiErr):
		gwErr.StatusCode = oaiErr.StatusCode
	case errors.As(err, &antErr):
		gwErr.StatusCode = antErr.StatusCode
	}

	msg := err.Error()
	gwErr.RateLimited = gwErr.StatusCode == http.StatusTooManyRequests ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "Rate") ||
		strings.Contains(strings.ToLower(msg), "rate limit")

	return gwErr
}
