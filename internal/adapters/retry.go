package adapters

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type rateLimitError struct {
	retryable bool
}

func (e *rateLimitError) Error() string { return "rate limited" }

type authError struct {
	message string
}

func (e *authError) Error() string {
	return "authentication error: " + e.message
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

// classifyAPIError maps provider HTTP failures onto the retry taxonomy.
// Anything unclassified passes through unchanged and is not retried.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.HTTPStatusCode {
	case 401, 403:
		return &authError{message: apiErr.Message}
	case 429:
		return &rateLimitError{retryable: true}
	case 500, 502, 503, 529:
		return &rateLimitError{retryable: true}
	}
	return err
}

func retryWithBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		// Don't retry auth errors
		var ae *authError
		if errors.As(lastErr, &ae) {
			return lastErr
		}

		// Only retry rate limit errors
		var rle *rateLimitError
		if !errors.As(lastErr, &rle) {
			return lastErr
		}

		if attempt < maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
