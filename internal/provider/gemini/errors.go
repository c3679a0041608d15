package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// classify maps a provider error onto the pipeline's error taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransientError(op, err)
	}

	if code, ok := statusCode(err); ok {
		return classifyStatus(op, code, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "safety"), strings.Contains(msg, "blocked"):
		return fmt.Errorf("%w: %v", domain.ErrContentBlocked, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "unavailable"), strings.Contains(msg, "eof"):
		return domain.NewTransientError(op, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func classifyStatus(op string, code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return domain.NewTransientError(op, err)
	case code == http.StatusBadRequest, code == http.StatusNotFound, code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s rejected by provider: %v", domain.ErrValidation, op, err)
	default:
		return fmt.Errorf("%s failed with status %d: %w", op, code, err)
	}
}

func statusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}
