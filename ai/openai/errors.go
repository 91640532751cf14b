package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/poiesic/newsrag/retry"
)

// retryableStatus lists the HTTP statuses the service may recover from.
var retryableStatus = []string{"429", "500", "502", "503", "504"}

// classifyError marks errors that a retry might cure. langchaingo surfaces
// HTTP failures only as text, so status codes are matched in the message.
func classifyError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if retry.IsTransient(err) {
		return retry.Transient(err)
	}
	msg := strings.ToLower(err.Error())
	for _, code := range retryableStatus {
		if strings.Contains(msg, "status code: "+code) || strings.Contains(msg, "status "+code) {
			return retry.Transient(err)
		}
	}
	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") {
		return retry.Transient(err)
	}
	return err
}
