package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/eleven-am/echolens/internal/shared"
	"github.com/openai/openai-go/v2"
)

const codeInsufficientQuota = "insufficient_quota"

// Classify wraps a provider call failure into a ProviderError. Timeouts,
// rate limits, server errors and transport failures are transient;
// quota exhaustion and other client errors are permanent.
func Classify(provider, op string, err error) error {
	if err == nil {
		return nil
	}

	var providerErr *shared.ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := classifyStatus(provider, op, apiErr.StatusCode, err)
		if apiErr.Code == codeInsufficientQuota {
			pe.Kind = shared.ProviderPermanent
		}
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return shared.NewTransient(provider, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return shared.NewTransient(provider, op, err)
	}

	return shared.NewPermanent(provider, op, err)
}

// ClassifyStatus classifies a plain HTTP status from a non-SDK provider.
func ClassifyStatus(provider, op string, status int, err error) error {
	return classifyStatus(provider, op, status, err)
}

func classifyStatus(provider, op string, status int, err error) *shared.ProviderError {
	kind := shared.ProviderPermanent
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		kind = shared.ProviderTransient
	}
	return &shared.ProviderError{
		Provider:   provider,
		Op:         op,
		Kind:       kind,
		StatusCode: status,
		Err:        err,
	}
}
