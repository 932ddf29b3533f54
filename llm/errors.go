package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// APIError is a non-200 answer from the chat-completion service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error %d: %s", e.StatusCode, e.Body)
}

// Kind classifies a transport error into the envelope's AI error kinds.
func Kind(err error) docerr.Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return docerr.KindAITimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return docerr.KindAITimeout
	}
	var api *APIError
	if errors.As(err, &api) {
		switch api.StatusCode {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return docerr.KindAIQuota
		case http.StatusUnauthorized, http.StatusForbidden:
			return docerr.KindAIAuth
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return docerr.KindAITimeout
		}
	}
	return docerr.KindAIService
}
