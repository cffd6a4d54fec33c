package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/resilience"
)

const maxErrorBody = 512

// ClassifyStatus maps a non-2xx provider response onto an error kind:
// 401/403 authentication, 429 rate limit, 5xx server, other 4xx business logic.
func ClassifyStatus(provider string, status int, body []byte) *bookkeeping.SyncError {
	var kind bookkeeping.ErrorKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = bookkeeping.KindAuthentication
	case status == http.StatusTooManyRequests:
		kind = bookkeeping.KindRateLimit
	case status >= 500:
		kind = bookkeeping.KindServer
	default:
		kind = bookkeeping.KindBusinessLogic
	}
	msg := fmt.Sprintf("%s returned %d", provider, status)
	if snippet := strings.TrimSpace(string(body)); snippet != "" {
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody] + "..."
		}
		msg += ": " + snippet
	}
	e := bookkeeping.NewSyncError(kind, "", msg)
	e.StatusCode = status
	return e
}

// ClassifyError maps a transport-level failure onto an error kind. Typed sync
// errors pass through; token endpoint rejections are authentication errors;
// timeouts, connection failures and an open circuit are network errors.
func ClassifyError(err error) *bookkeeping.SyncError {
	var se *bookkeeping.SyncError
	if errors.As(err, &se) {
		return se
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e := bookkeeping.NewSyncError(bookkeeping.KindAuthentication, "", "token refresh rejected: "+re.Error())
		e.Err = err
		if re.Response != nil {
			e.StatusCode = re.Response.StatusCode
		}
		return e
	}

	var msg string
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		msg = "circuit open: provider temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "request timed out"
	case errors.Is(err, context.Canceled):
		msg = "request cancelled"
	default:
		msg = err.Error()
	}
	e := bookkeeping.NewSyncError(bookkeeping.KindNetwork, "", msg)
	e.Err = err
	return e
}
