package scraper

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/maltedev/cosmetics-harvester/internal/parser"
)

var (
	ErrNetwork         = errors.New("network error")
	ErrMarkupMismatch  = parser.ErrMarkupMismatch
	ErrLoadMoreTimeout = errors.New("load more control not actionable")
	ErrSession         = errors.New("session error")
)

// Session is a rendering session able to run client-side script.
// Locators are XPath expressions.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Execute(ctx context.Context, script string) error
	FindLinks(ctx context.Context) ([]string, error)
	WaitUntilActionable(ctx context.Context, locator string, timeout time.Duration) error
	Activate(ctx context.Context, locator string) error
	Close() error
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrorKind names the class of a per-item or per-category failure for logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrMarkupMismatch):
		return "markup_mismatch"
	case errors.Is(err, ErrLoadMoreTimeout):
		return "load_more_timeout"
	case errors.Is(err, ErrSession):
		return "session"
	case errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
