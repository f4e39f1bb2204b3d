package adapter

import (
	"net/http"

	"golang.org/x/time/rate"
)

type options struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures an adapter.
type Option func(*options)

// WithBaseURL overrides the provider endpoint, mainly for tests and proxies.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithRateLimit throttles outbound calls to rps requests per second.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func buildOptions(defaultBaseURL string, opts []Option) options {
	o := options{baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	return o
}
