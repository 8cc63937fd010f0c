package crm

import (
	"net/http"
	"time"
)

type clientOptions struct {
	httpClient *http.Client
	now        func() time.Time
}

// Option customizes provider clients.
type Option func(*clientOptions)

func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) clientOptions {
	o := clientOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
