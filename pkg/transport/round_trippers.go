package transport

import (
	"net/http"
)

// ModifyHeadersOption is a function type used to modify HTTP headers in a request.
// It takes a function that sets a header key and value, allowing for flexible header modification.
type ModifyHeadersOption func(func(key string, value string))

type modifyHeadersRoundTripper struct {
	roundTripper http.RoundTripper
	options      []ModifyHeadersOption
}

// NewModifyHeadersRoundTripper will add headers to a request.
// The request is cloned before modification, as required by the http.RoundTripper contract.
func NewModifyHeadersRoundTripper(rt http.RoundTripper, opts ...ModifyHeadersOption) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &modifyHeadersRoundTripper{roundTripper: rt, options: opts}
}

func (rt *modifyHeadersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for _, opt := range rt.options {
		opt(req.Header.Set)
	}
	return rt.roundTripper.RoundTrip(req)
}

// WithUserAgent is a functional option to set the HTTP client user agent.
func WithUserAgent(userAgent string) ModifyHeadersOption {
	return func(f func(key string, value string)) {
		f("User-Agent", userAgent)
	}
}

// WithAccept is a functional option to set the accepted response media types.
func WithAccept(accept string) ModifyHeadersOption {
	return func(f func(key string, value string)) {
		f("Accept", accept)
	}
}

// WithBearerToken is a functional option to authenticate with a bearer token,
// used by catalog deployments issuing read access tokens instead of api keys.
func WithBearerToken(token string) ModifyHeadersOption {
	return func(f func(key string, value string)) {
		if token != "" {
			f("Authorization", "Bearer "+token)
		}
	}
}
