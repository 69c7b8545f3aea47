package transport_test

import (
	"net/http"
	"testing"

	"github.com/ogero/mmdb/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func TestModifyHeadersRoundTripper(t *testing.T) {
	called := false
	mockRT := &mockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			called = true
			assert.Equal(t, "TestAgent", req.Header.Get("User-Agent"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			assert.Equal(t, "Bearer t0k3n", req.Header.Get("Authorization"))
			return nil, nil
		},
	}

	rt := transport.NewModifyHeadersRoundTripper(mockRT,
		transport.WithUserAgent("TestAgent"),
		transport.WithAccept("application/json"),
		transport.WithBearerToken("t0k3n"))

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	_, _ = rt.RoundTrip(req)
	assert.True(t, called)
	assert.Empty(t, req.Header.Get("User-Agent"), "original request must not be mutated")
}

func TestWithBearerTokenEmpty(t *testing.T) {
	mockRT := &mockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			_, ok := req.Header["Authorization"]
			assert.False(t, ok)
			return nil, nil
		},
	}

	rt := transport.NewModifyHeadersRoundTripper(mockRT, transport.WithBearerToken(""))

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	_, _ = rt.RoundTrip(req)
}
