package httpwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAbsoluteFormTarget(t *testing.T) {
	req, err := ParseRequest([]byte("GET http://example.com/a.png HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "example.com", req.Host)
	assert.Equal(t, DefaultPort, req.Port)
	assert.Equal(t, "/a.png", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, []string{"Host: example.com", "Accept: */*"}, req.Headers)
	assert.Equal(t, "GET /a.png HTTP/1.1", req.RequestLine())
}

func TestParseTargetVariants(t *testing.T) {
	testCases := []struct {
		name   string
		target string
		host   string
		port   int
		path   string
	}{
		{"explicit port", "http://example.com:8080/x/y?z=1", "example.com", 8080, "/x/y?z=1"},
		{"no path", "http://example.com", "example.com", 80, "/"},
		{"query without path", "http://example.com?q=1", "example.com", 80, "/?q=1"},
		{"no scheme", "example.com/img.gif", "example.com", 80, "/img.gif"},
		{"ipv6 literal", "http://[::1]:81/p", "::1", 81, "/p"},
		{"userinfo", "http://user:pw@example.com/p", "example.com", 80, "/p"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := ParseRequest([]byte("GET " + tc.target + " HTTP/1.0\r\n\r\n"))
			require.NoError(t, err)
			assert.Equal(t, tc.host, req.Host)
			assert.Equal(t, tc.port, req.Port)
			assert.Equal(t, tc.path, req.Path)
		})
	}
}

func TestParseOriginFormUsesHostHeader(t *testing.T) {
	req, err := ParseRequest([]byte("GET /index.html HTTP/1.1\r\nhost: example.org:8081\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "example.org", req.Host)
	assert.Equal(t, 8081, req.Port)
	assert.Equal(t, "/index.html", req.Path)

	_, err = ParseRequest([]byte("GET /index.html HTTP/1.1\r\n\r\n"))
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestParseMalformedRequests(t *testing.T) {
	inputs := []string{
		"",
		"\r\n\r\n",
		"GET\r\n\r\n",
		"GET http://example.com/ HTTP/1.1 extra\r\n\r\n",
		"GET http://example.com/ FTP/1.0\r\n\r\n",
		"GET http://:80/ HTTP/1.1\r\n\r\n",
		"GET http://example.com:http/ HTTP/1.1\r\n\r\n",
		"GET http://example.com:70000/ HTTP/1.1\r\n\r\n",
	}
	for _, input := range inputs {
		_, err := ParseRequest([]byte(input))
		assert.ErrorIs(t, err, ErrMalformedRequest, "input %q", input)
	}
}

func TestParseUnsupportedMethodStillReturnsRequest(t *testing.T) {
	req, err := ParseRequest([]byte("DELETE http://example.com/a HTTP/1.1\r\n\r\n"))
	require.ErrorIs(t, err, ErrUnsupportedMethod)
	require.NotNil(t, req)
	assert.Equal(t, "DELETE", req.Method)
	assert.Equal(t, "example.com", req.Host)

	_, err = ParseRequest([]byte("get http://example.com/a HTTP/1.1\r\n\r\n"))
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestRawAlwaysTerminatesHeaders(t *testing.T) {
	req, err := ParseRequest([]byte("GET http://example.com/a HTTP/1.0\r\nHost: example.com"))
	require.NoError(t, err)
	assert.Equal(t, "GET /a HTTP/1.0\r\nHost: example.com\r\n\r\n", string(req.Raw()))

	req, err = ParseRequest([]byte("HEAD http://example.com HTTP/1.0"))
	require.NoError(t, err)
	assert.Equal(t, "HEAD / HTTP/1.0\r\n\r\n", string(req.Raw()))
}

func TestParseKeepsBodyAndLengths(t *testing.T) {
	raw := "POST http://example.com/form HTTP/1.1\r\nContent-Length: 7\r\nConnection: keep-alive\r\n\r\na=1&b=2"
	req, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []byte("a=1&b=2"), req.Body)

	n, ok := req.ContentLength()
	require.True(t, ok)
	assert.Equal(t, 7, n)

	value, ok := req.Header("connection")
	require.True(t, ok)
	assert.Equal(t, "keep-alive", value)
	assert.Equal(t, "POST /form HTTP/1.1\r\nContent-Length: 7\r\nConnection: keep-alive\r\n\r\na=1&b=2", string(req.Raw()))
}

func TestParseToleratesBareLineFeeds(t *testing.T) {
	req, err := ParseRequest([]byte("GET http://example.com/a HTTP/1.0\nX-Trace: 1\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"X-Trace: 1"}, req.Headers)
}
