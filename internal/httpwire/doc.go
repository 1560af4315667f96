// Package httpwire implements the byte-level HTTP/1.x handling used by the
// forward proxy: a line-based request grammar that produces a typed Request
// (rewriting absolute-form targets to origin-form), and an incremental
// response Framer that decides when an origin response is complete based on
// Transfer-Encoding, Content-Length or connection close. The package works on
// raw buffers and never depends on net/http so that framing edge cases stay
// under the proxy's control.
package httpwire
