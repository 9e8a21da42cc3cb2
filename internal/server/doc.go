// Package server hosts the media dashboard API behind one multiplexer.
//
// The server builds a consistent middleware chain of request identification,
// security headers, CORS, rate limiting, metrics, and logging so handlers all
// share common protections and instrumentation.
package server
