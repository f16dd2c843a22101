// Package middleware provides the HTTP middleware chain: account
// resolution from the edge proxy header, per-request logging with request
// ids, and Redis-backed rate limiting.
package middleware
