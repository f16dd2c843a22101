// Package config loads application configuration from MERIDIAN_* environment
// variables and validates it before the server starts.
package config
