package config

import "os"

// ExpandEnv expands environment variables in YAML content using Go's standard library.
// Supports both ${VAR} and $VAR syntax (standard shell-style).
//
// Examples:
//   - ${OPENAI_API_KEY} → value of OPENAI_API_KEY environment variable
//   - $SLACK_WEBHOOK_URL → value of SLACK_WEBHOOK_URL environment variable
//   - ${STORE_HOST}:${STORE_PORT} → hostname:port with both variables expanded
//
// Missing variables expand to empty string. Validation should catch required fields that are empty.
func ExpandEnv(data []byte) []byte {
	expanded := os.ExpandEnv(string(data))
	return []byte(expanded)
}
