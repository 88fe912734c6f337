// lmserver is a local Anthropic Messages API listener that forwards requests
// to a chat endpoint from a configured catalog.
//
// It binds 127.0.0.1 on an ephemeral port and prints a nonce. Pointing a
// Messages API client at the port with the nonce as its API key routes the
// client's requests to the best matching catalog model, with the upstream
// SSE stream returned unchanged.
//
// Usage:
//
//	# Start with defaults and print shell exports
//	lmserver run --print-env
//
//	# Start with a configuration file
//	lmserver run --config lmserver.yaml
//
//	# Show which endpoint a model resolves to
//	lmserver models --model claude-sonnet-4-20250514
//
//	# Summarize recorded usage for the last day
//	lmserver usage --since 24h
//
//	# Validate configuration and print the effective values
//	lmserver validate --print
package main

func main() {
	Execute()
}
