// Package logging builds the process logger on top of log/slog.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Redact: true,
//	})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
// Components derive their own logger from the default:
//
//	logger := slog.Default().With("component", "server")
//
// # Levels
//
// trace, debug, info, warn and error. LevelTrace is slog.Level(-8) and is
// rendered as TRACE.
//
// # Context fields
//
// Records logged with a *Context method pick up the request id stored by
// WithRequestID and, when a span is active, trace_id and span_id.
//
// # Redaction
//
// With Redact enabled, attributes whose key looks sensitive (token, nonce,
// api_key, authorization, secret, password) keep only a 4 character prefix,
// and string values have sk- keys, bearer tokens and server nonces masked.
package logging
