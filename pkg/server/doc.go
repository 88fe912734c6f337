// Package server provides the loopback Messages API listener.
//
// A Server binds 127.0.0.1 on an OS-assigned port and forwards every
// authenticated Messages request to the endpoint chosen by the selector,
// streaming the upstream SSE bytes back unchanged.
//
// # Basic Usage
//
//	srv, err := server.New(server.Deps{
//	    Catalog: provider,
//	    Fetcher: upstream.NewFetcher(upstream.Config{}),
//	}, server.OptionsFromConfig(&cfg.Server))
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	c := srv.GetConfig()
//	fmt.Printf("ANTHROPIC_BASE_URL=http://127.0.0.1:%d\n", c.Port)
//	fmt.Printf("ANTHROPIC_API_KEY=%s\n", c.Nonce)
//
// Start returns once the port is bound. Stop drains in-flight streams for
// the shutdown timeout and then closes them. Both may be called repeatedly.
//
// # Routes
//
//   - OPTIONS * answers 200 with an empty body.
//   - GET / answers a plaintext greeting.
//   - POST /v1/messages, /messages and //messages run the Messages handler.
//   - Anything else is a 404 not_found_error envelope.
//
// # Messages Handler
//
// Requests must carry the nonce in x-api-key. The body is read whole, the
// catalog is filtered to Messages API endpoints and the requested model is
// resolved by the selector. The model field is rewritten to the selected
// endpoint, the SSE headers are committed, and the upstream exchange runs
// on a context that is canceled when the client goes away.
//
// Failures before the headers are committed produce a JSON error envelope.
// After that point the only option is an SSE error event, which is written
// when the upstream failed before sending anything.
//
// # Middleware Chain
//
// From outermost: recovery, access logging, request id.
package server
