// Package health serves liveness and readiness endpoints for lmserver.
//
// The endpoints are mounted on the telemetry listener next to the metrics
// scrape path, never on the Messages listener, whose routes are fixed.
//
//   - /healthz answers 200 while the process runs.
//   - /readyz runs every registered check and answers 503 if any fails.
//   - /version reports build information.
//
// # Usage
//
//	checker := health.New(2 * time.Second)
//	checker.Register("catalog", health.CatalogCheck(provider))
//	checker.Register("listener", health.ListenerCheck(srv.Running))
//	checker.Register("ledger", health.LedgerCheck(store))
//	health.Mount(mux, checker, health.BuildInfo{Version: version})
//
// A degraded readiness response lists the failing checks:
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "catalog": {"status": "unhealthy", "message": "none of 2 endpoints support the messages api"},
//	        "listener": {"status": "ok"}
//	    },
//	    "timestamp": "2026-10-19T10:30:00Z"
//	}
package health
