// Package catalog provides the endpoint catalogs the server selects from.
//
// Two sources are supported:
//
//   - Static: endpoints declared under catalog.endpoints in the config file.
//     The list is swapped atomically when the file is reloaded.
//   - Remote: a Copilot-style /models listing fetched over HTTP, cached and
//     refreshed on a cron schedule.
//
// Both implement Provider. Endpoints are returned in priority order; the
// selector picks the first match.
//
//	provider, err := catalog.New(&cfg.Catalog, httpClient, collector)
//	if err != nil {
//	    return err
//	}
//	endpoints, err := provider.GetAllChatEndpoints(ctx)
package catalog
