// Package ledger records per-request token usage.
//
// The server hands an Entry to a Recorder after every Messages request that
// reached an upstream endpoint. The Recorder queues entries and writes them
// to a Store from a single goroutine; a full queue drops entries rather than
// delaying the response. Two stores are provided:
//
//   - MemoryStore: process-local, for tests and ephemeral runs.
//   - SQLiteStore: a SQLite file via the pure Go modernc.org/sqlite driver.
//
// A Pruner enforces retention by age and by entry count on a cron schedule.
//
//	store, err := ledger.Open(&cfg.Ledger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rec := ledger.NewRecorder(store, ledger.RecorderConfig{AsyncBuffer: 1000}, collector)
//	defer rec.Close()
//
// Summaries for the usage command come from Store.Summary.
package ledger
