package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/lmserver/pkg/endpoint"
	"mercator-hq/lmserver/pkg/ledger"
	"mercator-hq/lmserver/pkg/selection"
)

// EndpointLister is satisfied by catalog providers.
type EndpointLister interface {
	GetAllChatEndpoints(ctx context.Context) ([]endpoint.Endpoint, error)
}

// CatalogCheck fails unless the catalog lists at least one Messages API
// endpoint, which is what every request needs.
func CatalogCheck(catalog EndpointLister) CheckFunc {
	return func(ctx context.Context) error {
		eps, err := catalog.GetAllChatEndpoints(ctx)
		if err != nil {
			return fmt.Errorf("failed to list endpoints: %w", err)
		}
		if len(selection.Eligible(eps)) == 0 {
			return fmt.Errorf("none of %d endpoints support the messages api", len(eps))
		}
		return nil
	}
}

// ListenerCheck fails while running reports false.
func ListenerCheck(running func() bool) CheckFunc {
	return func(ctx context.Context) error {
		if !running() {
			return errors.New("messages listener is not running")
		}
		return nil
	}
}

// LedgerCheck fails when the store cannot be queried.
func LedgerCheck(store ledger.Store) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := store.Count(ctx, &ledger.Query{Limit: 1}); err != nil {
			return fmt.Errorf("ledger unavailable: %w", err)
		}
		return nil
	}
}
