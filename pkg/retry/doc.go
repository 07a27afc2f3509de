// Package retry provides exponential backoff and retry logic for calls to
// the scene catalog and the forward model service.
//
// Errors classified by package errors decide whether an attempt is repeated:
// transient failures are retried, configuration and data quality failures
// are returned at once. Unclassified errors are retried, context
// cancellation never is.
//
//	cfg := retry.NewConfig(3, 2*time.Second, time.Minute, 2, log)
//	items, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]Item, error) {
//		return client.search(ctx, query)
//	}, cfg)
package retry
