// Package ratelimit throttles requests to the scene catalog.
//
// TokenBucket refills continuously and allows short bursts up to its
// capacity. PerMinute builds one from the catalog settings:
//
//	limiter := ratelimit.PerMinute(cfg.Catalog.RequestsPerMinute, cfg.Catalog.BurstSize)
//	if _, err := limiter.Wait(ctx); err != nil {
//		return err
//	}
//
// Unlimited satisfies Limiter without throttling and is used in tests.
package ratelimit
