// Package scheduler advances a monitored directory through its requested
// time window one sub-window at a time.
//
// Each step reads the checkpoint, fetches the scenes of the next sub-window
// from a catalog.SceneSource, inverts every scene in the directory that has
// no trait raster yet and then persists the checkpoint. Running the same
// request again is cheap: scenes that already have trait rasters are not
// touched and the checkpoint only ever moves forward.
//
// Usage:
//
//	s, err := scheduler.New(scheduler.Options{
//	    Store:     store,
//	    Source:    source,
//	    Processor: processor,
//	    AOI:       aoi,
//	})
//	if err != nil {
//	    return err
//	}
//
//	result, err := s.Run(ctx, scheduler.Request{Start: start, End: end, IncrementDays: 7})
//
// Configuration errors abort the run. Every other failure is logged, the
// affected scene is retried by the next invocation and the window still
// advances.
package scheduler
