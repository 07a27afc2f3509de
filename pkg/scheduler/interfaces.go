package scheduler

import (
	"context"
	"time"

	"glaiprocessor/internal/ledger"
	"glaiprocessor/pkg/storage"
)

// Processor turns the reflectance raster of one scene into its trait raster
type Processor interface {
	Process(ctx context.Context, a storage.Artifacts) (ledger.Outcome, error)
}

// Recorder keeps a history of runs. *ledger.Store implements it.
type Recorder interface {
	StartRun(ctx context.Context, run ledger.Run) error
	RecordWindow(ctx context.Context, runID string, w ledger.WindowRecord) error
	RecordScene(ctx context.Context, runID string, r ledger.SceneRecord) error
	FinishRun(ctx context.Context, runID, status string, checkpoint time.Time, runErr error) error
}
