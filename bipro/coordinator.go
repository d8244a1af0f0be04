package bipro

import (
	"context"
	"sync"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/pkg/logger"
)

// ShipmentFetcher is the slice of TransferClient the coordinator needs.
type ShipmentFetcher interface {
	GetShipment(ctx context.Context, shipmentID string) (*model.ShipmentContent, error)
}

// DownloadResult is the outcome for a single shipment. One shipment failing
// never affects the others; partial success is the normal batch outcome.
type DownloadResult struct {
	ShipmentID string
	Content    *model.ShipmentContent
	Err        error
}

// ParallelDownloadCoordinator drives getShipment calls across a worker pool
// bounded by the rate limiter's current concurrency window. The window is
// re-evaluated on every slot acquisition, so a mid-run throttle event
// shrinks in-flight work promptly, not just at startup.
type ParallelDownloadCoordinator struct {
	fetcher    ShipmentFetcher
	limiter    *AdaptiveRateLimiter
	maxWorkers int
}

// NewParallelDownloadCoordinator bounds the pool at maxWorkers, which is
// further capped by the number of pending shipments at Download time.
func NewParallelDownloadCoordinator(fetcher ShipmentFetcher, limiter *AdaptiveRateLimiter, maxWorkers int) *ParallelDownloadCoordinator {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &ParallelDownloadCoordinator{
		fetcher:    fetcher,
		limiter:    limiter,
		maxWorkers: maxWorkers,
	}
}

// Download retrieves the given shipments concurrently and returns one result
// per ID, in input order. Cancelling ctx stops dispatching new downloads but
// lets in-flight calls finish or time out on their own; shipments never
// dispatched carry the context error.
func (c *ParallelDownloadCoordinator) Download(ctx context.Context, shipmentIDs []string) []DownloadResult {
	results := make([]DownloadResult, len(shipmentIDs))
	if len(shipmentIDs) == 0 {
		return results
	}

	workers := c.maxWorkers
	if len(shipmentIDs) < workers {
		workers = len(shipmentIDs)
	}

	type job struct {
		index int
		id    string
	}
	jobs := make(chan job)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = c.download(ctx, j.id)
			}
		}()
	}

dispatch:
	for i, id := range shipmentIDs {
		select {
		case jobs <- job{index: i, id: id}:
		case <-ctx.Done():
			// Stop dispatching; everything not yet handed to a worker
			// reports the cancellation.
			for k := i; k < len(shipmentIDs); k++ {
				results[k] = DownloadResult{ShipmentID: shipmentIDs[k], Err: ctx.Err()}
			}
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

func (c *ParallelDownloadCoordinator) download(ctx context.Context, shipmentID string) DownloadResult {
	if err := c.limiter.Acquire(ctx); err != nil {
		return DownloadResult{ShipmentID: shipmentID, Err: err}
	}

	// The in-flight HTTP exchange is not hard-killed by a batch
	// cancellation; the client timeout still bounds it.
	callCtx := context.WithoutCancel(ctx)
	content, err := c.fetcher.GetShipment(callCtx, shipmentID)
	c.limiter.Release(err == nil)

	if err != nil {
		logger.Warn(ctx, "shipment download failed", "shipment_id", shipmentID, "error", err)
		return DownloadResult{ShipmentID: shipmentID, Err: err}
	}
	return DownloadResult{ShipmentID: shipmentID, Content: content}
}
