package documents

import (
	"context"
	"sync"
	"time"
)

// IngestBatch uploads several documents concurrently on the service's
// worker pool. A failing file does not stop the others; its error is
// recorded on its item. Items are reported in request order.
func (s *Service) IngestBatch(ctx context.Context, reqs []UploadRequest) *BatchReport {
	start := s.now()
	report := &BatchReport{
		Total: len(reqs),
		Items: make([]BatchItem, len(reqs)),
	}

	var wg sync.WaitGroup
	for i, req := range reqs {
		report.Items[i].Filename = req.Filename
		wg.Add(1)
		err := s.batchPool.Submit(func() {
			defer wg.Done()
			report.Items[i] = s.ingestOne(ctx, req)
		})
		if err != nil {
			wg.Done()
			report.Items[i].Status = StatusFailed
			report.Items[i].Err = err
		}
	}
	wg.Wait()

	for _, item := range report.Items {
		switch item.Status {
		case StatusFailed:
			report.Failed++
		case StatusSkipped:
			report.Skipped++
			report.Successful++
		default:
			report.Successful++
			report.TotalChunks += item.Chunks
		}
	}
	report.Duration = s.now().Sub(start)

	s.logger.Info("batch ingested",
		"total", report.Total,
		"successful", report.Successful,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"chunks", report.TotalChunks,
		"duration", report.Duration.Round(time.Millisecond))
	return report
}

func (s *Service) ingestOne(ctx context.Context, req UploadRequest) BatchItem {
	item := BatchItem{Filename: req.Filename}
	if err := ctx.Err(); err != nil {
		item.Status = StatusFailed
		item.Err = err
		return item
	}

	res, err := s.Upload(ctx, req)
	if err != nil {
		item.Status = StatusFailed
		item.Err = err
		return item
	}
	item.DocumentID = res.DocumentID
	item.Status = res.Status
	item.Tier = res.Tier
	item.Chunks = res.Chunks
	return item
}
