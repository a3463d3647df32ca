package documents

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/poiesic/doctier/core"
)

// CleanupProcessor is the checkpoint name under which expiry sweeps are recorded.
const CleanupProcessor = "cleanup"

// CleanupExpired removes every document whose tier TTL has elapsed: its
// indexed chunks and then its record. Each scope touched is swept for any
// other expired chunks as well. Failures on single documents are counted and
// logged; the sweep continues.
func (s *Service) CleanupExpired(ctx context.Context) (*CleanupReport, error) {
	now := s.now()
	expired, err := s.documents.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{}
	scopes := make(map[string]core.Scope)
	for _, doc := range expired {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if scope, ok := doc.Scope(); ok {
			scopes[scope.Name] = scope
		}
		if err := s.removeFromTier(ctx, doc); err != nil {
			report.Failed++
			continue
		}
		if err := s.documents.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("failed to delete expired record", "document_id", doc.ID, "err", err)
			report.Failed++
			continue
		}
		report.Documents++
	}

	for _, scope := range scopes {
		n, err := s.index.CleanupExpired(ctx, scope)
		if err != nil {
			s.logger.Warn("expired chunk sweep failed", "scope", scope.Name, "err", err)
			continue
		}
		report.Chunks += n
	}
	report.Scopes = len(scopes)

	if err := s.saveCleanupCheckpoint(ctx, int64(report.Documents)); err != nil {
		s.logger.Warn("failed to save cleanup checkpoint", "err", err)
	}

	s.logger.Info("expired documents cleaned up",
		"documents", report.Documents,
		"chunks", report.Chunks,
		"failed", report.Failed,
		"scopes", report.Scopes)
	return report, nil
}

func (s *Service) saveCleanupCheckpoint(ctx context.Context, removed int64) error {
	if s.checkpoints == nil {
		return nil
	}
	previous, err := s.checkpoints.LoadCheckpoint(ctx, CleanupProcessor)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	cp := &core.Checkpoint{
		ProcessorType: CleanupProcessor,
		LastRun:       now,
		Processed:     removed,
		UpdatedAt:     now,
	}
	if previous != nil {
		cp.Processed += previous.Processed
	}
	return s.checkpoints.SaveCheckpoint(ctx, cp)
}

// LastCleanup returns the checkpoint of the most recent sweep, or nil if
// none has run or no checkpoint repository is configured.
func (s *Service) LastCleanup(ctx context.Context) (*core.Checkpoint, error) {
	if s.checkpoints == nil {
		return nil, nil
	}
	return s.checkpoints.LoadCheckpoint(ctx, CleanupProcessor)
}

// StartCleanup runs CleanupExpired every interval until ctx is cancelled or
// the returned stop function is called. stop waits for a running sweep.
// A non-positive interval schedules nothing and returns a no-op stop.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		s.logger.Warn("cleanup not scheduled, interval must be positive", "interval", interval)
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
					s.logger.Error("scheduled cleanup failed", "err", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
