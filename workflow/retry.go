package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/status"
	"github.com/JeromeFenwick/bili-sync/store"
)

// ResetRepository is the persistence surface the reset/retry operator
// endpoints need.
type ResetRepository interface {
	GetVideo(ctx context.Context, id int64) (*model.Video, error)
	ListPages(ctx context.Context, videoID int64) ([]model.Page, error)
	SaveCycleResult(ctx context.Context, r store.CycleResult) error
	ClearAndReset(ctx context.Context, videoID int64) error
	ResetFilteredBySource(ctx context.Context, sourceID int64) (int64, error)
}

// ResetVideo clears a video's retryable failure slots back to 0, requeuing
// it for the next cycle. force additionally clears terminal (7) slots —
// "operator-requested reset overrides the terminal marker" (spec §9): the
// precedence is (force && forceReset) || resetFailed(), forceReset taken
// directly from the underlying word's own ForceResetFailed result.
func ResetVideo(ctx context.Context, repo ResetRepository, videoID int64, force bool) error {
	v, err := repo.GetVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("workflow: reset video %d: %w", videoID, err)
	}
	if v == nil {
		return fmt.Errorf("workflow: reset video %d: not found", videoID)
	}
	forced, forceChanged := v.DownloadStatus.ForceResetFailed()
	failed, failedChanged := v.DownloadStatus.ResetFailed()
	var newWord status.Word
	switch {
	case force && forceChanged:
		newWord = forced
	case failedChanged:
		newWord = failed
	default:
		return nil
	}
	return repo.SaveCycleResult(ctx, store.CycleResult{VideoID: videoID, DownloadStatus: newWord})
}

// ResetPage is ResetVideo's page-level analogue, additionally recomputing
// the owning video's pages-aggregate slot from every page's current slot 1
// (video-file status) after the reset lands.
func ResetPage(ctx context.Context, repo ResetRepository, videoID, pageID int64, force bool) error {
	v, err := repo.GetVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("workflow: reset page %d: get video: %w", pageID, err)
	}
	if v == nil {
		return fmt.Errorf("workflow: reset page %d: video %d not found", pageID, videoID)
	}
	pages, err := repo.ListPages(ctx, videoID)
	if err != nil {
		return fmt.Errorf("workflow: reset page %d: list pages: %w", pageID, err)
	}
	var target *model.Page
	for i := range pages {
		if pages[i].ID == pageID {
			target = &pages[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("workflow: reset page %d: not found", pageID)
	}

	forced, forceChanged := target.DownloadStatus.ForceResetFailed()
	failed, failedChanged := target.DownloadStatus.ResetFailed()
	newWord := target.DownloadStatus
	switch {
	case force && forceChanged:
		newWord = forced
	case failedChanged:
		newWord = failed
	}

	aggregate := recomputeAggregate(pages, pageID, newWord)
	videoWord := v.DownloadStatus.Set(VideoSlotPagesAggregate, aggregate)
	return repo.SaveCycleResult(ctx, store.CycleResult{
		VideoID:        videoID,
		DownloadStatus: videoWord,
		Pages: []store.PageResult{
			{PageID: pageID, DownloadStatus: newWord},
		},
	})
}

// recomputeAggregate computes slot 4 of the video word: the minimum slot-1
// value across every page, substituting updatedWord for the page currently
// being reset (it may not be reflected in the pages slice yet).
func recomputeAggregate(pages []model.Page, pageID int64, updatedWord status.Word) uint32 {
	values := make([]uint32, 0, len(pages))
	for _, p := range pages {
		if p.ID == pageID {
			values = append(values, updatedWord.Get(PageSlotVideoFile))
			continue
		}
		values = append(values, p.DownloadStatus.Get(PageSlotVideoFile))
	}
	return status.PagesAggregate(values)
}

// ResetFilteredBySource bulk-resets every video of sourceID that a rule
// filtered out (should_download=false) back to retryable, batched at 500
// rows by the store layer. It is an operator-invoked endpoint, not part of
// the per-cycle orchestration.
func ResetFilteredBySource(ctx context.Context, repo ResetRepository, sourceID int64) (int64, error) {
	n, err := repo.ResetFilteredBySource(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("workflow: reset filtered by source %d: %w", sourceID, err)
	}
	return n, nil
}

// ClearAndReset wipes a video's progress entirely: status, single_page,
// and every Page row, plus (best-effort) its artifact directory on disk.
// Failure to remove the directory is a warning, not an error — matching
// spec §8's "removes the artifact directory (warning-only if removal
// fails)".
func ClearAndReset(ctx context.Context, repo ResetRepository, videoID int64, removeDir func() error) error {
	if err := repo.ClearAndReset(ctx, videoID); err != nil {
		return fmt.Errorf("workflow: clear and reset video %d: %w", videoID, err)
	}
	if removeDir != nil {
		if err := removeDir(); err != nil {
			slog.Warn("clear and reset: directory removal failed", slog.Int64("video_id", videoID), slog.Any("err", err))
		}
	}
	return nil
}
