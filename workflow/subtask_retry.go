package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/status"
	"github.com/JeromeFenwick/bili-sync/store"
)

// RetryPageSubtask re-runs exactly one page subtask (taskIndex in 0..4),
// writes its ExecutionStatus into that slot using a Fixed mask for the
// other four (their counters are preserved untouched), and — since slot 1
// is the video-file subtask the video's aggregate depends on — recomputes
// the owning video's pages-aggregate slot from every page's current slot 1.
func RetryPageSubtask(ctx context.Context, deps Deps, repo ResetRepository, cred model.Credential, videoID, pageID int64, taskIndex int) error {
	if taskIndex < 0 || taskIndex >= status.Slots {
		return fmt.Errorf("workflow: retry page subtask: task index %d out of range", taskIndex)
	}
	v, err := repo.GetVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("workflow: retry page subtask: get video: %w", err)
	}
	if v == nil {
		return fmt.Errorf("workflow: retry page subtask: video %d not found", videoID)
	}
	pages, err := repo.ListPages(ctx, videoID)
	if err != nil {
		return fmt.Errorf("workflow: retry page subtask: list pages: %w", err)
	}
	var target *model.Page
	for i := range pages {
		if pages[i].ID == pageID {
			target = &pages[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("workflow: retry page subtask: page %d not found", pageID)
	}

	mediaBase := strings.TrimSuffix(target.Path, ".mp4")
	result := runSinglePageSubtask(ctx, deps, cred, *v, *target, mediaBase, taskIndex)

	var results [status.Slots]status.ExecutionStatus
	for slot := 0; slot < status.Slots; slot++ {
		if slot == taskIndex {
			results[slot] = result
		} else {
			results[slot] = status.Fixed(target.DownloadStatus.Get(slot))
		}
	}
	newWord := status.UpdateStatus(target.DownloadStatus, results)

	videoWord := v.DownloadStatus
	if taskIndex == PageSlotVideoFile {
		videoWord = videoWord.Set(VideoSlotPagesAggregate, recomputeAggregate(pages, pageID, newWord))
	}

	return repo.SaveCycleResult(ctx, store.CycleResult{
		VideoID:        videoID,
		DownloadStatus: videoWord,
		Pages: []store.PageResult{
			{PageID: pageID, DownloadStatus: newWord, Path: target.Path},
		},
	})
}

// RetryVideoSubtask re-runs exactly one video-level subtask (taskIndex in
// 0..3; the pages-aggregate slot 4 is never retried directly, only
// recomputed as a side effect of page retries).
func RetryVideoSubtask(ctx context.Context, deps Deps, repo ResetRepository, videoID int64, taskIndex int) error {
	if taskIndex < 0 || taskIndex >= VideoSlotPagesAggregate {
		return fmt.Errorf("workflow: retry video subtask: task index %d out of range", taskIndex)
	}
	v, err := repo.GetVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("workflow: retry video subtask: get video: %w", err)
	}
	if v == nil {
		return fmt.Errorf("workflow: retry video subtask: video %d not found", videoID)
	}

	result := runSingleVideoSubtask(ctx, deps, *v, v.Path, taskIndex)

	var results [status.Slots]status.ExecutionStatus
	for slot := 0; slot < status.Slots; slot++ {
		if slot == taskIndex {
			results[slot] = result
		} else {
			results[slot] = status.Fixed(v.DownloadStatus.Get(slot))
		}
	}
	newWord := status.UpdateStatus(v.DownloadStatus, results)
	return repo.SaveCycleResult(ctx, store.CycleResult{VideoID: videoID, DownloadStatus: newWord})
}

func runSingleVideoSubtask(ctx context.Context, deps Deps, v model.Video, baseDir string, taskIndex int) status.ExecutionStatus {
	switch taskIndex {
	case VideoSlotCover:
		return fetchCover(ctx, deps, v, baseDir+"/poster.jpg", baseDir+"/fanart.jpg")
	case VideoSlotNFO:
		return generateVideoNFO(v, deps.Config.NFOTimeType, baseDir+"/tvshow.nfo")
	case VideoSlotUpperAvatar:
		return fetchUpperAvatar(ctx, deps, v)
	case VideoSlotUpperNFO:
		return generateUpperNFO(deps, v)
	default:
		return status.Failed(fmt.Errorf("workflow: unknown video subtask %d", taskIndex))
	}
}

func runSinglePageSubtask(ctx context.Context, deps Deps, cred model.Credential, v model.Video, p model.Page, mediaBase string, taskIndex int) status.ExecutionStatus {
	switch taskIndex {
	case PageSlotThumbnail:
		return fetchThumbnail(ctx, deps, v, mediaBase+"-thumb.jpg")
	case PageSlotVideoFile:
		urls, err := deps.Client.FetchDownloadURLs(ctx, p.Cid, cred)
		if err != nil {
			return ToExecutionStatus(err)
		}
		if deps.Config.CDNSorting {
			urls = sortByLatency(ctx, deps.HTTPClient, urls)
		}
		return fetchVideoFile(ctx, deps.HTTPClient, urls, mediaBase+".mp4")
	case PageSlotNFO:
		return generatePageNFO(v, p, deps.Config.NFOTimeType, mediaBase+".nfo")
	case PageSlotDanmaku:
		return fetchDanmaku(ctx, deps, cred, p.Cid, mediaBase+".zh-CN.default.ass", p.Duration)
	case PageSlotSubtitles:
		return fetchSubtitles(ctx, deps, cred, p.Cid, mediaBase)
	default:
		return status.Failed(fmt.Errorf("workflow: unknown page subtask %d", taskIndex))
	}
}
