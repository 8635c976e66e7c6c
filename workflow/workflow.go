// Package workflow implements the Download Workflow: the per-video,
// per-page subtask state machine orchestrated against the status codec.
package workflow

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/remote"
	"github.com/JeromeFenwick/bili-sync/render"
	"github.com/JeromeFenwick/bili-sync/source"
	"github.com/JeromeFenwick/bili-sync/status"
	"github.com/JeromeFenwick/bili-sync/store"
	"github.com/JeromeFenwick/bili-sync/telemetry"
)

// Repository is the persistence surface RunVideo needs.
type Repository interface {
	ListPages(ctx context.Context, videoID int64) ([]model.Page, error)
	EnsurePages(ctx context.Context, videoID int64, details []model.Page) ([]model.Page, error)
	SaveCycleResult(ctx context.Context, r store.CycleResult) error
}

// Deps bundles RunVideo's collaborators: the remote platform client, the
// current configuration snapshot (a value copy taken at cycle start — see
// spec §9 "readers clone out"), and an HTTP client used for video-file
// fetches.
type Deps struct {
	Client     remote.Client
	Config     model.Config
	HTTPClient *http.Client
}

// Result summarizes one video's cycle run.
type Result struct {
	VideoID   int64
	Attempted bool
	Succeeded bool
}

// RunVideo runs one cycle for a single video: resolves single_page/pages on
// first encounter, fans the four non-aggregate video subtasks out in
// parallel, runs page subtasks with bounded cross-page parallelism and
// sequential within-page ordering, computes the pages-aggregate slot, and
// persists everything in one transaction.
func RunVideo(ctx context.Context, deps Deps, repo Repository, src model.VideoSource, cred model.Credential, v model.Video, pageSem *semaphore.Weighted) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "workflow", "RunVideo",
		attribute.Int64("video_id", v.ID), attribute.String("bvid", v.Bvid))
	defer span.End()

	result := Result{VideoID: v.ID}
	if !v.ShouldDownload || v.IsPaidVideo {
		return result, nil
	}
	result.Attempted = true

	pages, singlePage, err := resolvePages(ctx, deps, repo, cred, v)
	if err != nil {
		err = fmt.Errorf("workflow: resolve pages for video %d: %w", v.ID, err)
		telemetry.RecordError(span, err)
		return result, err
	}
	if singlePage != nil {
		v.SinglePage = singlePage
	}

	baseDir := v.Path
	if baseDir == "" {
		rendered, err := render.Path(deps.Config.VideoName, videoTemplateData(v))
		if err != nil {
			err = fmt.Errorf("workflow: render video path: %w", err)
			telemetry.RecordError(span, err)
			return result, err
		}
		baseDir = source.ResolveVideoDir(src, deps.Config, rendered)
	}

	videoResults := runVideoSubtasks(ctx, deps, v, baseDir)

	var pageResults []store.PageResult
	var pageSlot1 []uint32
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range pages {
		p := p
		if err := pageSem.Acquire(ctx, 1); err != nil {
			// Context canceled mid fan-out: leave this page's slots
			// untouched rather than persisting a fabricated zero status.
			pageSlot1 = append(pageSlot1, p.DownloadStatus.Get(PageSlotVideoFile))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pageSem.Release(1)
			pr, word := runPageSubtasks(ctx, deps, cred, v, p, baseDir, len(pages) == 1)
			mu.Lock()
			pageResults = append(pageResults, pr)
			pageSlot1 = append(pageSlot1, word.Get(PageSlotVideoFile))
			mu.Unlock()
		}()
	}
	wg.Wait()

	videoResults[VideoSlotPagesAggregate] = status.Fixed(status.PagesAggregate(pageSlot1))
	newWord := status.UpdateStatus(v.DownloadStatus, videoResults)

	if err := repo.SaveCycleResult(ctx, store.CycleResult{
		VideoID:        v.ID,
		DownloadStatus: newWord,
		Path:           baseDir,
		SinglePage:     v.SinglePage,
		Pages:          pageResults,
	}); err != nil {
		err = fmt.Errorf("workflow: save cycle result for video %d: %w", v.ID, err)
		telemetry.RecordError(span, err)
		return result, err
	}

	result.Succeeded = newWord.Succeeded()
	for _, o := range classifyOutcomes(videoResults) {
		telemetry.SubtaskOutcomes.WithLabelValues("video", o).Inc()
	}
	if result.Succeeded {
		telemetry.VideosSucceeded.Inc()
	} else if newWord.Failed() {
		telemetry.VideosFailed.Inc()
	}
	telemetry.SetSpanSuccess(span)
	return result, nil
}

// resolvePages returns v's page list, fetching and materializing it from
// the remote detail endpoint on first encounter (v.SinglePage == nil); on
// later cycles it simply re-lists the already-persisted pages.
func resolvePages(ctx context.Context, deps Deps, repo Repository, cred model.Credential, v model.Video) ([]model.Page, *bool, error) {
	if v.SinglePage != nil {
		pages, err := repo.ListPages(ctx, v.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list pages: %w", err)
		}
		return pages, nil, nil
	}
	detail, err := deps.Client.FetchVideoDetail(ctx, v.Bvid, cred)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch video detail: %w", err)
	}
	details := make([]model.Page, len(detail.Pages))
	for i, pd := range detail.Pages {
		details[i] = model.Page{
			VideoID:  v.ID,
			Pid:      pd.Pid,
			Cid:      pd.Cid,
			Name:     pd.Name,
			Duration: pd.Duration,
			Width:    pd.Width,
			Height:   pd.Height,
		}
	}
	pages, err := repo.EnsurePages(ctx, v.ID, details)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure pages: %w", err)
	}
	single := detail.SinglePage
	return pages, &single, nil
}

func videoTemplateData(v model.Video) map[string]interface{} {
	return map[string]interface{}{
		"bvid":       v.Bvid,
		"name":       v.Name,
		"upper_id":   v.UpperID,
		"upper_name": v.UpperName,
		"pubtime":    v.Pubtime.Format("2006-01-02"),
		"favtime":    v.Favtime.Format("2006-01-02"),
	}
}

func runVideoSubtasks(ctx context.Context, deps Deps, v model.Video, baseDir string) [status.Slots]status.ExecutionStatus {
	var results [status.Slots]status.ExecutionStatus
	var wg sync.WaitGroup
	run := func(slot int, fn func() status.ExecutionStatus) {
		if v.DownloadStatus.Get(slot) == status.Terminal {
			results[slot] = status.Skipped()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[slot] = fn()
		}()
	}
	run(VideoSlotCover, func() status.ExecutionStatus {
		return fetchCover(ctx, deps, v, filepath.Join(baseDir, "poster.jpg"), filepath.Join(baseDir, "fanart.jpg"))
	})
	run(VideoSlotNFO, func() status.ExecutionStatus {
		return generateVideoNFO(v, deps.Config.NFOTimeType, filepath.Join(baseDir, "tvshow.nfo"))
	})
	run(VideoSlotUpperAvatar, func() status.ExecutionStatus {
		return fetchUpperAvatar(ctx, deps, v)
	})
	run(VideoSlotUpperNFO, func() status.ExecutionStatus {
		return generateUpperNFO(deps, v)
	})
	wg.Wait()
	// slot VideoSlotPagesAggregate is filled in by the caller after pages run.
	return results
}

func runPageSubtasks(ctx context.Context, deps Deps, cred model.Credential, v model.Video, p model.Page, baseDir string, singlePage bool) (store.PageResult, status.Word) {
	var results [status.Slots]status.ExecutionStatus

	// On re-observation an already-persisted path is authoritative: the
	// page_name template is only evaluated the first time a page is seen.
	var mediaBase string
	if p.Path != "" {
		mediaBase = strings.TrimSuffix(p.Path, ".mp4")
	} else {
		stem, err := render.Path(deps.Config.PageName, pageTemplateData(v, p))
		if err != nil {
			for slot := range results {
				results[slot] = status.Failed(err)
			}
			word := status.UpdateStatus(p.DownloadStatus, results)
			return store.PageResult{PageID: p.ID, DownloadStatus: word}, word
		}
		mediaBase = pageMediaBase(baseDir, stem, p.Pid, singlePage)
	}

	run := func(slot int, fn func() status.ExecutionStatus) {
		if p.DownloadStatus.Get(slot) == status.Terminal {
			results[slot] = status.Skipped()
			return
		}
		results[slot] = fn()
	}

	run(PageSlotThumbnail, func() status.ExecutionStatus {
		return fetchThumbnail(ctx, deps, v, mediaBase+"-thumb.jpg")
	})
	run(PageSlotVideoFile, func() status.ExecutionStatus {
		urls, err := deps.Client.FetchDownloadURLs(ctx, p.Cid, cred)
		if err != nil {
			return ToExecutionStatus(err)
		}
		if deps.Config.CDNSorting {
			urls = sortByLatency(ctx, deps.HTTPClient, urls)
		}
		return fetchVideoFile(ctx, deps.HTTPClient, urls, mediaBase+".mp4")
	})
	run(PageSlotNFO, func() status.ExecutionStatus {
		return generatePageNFO(v, p, deps.Config.NFOTimeType, mediaBase+".nfo")
	})
	run(PageSlotDanmaku, func() status.ExecutionStatus {
		return fetchDanmaku(ctx, deps, cred, p.Cid, mediaBase+".zh-CN.default.ass", p.Duration)
	})
	run(PageSlotSubtitles, func() status.ExecutionStatus {
		return fetchSubtitles(ctx, deps, cred, p.Cid, mediaBase)
	})

	word := status.UpdateStatus(p.DownloadStatus, results)
	path := mediaBase + ".mp4"
	for _, o := range classifyOutcomes(results) {
		telemetry.SubtaskOutcomes.WithLabelValues("page", o).Inc()
	}
	return store.PageResult{PageID: p.ID, DownloadStatus: word, Path: path}, word
}

func pageMediaBase(baseDir, stem string, pid int, singlePage bool) string {
	if singlePage {
		return filepath.Join(baseDir, stem)
	}
	return filepath.Join(baseDir, "Season 1", fmt.Sprintf("%s - S01E%02d", stem, pid))
}

func pageTemplateData(v model.Video, p model.Page) map[string]interface{} {
	return map[string]interface{}{
		"bvid": v.Bvid,
		"name": v.Name,
		"pid":  p.Pid,
		"cid":  p.Cid,
		"pname": p.Name,
	}
}

type probedURL struct {
	url     string
	latency time.Duration
	ok      bool
}

// sortByLatency is a best-effort CDN probe: HEAD each candidate with a short
// timeout and sort by response time. Candidates whose probe fails go after
// every candidate that answered, keeping their original relative order.
// Kept intentionally simple; it is not the bottleneck.
func sortByLatency(ctx context.Context, httpClient *http.Client, urls []string) []string {
	results := make([]probedURL, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		i, u := i, u
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			start := time.Now()
			req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, u, nil)
			if err != nil {
				results[i] = probedURL{url: u}
				return
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				results[i] = probedURL{url: u}
				return
			}
			resp.Body.Close()
			results[i] = probedURL{url: u, latency: time.Since(start), ok: true}
		}()
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].ok != results[j].ok {
			return results[i].ok
		}
		return results[i].latency < results[j].latency
	})
	ordered := make([]string, len(results))
	for i, r := range results {
		ordered[i] = r.url
	}
	return ordered
}

func classifyOutcomes(results [status.Slots]status.ExecutionStatus) []string {
	out := make([]string, 0, status.Slots)
	for _, r := range results {
		out = append(out, r.Label())
	}
	return out
}
