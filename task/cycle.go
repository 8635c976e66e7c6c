package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/source"
	"github.com/JeromeFenwick/bili-sync/workflow"
)

// RunDownloadCycle runs one download cycle: scans every enabled source,
// then runs the download workflow for each source's downloadable videos.
// Single-flight: a cycle already in progress causes this call to log and
// return immediately, coalescing a manual "download once" request with the
// scheduled tick. A risk-control abort stops the scan: that source and
// every later enabled source are counted as pending in the summary.
func (m *Manager) RunDownloadCycle(ctx context.Context) {
	if !m.cycleMu.TryLock() {
		slog.Info("task: download cycle already running, skipping")
		return
	}
	defer m.cycleMu.Unlock()

	start := time.Now()
	m.setStatus(model.TaskStatus{IsRunning: true, LastRun: start})
	defer func() {
		m.setStatus(model.TaskStatus{IsRunning: false, LastRun: start})
		m.publishNextRun()
	}()

	cfg := m.configs.Get()
	sources, err := m.repo.ListSources(ctx)
	if err != nil {
		slog.Error("task: list sources", slog.Any("err", err))
		return
	}

	pending := make(map[model.SourceKind]int)
	tally := make(map[model.SourceKind]*kindTally)
	var riskControlHit bool

	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		if riskControlHit {
			pending[src.Kind]++
			continue
		}
		result, err := source.Scan(ctx, m.client, m.repo, cfg.Credential, src)
		if err != nil {
			slog.Error("task: scan source", slog.Int64("source_id", src.ID), slog.Any("err", err))
			continue
		}
		if result.Aborted {
			riskControlHit = true
			pending[src.Kind]++
			slog.Warn("task: scan aborted by risk control", slog.Int64("source_id", src.ID))
			continue
		}

		videos, err := m.repo.ListDownloadableVideos(ctx, src.ID)
		if err != nil {
			slog.Error("task: list downloadable videos", slog.Int64("source_id", src.ID), slog.Any("err", err))
			continue
		}
		total, succeeded := m.runVideos(ctx, cfg, src, videos)
		if tally[src.Kind] == nil {
			tally[src.Kind] = &kindTally{}
		}
		tally[src.Kind].total += total
		tally[src.Kind].succeeded += succeeded
	}

	m.notify(cycleSummary(tally, pending, riskControlHit))
}

// kindTally accumulates per-source-kind download counts for one cycle's
// unconditional summary notification, mirroring the original's
// download_video bookkeeping across every source of that kind.
type kindTally struct {
	total     int
	succeeded int
}

func (m *Manager) runVideos(ctx context.Context, cfg *model.Config, src model.VideoSource, videos []model.Video) (total, succeeded int) {
	videoSem := semaphore.NewWeighted(int64(max(cfg.ConcurrentLimit.Video, 1)))
	pageSem := semaphore.NewWeighted(int64(max(cfg.ConcurrentLimit.Page, 1)))
	deps := workflow.Deps{Client: m.client, Config: *cfg, HTTPClient: m.httpClient}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var newlyDownloaded int
	for _, v := range videos {
		if err := videoSem.Acquire(ctx, 1); err != nil {
			break
		}
		v := v
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer videoSem.Release(1)
			result, err := workflow.RunVideo(ctx, deps, m.repo, src, cfg.Credential, v, pageSem)
			mu.Lock()
			defer mu.Unlock()
			total++
			if err != nil {
				slog.Error("task: run video", slog.Int64("video_id", v.ID), slog.Any("err", err))
				return
			}
			if result.Attempted && result.Succeeded {
				succeeded++
				newlyDownloaded++
			}
		}()
	}
	wg.Wait()

	if cfg.NotifyNewVideos && newlyDownloaded > 0 {
		m.notify(fmt.Sprintf("本次同步完成 %d 个视频 (来源 #%d)", newlyDownloaded, src.ID))
	}
	return total, succeeded
}

// cycleSummary renders the unconditional per-source-kind succeeded/total
// tally, appending the risk-control pending counts when a scan aborted.
func cycleSummary(tally map[model.SourceKind]*kindTally, pending map[model.SourceKind]int, riskControlHit bool) string {
	msg := "同步汇总"
	for _, kind := range []model.SourceKind{model.Collection, model.Favorite, model.Submission, model.WatchLater} {
		t, ok := tally[kind]
		if !ok {
			continue
		}
		msg += fmt.Sprintf("\n%s: %d/%d", kind, t.succeeded, t.total)
	}
	if riskControlHit {
		msg += "\n触发风控，已中止本轮扫描，待扫描来源："
		for kind, n := range pending {
			msg += fmt.Sprintf("\n%s: %d", kind, n)
		}
	}
	return msg
}

func (m *Manager) runCredentialRefresh(ctx context.Context) {
	cfg := m.configs.Get()
	newCred, refreshed, err := m.client.RefreshCredential(ctx, cfg.Credential)
	if err != nil {
		slog.Error("task: credential refresh", slog.Any("err", err))
		m.notify("凭证刷新失败: " + err.Error())
		return
	}
	if !refreshed {
		slog.Info("task: credential refresh not needed")
		return
	}
	if err := m.configs.Update(ctx, func(c *model.Config) error {
		c.Credential = newCred
		return nil
	}); err != nil {
		slog.Error("task: persist refreshed credential", slog.Any("err", err))
		m.notify("凭证已刷新，但保存失败: " + err.Error())
		return
	}
	slog.Info("task: credential refreshed")
	m.notify("凭证已刷新")
}
