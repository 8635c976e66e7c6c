package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JeromeFenwick/bili-sync/model"
)

// summaryCounts holds the daily-summary aggregator's tally over every
// video row, per spec §4.5: total, succeeded, failed (valid only),
// waiting-and-downloadable, permanently-skipped, and paid.
type summaryCounts struct {
	total     int
	succeeded int
	failed    int
	waiting   int
	skipped   int
	paid      int
}

// runDailySummary aggregates counts using the Status Codec's query-builder
// predicates and enqueues a single formatted notification. The "failed"
// count filters on valid=true; the others intentionally do not — this
// asymmetry is carried straight from spec §9's open-question resolution.
func (m *Manager) runDailySummary(ctx context.Context) {
	rows, err := m.repo.ListVideoStatusRows(ctx)
	if err != nil {
		slog.Error("task: daily summary: list video status rows", slog.Any("err", err))
		return
	}

	var c summaryCounts
	for _, r := range rows {
		c.total++
		if r.DownloadStatus.Succeeded() {
			c.succeeded++
		}
		if r.DownloadStatus.Failed() && r.Valid {
			c.failed++
		}
		if r.DownloadStatus.Waiting() && r.ShouldDownload && !r.IsPaidVideo {
			c.waiting++
		}
		if !r.ShouldDownload && !r.IsPaidVideo {
			c.skipped++
		}
		if r.IsPaidVideo {
			c.paid++
		}
	}

	sources, err := m.repo.EnabledSourceCounts(ctx)
	if err != nil {
		slog.Error("task: daily summary: enabled source counts", slog.Any("err", err))
		return
	}

	m.notify(formatDailySummary(c, sources))
}

func formatDailySummary(c summaryCounts, sources map[model.SourceKind]int) string {
	msg := fmt.Sprintf(
		"每日汇总\n总计: %d\n已完成: %d\n失败: %d\n等待中: %d\n已跳过: %d\n付费: %d",
		c.total, c.succeeded, c.failed, c.waiting, c.skipped, c.paid,
	)
	for _, kind := range []model.SourceKind{model.Collection, model.Favorite, model.Submission, model.WatchLater} {
		if n, ok := sources[kind]; ok {
			msg += fmt.Sprintf("\n%s: %d 个已启用", kind, n)
		}
	}
	return msg
}
