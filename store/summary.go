package store

import (
	"context"
	"fmt"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/status"
)

// VideoStatusRow is the minimal projection the daily-summary aggregator
// needs: enough to apply the Status Codec's predicates without loading
// full Video rows.
type VideoStatusRow struct {
	ShouldDownload bool
	IsPaidVideo    bool
	Valid          bool
	DownloadStatus status.Word
}

// ListVideoStatusRows returns the summary projection for every video.
func (p *Postgres) ListVideoStatusRows(ctx context.Context) ([]VideoStatusRow, error) {
	rows, err := p.pool.Query(ctx, `SELECT should_download, is_paid_video, valid, download_status FROM videos`)
	if err != nil {
		return nil, fmt.Errorf("store: list video status rows: %w", err)
	}
	defer rows.Close()

	var out []VideoStatusRow
	for rows.Next() {
		var r VideoStatusRow
		var word uint32
		if err := rows.Scan(&r.ShouldDownload, &r.IsPaidVideo, &r.Valid, &word); err != nil {
			return nil, fmt.Errorf("store: scan video status row: %w", err)
		}
		r.DownloadStatus = status.Word(word)
		out = append(out, r)
	}
	return out, rows.Err()
}

// EnabledSourceCounts returns the number of enabled sources per kind.
func (p *Postgres) EnabledSourceCounts(ctx context.Context) (map[model.SourceKind]int, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT kind, count(*) FROM video_sources WHERE enabled = TRUE GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("store: enabled source counts: %w", err)
	}
	defer rows.Close()

	out := make(map[model.SourceKind]int)
	for rows.Next() {
		var kind int
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("store: scan source count: %w", err)
		}
		out[model.SourceKind(kind)] = n
	}
	return out, rows.Err()
}
