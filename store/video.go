package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/status"
)

// ListSources returns every configured video source, enabled or not; the
// caller filters on Enabled.
func (p *Postgres) ListSources(ctx context.Context) ([]model.VideoSource, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, kind, enabled, path, latest_row_at, rule_expr, use_dynamic_api, fid, sid, mid
		FROM video_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list sources: %w", err)
	}
	defer rows.Close()

	var out []model.VideoSource
	for rows.Next() {
		var s model.VideoSource
		var kind int
		var ruleExpr string
		if err := rows.Scan(&s.ID, &kind, &s.Enabled, &s.Path, &s.LatestRowAt, &ruleExpr, &s.UseDynamicAPI, &s.Fid, &s.Sid, &s.Mid); err != nil {
			return nil, fmt.Errorf("store: scan source: %w", err)
		}
		s.Kind = model.SourceKind(kind)
		if ruleExpr != "" {
			s.Rule = &model.Rule{Expr: ruleExpr}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AdvanceWatermark sets a source's latest_row_at, the timestamp a scan
// resumes from next cycle. Only called after a fully successful scan.
func (p *Postgres) AdvanceWatermark(ctx context.Context, sourceID int64, t time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE video_sources SET latest_row_at = $1 WHERE id = $2`, t, sourceID)
	if err != nil {
		return fmt.Errorf("store: advance watermark: %w", err)
	}
	return nil
}

// UpsertVideo inserts a new Video row for bvid if unknown, or refreshes
// favtime/name/valid on an existing one. Returns the row id and whether it
// was newly inserted.
func (p *Postgres) UpsertVideo(ctx context.Context, v model.Video) (id int64, inserted bool, err error) {
	err = p.pool.QueryRow(ctx, `
		INSERT INTO videos (bvid, name, upper_id, upper_name, pubtime, favtime, source_id, source_kind, should_download)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (bvid) DO UPDATE SET
			favtime = EXCLUDED.favtime,
			valid = TRUE,
			name = CASE WHEN videos.name <> EXCLUDED.name THEN EXCLUDED.name ELSE videos.name END
		RETURNING id, (xmax = 0) AS inserted`,
		v.Bvid, v.Name, v.UpperID, v.UpperName, v.Pubtime, v.Favtime, v.SourceID, int(v.SourceKind), v.ShouldDownload,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("store: upsert video: %w", err)
	}
	return id, inserted, nil
}

// MarkMissing soft-deletes every video of sourceID not present in
// seenBvids, after a full scan window.
func (p *Postgres) MarkMissing(ctx context.Context, sourceID int64, seenBvids []string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE videos SET valid = FALSE
		WHERE source_id = $1 AND NOT (bvid = ANY($2))`,
		sourceID, seenBvids)
	if err != nil {
		return fmt.Errorf("store: mark missing: %w", err)
	}
	return nil
}

// GetVideo fetches a Video by id.
func (p *Postgres) GetVideo(ctx context.Context, id int64) (*model.Video, error) {
	var v model.Video
	var sourceKind int
	var word uint32
	err := p.pool.QueryRow(ctx, `
		SELECT id, bvid, name, upper_id, upper_name, pubtime, favtime, created_at,
		       source_id, source_kind, path, single_page, should_download, is_paid_video, valid, download_status
		FROM videos WHERE id = $1`, id,
	).Scan(&v.ID, &v.Bvid, &v.Name, &v.UpperID, &v.UpperName, &v.Pubtime, &v.Favtime, &v.CreatedAt,
		&v.SourceID, &sourceKind, &v.Path, &v.SinglePage, &v.ShouldDownload, &v.IsPaidVideo, &v.Valid, &word)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get video: %w", err)
	}
	v.SourceKind = model.SourceKind(sourceKind)
	v.DownloadStatus = status.Word(word)
	return &v, nil
}

// ListDownloadableVideos returns every valid, non-paid video of sourceID
// with should_download set, for the download cycle to run the workflow
// over. Videos already fully terminal are included too — the workflow's
// per-subtask short-circuit makes revisiting them cheap — filtering those
// out here would need a bitwise all-terminal check the planner can't use
// an index for.
func (p *Postgres) ListDownloadableVideos(ctx context.Context, sourceID int64) ([]model.Video, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, bvid, name, upper_id, upper_name, pubtime, favtime, created_at,
		       source_id, source_kind, path, single_page, should_download, is_paid_video, valid, download_status
		FROM videos
		WHERE source_id = $1 AND valid = TRUE AND should_download = TRUE AND is_paid_video = FALSE`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: list downloadable videos: %w", err)
	}
	defer rows.Close()

	var out []model.Video
	for rows.Next() {
		var v model.Video
		var sourceKind int
		var word uint32
		if err := rows.Scan(&v.ID, &v.Bvid, &v.Name, &v.UpperID, &v.UpperName, &v.Pubtime, &v.Favtime, &v.CreatedAt,
			&v.SourceID, &sourceKind, &v.Path, &v.SinglePage, &v.ShouldDownload, &v.IsPaidVideo, &v.Valid, &word); err != nil {
			return nil, fmt.Errorf("store: scan downloadable video: %w", err)
		}
		v.SourceKind = model.SourceKind(sourceKind)
		v.DownloadStatus = status.Word(word)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListPages returns every Page of videoID, ordered by cid for stable
// iteration.
func (p *Postgres) ListPages(ctx context.Context, videoID int64) ([]model.Page, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, video_id, pid, cid, name, duration_seconds, width, height, path, download_status
		FROM pages WHERE video_id = $1 ORDER BY cid`, videoID)
	if err != nil {
		return nil, fmt.Errorf("store: list pages: %w", err)
	}
	defer rows.Close()

	var out []model.Page
	for rows.Next() {
		var pg model.Page
		var seconds int
		var word uint32
		if err := rows.Scan(&pg.ID, &pg.VideoID, &pg.Pid, &pg.Cid, &pg.Name, &seconds, &pg.Width, &pg.Height, &pg.Path, &word); err != nil {
			return nil, fmt.Errorf("store: scan page: %w", err)
		}
		pg.Duration = time.Duration(seconds) * time.Second
		pg.DownloadStatus = status.Word(word)
		out = append(out, pg)
	}
	return out, rows.Err()
}

// EnsurePages inserts any page in details not already present for
// videoID (keyed by cid) and returns the full, current page list.
func (p *Postgres) EnsurePages(ctx context.Context, videoID int64, details []model.Page) ([]model.Page, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: ensure pages: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, d := range details {
		_, err := tx.Exec(ctx, `
			INSERT INTO pages (video_id, pid, cid, name, duration_seconds, width, height)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (video_id, cid) DO NOTHING`,
			videoID, d.Pid, d.Cid, d.Name, int(d.Duration.Seconds()), d.Width, d.Height)
		if err != nil {
			return nil, fmt.Errorf("store: ensure pages: insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: ensure pages: commit: %w", err)
	}
	return p.ListPages(ctx, videoID)
}

// CycleResult is the end-of-video-cycle write: the Video's updated status
// and resolved attributes, plus every Page's updated status, applied in a
// single transaction.
type CycleResult struct {
	VideoID        int64
	DownloadStatus status.Word
	Path           string
	SinglePage     *bool
	Pages          []PageResult
}

// PageResult is one Page's status update within a CycleResult.
type PageResult struct {
	PageID         int64
	DownloadStatus status.Word
	Path           string
}

// SaveCycleResult commits r atomically: either every status-slot update
// for this video and its pages lands, or none do.
func (p *Postgres) SaveCycleResult(ctx context.Context, r CycleResult) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: save cycle result: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE videos SET download_status = $1, path = COALESCE(NULLIF($2, ''), path), single_page = COALESCE($3, single_page)
		WHERE id = $4`,
		uint32(r.DownloadStatus), r.Path, r.SinglePage, r.VideoID)
	if err != nil {
		return fmt.Errorf("store: save cycle result: update video: %w", err)
	}

	for _, pr := range r.Pages {
		_, err := tx.Exec(ctx, `
			UPDATE pages SET download_status = $1, path = COALESCE(NULLIF($2, ''), path)
			WHERE id = $3`,
			uint32(pr.DownloadStatus), pr.Path, pr.PageID)
		if err != nil {
			return fmt.Errorf("store: save cycle result: update page: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ClearAndReset wipes a Video's download progress: zeroes its status,
// nulls single_page, and deletes its Page rows. The caller is responsible
// for removing the artifact directory on disk.
func (p *Postgres) ClearAndReset(ctx context.Context, videoID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: clear and reset: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM pages WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("store: clear and reset: delete pages: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE videos SET download_status = 0, single_page = NULL, path = '' WHERE id = $1`, videoID); err != nil {
		return fmt.Errorf("store: clear and reset: update video: %w", err)
	}
	return tx.Commit(ctx)
}

// ResetFilteredBySource resets every video of sourceID whose
// should_download is currently false back to retryable (should_download
// true, download_status reset to 0), in batches of 500, and returns the
// total number of videos reset.
func (p *Postgres) ResetFilteredBySource(ctx context.Context, sourceID int64) (int64, error) {
	var total int64
	for {
		tag, err := p.pool.Exec(ctx, `
		WITH batch AS (
			SELECT id FROM videos
			WHERE source_id = $1 AND should_download = FALSE
			LIMIT 500
		)
		UPDATE videos SET should_download = TRUE, download_status = 0
		WHERE id IN (SELECT id FROM batch)`,
			sourceID)
		if err != nil {
			return 0, fmt.Errorf("store: reset filtered by source: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < 500 {
			return total, nil
		}
	}
}
