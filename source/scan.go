package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/remote"
	"github.com/JeromeFenwick/bili-sync/telemetry"
)

// Repository is the persistence surface Scan needs; store.Postgres
// satisfies it.
type Repository interface {
	UpsertVideo(ctx context.Context, v model.Video) (id int64, inserted bool, err error)
	MarkMissing(ctx context.Context, sourceID int64, seenBvids []string) error
	AdvanceWatermark(ctx context.Context, sourceID int64, t time.Time) error
}

// Result summarizes one source's scan.
type Result struct {
	SourceID int64
	Kind     model.SourceKind
	Scanned  int
	Inserted int
	Aborted  bool
}

// Scan enumerates src's remote items newest-first and upserts each into
// the Video table, stopping as soon as an item's Favtime is at or below
// the persisted watermark — unless src is being ingested for the first
// time, in which case the full feed is scanned. On a successful full
// scan, items not re-observed are marked invalid and the watermark
// advances to the newest Favtime seen. On remote.ErrRiskControl, Scan
// returns a Result with Aborted set and leaves the watermark untouched.
func Scan(ctx context.Context, client remote.Client, repo Repository, cred model.Credential, src model.VideoSource) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "source", "Scan",
		attribute.Int64("source_id", src.ID), attribute.String("source_kind", src.Kind.String()))
	defer span.End()

	result := Result{SourceID: src.ID, Kind: src.Kind}
	firstRun := src.LatestRowAt.IsZero()

	items, err := client.EnumerateSource(ctx, src, cred)
	if err != nil {
		if errors.Is(err, remote.ErrRiskControl) {
			result.Aborted = true
			telemetry.SetSpanSuccess(span)
			return result, nil
		}
		err = fmt.Errorf("source: enumerate %s: %w", DisplayName(src), err)
		telemetry.RecordError(span, err)
		return result, err
	}

	seen := make([]string, 0, len(items))
	var maxFavtime time.Time
	for _, item := range items {
		if !firstRun && !item.Favtime.After(src.LatestRowAt) {
			break
		}
		result.Scanned++
		seen = append(seen, item.Bvid)
		if item.Favtime.After(maxFavtime) {
			maxFavtime = item.Favtime
		}

		v := model.Video{
			Bvid:           item.Bvid,
			Name:           item.Name,
			UpperID:        item.UpperID,
			UpperName:      item.UpperName,
			Pubtime:        item.Pubtime,
			Favtime:        item.Favtime,
			SourceID:       src.ID,
			SourceKind:     src.Kind,
			ShouldDownload: src.Rule.Matches(&model.Video{Name: item.Name, UpperID: item.UpperID}),
			Valid:          true,
		}
		_, inserted, err := repo.UpsertVideo(ctx, v)
		if err != nil {
			err = fmt.Errorf("source: upsert %s: %w", item.Bvid, err)
			telemetry.RecordError(span, err)
			return result, err
		}
		if inserted {
			result.Inserted++
		}
	}

	// Soft-deletion only makes sense when this cycle actually walked the
	// full remote feed; an incremental scan only sees the delta since the
	// watermark and would wrongly invalidate everything older.
	if firstRun {
		if err := repo.MarkMissing(ctx, src.ID, seen); err != nil {
			err = fmt.Errorf("source: mark missing: %w", err)
			telemetry.RecordError(span, err)
			return result, err
		}
	}
	if maxFavtime.After(src.LatestRowAt) {
		if err := repo.AdvanceWatermark(ctx, src.ID, maxFavtime); err != nil {
			err = fmt.Errorf("source: advance watermark: %w", err)
			telemetry.RecordError(span, err)
			return result, err
		}
	}
	telemetry.SetSpanSuccess(span)
	return result, nil
}
