package source

import (
	"context"
	"testing"
	"time"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/remote"
)

// fakeClient implements remote.Client, returning canned items from
// EnumerateSource and zero values everywhere else; Scan never calls the
// other methods.
type fakeClient struct {
	items []remote.SourceItem
	err   error
}

func (f *fakeClient) EnumerateSource(ctx context.Context, src model.VideoSource, cred model.Credential) ([]remote.SourceItem, error) {
	return f.items, f.err
}
func (f *fakeClient) FetchVideoDetail(ctx context.Context, bvid string, cred model.Credential) (remote.VideoDetail, error) {
	return remote.VideoDetail{}, nil
}
func (f *fakeClient) FetchDownloadURLs(ctx context.Context, cid string, cred model.Credential) ([]string, error) {
	return nil, nil
}
func (f *fakeClient) FetchDanmaku(ctx context.Context, cid string, cred model.Credential) ([]remote.DanmakuEntry, error) {
	return nil, nil
}
func (f *fakeClient) FetchSubtitles(ctx context.Context, cid string, cred model.Credential) ([]remote.Subtitle, error) {
	return nil, nil
}
func (f *fakeClient) FetchCover(ctx context.Context, bvid string) ([]byte, error) { return nil, nil }
func (f *fakeClient) FetchUpperAvatar(ctx context.Context, upperID string) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) RefreshCredential(ctx context.Context, cred model.Credential) (model.Credential, bool, error) {
	return cred, false, nil
}

var _ remote.Client = (*fakeClient)(nil)

type upsertCall struct {
	v model.Video
}

// fakeRepo implements Repository, recording calls for assertions.
type fakeRepo struct {
	upserts          []upsertCall
	markMissingCalls int
	markMissingSeen  []string
	watermark        time.Time
	watermarkSet     bool
}

func (f *fakeRepo) UpsertVideo(ctx context.Context, v model.Video) (int64, bool, error) {
	f.upserts = append(f.upserts, upsertCall{v: v})
	return int64(len(f.upserts)), true, nil
}

func (f *fakeRepo) MarkMissing(ctx context.Context, sourceID int64, seenBvids []string) error {
	f.markMissingCalls++
	f.markMissingSeen = append([]string{}, seenBvids...)
	return nil
}

func (f *fakeRepo) AdvanceWatermark(ctx context.Context, sourceID int64, t time.Time) error {
	f.watermark = t
	f.watermarkSet = true
	return nil
}

var _ Repository = (*fakeRepo)(nil)

func TestScanFirstRunInsertsAllAndMarksMissing(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{items: []remote.SourceItem{
		{Bvid: "BV2", Name: "second", Favtime: t2},
		{Bvid: "BV1", Name: "first", Favtime: t1},
	}}
	repo := &fakeRepo{}
	src := model.VideoSource{ID: 7, Kind: model.Favorite}

	result, err := Scan(context.Background(), client, repo, model.Credential{}, src)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if result.Scanned != 2 || result.Inserted != 2 {
		t.Errorf("result = %+v, want Scanned=2 Inserted=2", result)
	}
	if repo.markMissingCalls != 1 {
		t.Errorf("markMissingCalls = %d, want 1 on first run", repo.markMissingCalls)
	}
	if len(repo.markMissingSeen) != 2 {
		t.Errorf("markMissingSeen = %v, want 2 entries", repo.markMissingSeen)
	}
	if !repo.watermarkSet || !repo.watermark.Equal(t2) {
		t.Errorf("watermark = %v, want %v", repo.watermark, t2)
	}
}

func TestScanIncrementalStopsAtWatermarkWithoutMarkingMissing(t *testing.T) {
	watermark := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{items: []remote.SourceItem{
		{Bvid: "BV3", Name: "new", Favtime: newer},
		{Bvid: "BV2", Name: "stale", Favtime: watermark},
	}}
	repo := &fakeRepo{}
	src := model.VideoSource{ID: 7, Kind: model.Favorite, LatestRowAt: watermark}

	result, err := Scan(context.Background(), client, repo, model.Credential{}, src)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if result.Scanned != 1 || result.Inserted != 1 {
		t.Errorf("result = %+v, want Scanned=1 Inserted=1", result)
	}
	if repo.markMissingCalls != 0 {
		t.Errorf("markMissingCalls = %d, want 0 on incremental scan", repo.markMissingCalls)
	}
	if !repo.watermarkSet || !repo.watermark.Equal(newer) {
		t.Errorf("watermark = %v, want %v", repo.watermark, newer)
	}
}

func TestScanRiskControlAbortsWithoutError(t *testing.T) {
	client := &fakeClient{err: remote.ErrRiskControl}
	repo := &fakeRepo{}
	src := model.VideoSource{ID: 7, Kind: model.Favorite}

	result, err := Scan(context.Background(), client, repo, model.Credential{}, src)
	if err != nil {
		t.Fatalf("Scan() error = %v, want nil", err)
	}
	if !result.Aborted {
		t.Error("expected result.Aborted = true")
	}
	if repo.watermarkSet {
		t.Error("watermark should not advance on risk-control abort")
	}
	if len(repo.upserts) != 0 {
		t.Error("no upserts should occur on risk-control abort")
	}
}

func TestScanAppliesRuleToShouldDownload(t *testing.T) {
	client := &fakeClient{items: []remote.SourceItem{
		{Bvid: "BV1", Name: "keep me", UpperID: "100", Favtime: time.Now()},
		{Bvid: "BV2", Name: "drop me", UpperID: "200", Favtime: time.Now()},
	}}
	repo := &fakeRepo{}
	src := model.VideoSource{
		ID:   7,
		Kind: model.Favorite,
		Rule: &model.Rule{Expr: "exclude:200"},
	}

	if _, err := Scan(context.Background(), client, repo, model.Credential{}, src); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(repo.upserts) != 2 {
		t.Fatalf("upserts = %d, want 2", len(repo.upserts))
	}
	byBvid := map[string]bool{}
	for _, u := range repo.upserts {
		byBvid[u.v.Bvid] = u.v.ShouldDownload
	}
	if !byBvid["BV1"] {
		t.Error("BV1 should be marked ShouldDownload")
	}
	if byBvid["BV2"] {
		t.Error("BV2 should be excluded by rule")
	}
}
