package workflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/remote"
	"github.com/JeromeFenwick/bili-sync/render"
	"github.com/JeromeFenwick/bili-sync/status"
)

// Video-level subtask slots.
const (
	VideoSlotCover = iota
	VideoSlotNFO
	VideoSlotUpperAvatar
	VideoSlotUpperNFO
	VideoSlotPagesAggregate
)

// Page-level subtask slots.
const (
	PageSlotThumbnail = iota
	PageSlotVideoFile
	PageSlotNFO
	PageSlotDanmaku
	PageSlotSubtitles
)

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workflow: mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("workflow: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("workflow: rename %s: %w", tmp, err)
	}
	return nil
}

// fetchCover runs video subtask 0.
func fetchCover(ctx context.Context, deps Deps, v model.Video, posterPath, fanartPath string) status.ExecutionStatus {
	if deps.Config.SkipOption.NoPoster {
		return status.Skipped()
	}
	data, err := deps.Client.FetchCover(ctx, v.Bvid)
	if err != nil {
		return ToExecutionStatus(err)
	}
	if err := writeFileAtomic(posterPath, data); err != nil {
		return status.Failed(err)
	}
	if err := writeFileAtomic(fanartPath, data); err != nil {
		return status.Failed(err)
	}
	return status.Succeeded()
}

// generateVideoNFO runs video subtask 1.
func generateVideoNFO(v model.Video, nfoTimeType model.NFOTimeType, nfoPath string) status.ExecutionStatus {
	data, err := render.TVShowNFO(v, nfoTimeType)
	if err != nil {
		return status.Failed(fmt.Errorf("%w", err))
	}
	if err := writeFileAtomic(nfoPath, data); err != nil {
		return status.Failed(err)
	}
	return status.Succeeded()
}

// fetchUpperAvatar runs video subtask 2.
func fetchUpperAvatar(ctx context.Context, deps Deps, v model.Video) status.ExecutionStatus {
	dir := render.UpperAvatarDir(deps.Config.UpperPath, v.UpperID)
	avatarPath := filepath.Join(dir, "folder.jpg")
	if _, err := os.Stat(avatarPath); err == nil {
		return status.Succeeded()
	}
	data, err := deps.Client.FetchUpperAvatar(ctx, v.UpperID)
	if err != nil {
		return ToExecutionStatus(err)
	}
	if err := writeFileAtomic(avatarPath, data); err != nil {
		return status.Failed(err)
	}
	return status.Succeeded()
}

// generateUpperNFO runs video subtask 3.
func generateUpperNFO(deps Deps, v model.Video) status.ExecutionStatus {
	dir := render.UpperAvatarDir(deps.Config.UpperPath, v.UpperID)
	data, err := render.PersonNFO(v.UpperID, v.UpperName)
	if err != nil {
		return status.Failed(err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "person.nfo"), data); err != nil {
		return status.Failed(err)
	}
	return status.Succeeded()
}

// fetchThumbnail runs page subtask 0.
func fetchThumbnail(ctx context.Context, deps Deps, v model.Video, thumbPath string) status.ExecutionStatus {
	if deps.Config.SkipOption.NoPoster {
		return status.Skipped()
	}
	data, err := deps.Client.FetchCover(ctx, v.Bvid)
	if err != nil {
		return ToExecutionStatus(err)
	}
	if err := writeFileAtomic(thumbPath, data); err != nil {
		return status.Failed(err)
	}
	return status.Succeeded()
}

// fetchVideoFile runs page subtask 1: the CDN-sorted, retried video-file
// download. Candidate URLs are tried in order; on cdn_sorting the caller is
// expected to have already ordered urls by latency probe.
func fetchVideoFile(ctx context.Context, httpClient *http.Client, urls []string, destPath string) status.ExecutionStatus {
	if len(urls) == 0 {
		return status.Failed(fmt.Errorf("workflow: no candidate urls"))
	}
	var lastErr error
	for _, url := range urls {
		if err := downloadToFile(ctx, httpClient, url, destPath); err != nil {
			lastErr = err
			continue
		}
		return status.Succeeded()
	}
	return status.Failed(fmt.Errorf("workflow: all %d candidate urls failed: %w", len(urls), lastErr))
}

func downloadToFile(ctx context.Context, httpClient *http.Client, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("workflow: build request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("workflow: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("workflow: fetch %s: status %d", url, resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("workflow: mkdir: %w", err)
	}
	tmp := destPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("workflow: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("workflow: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("workflow: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return fmt.Errorf("workflow: rename %s: %w", tmp, err)
	}
	return nil
}

// generatePageNFO runs page subtask 2.
func generatePageNFO(v model.Video, p model.Page, nfoTimeType model.NFOTimeType, nfoPath string) status.ExecutionStatus {
	data, err := render.EpisodeNFO(v, p, nfoTimeType)
	if err != nil {
		return status.Failed(err)
	}
	if err := writeFileAtomic(nfoPath, data); err != nil {
		return status.Failed(err)
	}
	return status.Succeeded()
}

// fetchDanmaku runs page subtask 3.
func fetchDanmaku(ctx context.Context, deps Deps, cred model.Credential, cid, assPath string, pageDuration time.Duration) status.ExecutionStatus {
	if !deps.Config.DanmakuOption.Enabled || deps.Config.SkipOption.NoDanmaku {
		return status.Skipped()
	}
	entries, err := deps.Client.FetchDanmaku(ctx, cid, cred)
	if err != nil {
		return ToExecutionStatus(err)
	}
	duration := time.Duration(deps.Config.DanmakuOption.Duration * float64(time.Second))
	data := render.ASS(entries, deps.Config.DanmakuOption.Font, deps.Config.DanmakuOption.FontSize, duration)
	if err := writeFileAtomic(assPath, data); err != nil {
		return status.Failed(err)
	}
	_ = pageDuration
	return status.Succeeded()
}

// fetchSubtitles runs page subtask 4.
func fetchSubtitles(ctx context.Context, deps Deps, cred model.Credential, cid, srtPathBase string) status.ExecutionStatus {
	if deps.Config.SkipOption.NoSubtitle {
		return status.Skipped()
	}
	subs, err := deps.Client.FetchSubtitles(ctx, cid, cred)
	if err != nil {
		return ToExecutionStatus(err)
	}
	if len(subs) == 0 {
		return status.Ignored(fmt.Errorf("workflow: no subtitle tracks"))
	}
	for _, sub := range subs {
		path := fmt.Sprintf("%s.%s.default.srt", srtPathBase, sub.Lang)
		if err := writeFileAtomic(path, render.SRT(sub)); err != nil {
			return status.Failed(err)
		}
	}
	return status.Succeeded()
}
