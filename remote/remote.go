// Package remote is the out-of-scope remote-platform collaborator: video
// source enumeration, video/page detail resolution, download URL
// resolution, danmaku/subtitle fetch, cover/avatar fetch, and credential
// refresh. Only the interface the core needs is specified; HTTPClient is
// one concrete implementation.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/JeromeFenwick/bili-sync/model"
)

// SourceItem is one remote entry enumerated from a VideoSource, before it
// has been upserted into a model.Video row.
type SourceItem struct {
	Bvid      string
	Name      string
	UpperID   string
	UpperName string
	Pubtime   time.Time
	Favtime   time.Time
}

// VideoDetail is the remote video detail payload: whether the video spans
// multiple pages, and the resolved page list.
type VideoDetail struct {
	SinglePage bool
	IsPaid     bool
	Pages      []PageDetail
}

// PageDetail is one entry in a VideoDetail's page list.
type PageDetail struct {
	Pid      int
	Cid      string
	Name     string
	Duration time.Duration
	Width    *int
	Height   *int
}

// Subtitle is one official subtitle track, pre-fetched in its native JSON
// cue format; Client.FetchSubtitles returns these and render.SRT converts
// them.
type Subtitle struct {
	Lang string
	Cues []SubtitleCue
}

// SubtitleCue is one timed line of a Subtitle track.
type SubtitleCue struct {
	From    time.Duration
	To      time.Duration
	Content string
}

// DanmakuEntry is one scrolling-comment record; render.ASS converts a
// slice of these into an ASS subtitle track.
type DanmakuEntry struct {
	Timestamp time.Duration
	Mode      int // scroll/top/bottom per the platform's danmaku protocol
	FontSize  int
	Color     uint32
	Content   string
}

// Client is the interface the download workflow and source adapters call
// into. All methods are context-aware; callers are expected to apply their
// own timeouts.
type Client interface {
	// EnumerateSource lists items from src's remote feed, newest first,
	// stopping early is the caller's responsibility (source.Scan decides
	// when to stop based on the watermark).
	EnumerateSource(ctx context.Context, src model.VideoSource, cred model.Credential) ([]SourceItem, error)

	// FetchVideoDetail resolves a bvid's page list and single/multi-page
	// flag.
	FetchVideoDetail(ctx context.Context, bvid string, cred model.Credential) (VideoDetail, error)

	// FetchDownloadURLs returns a quality-sorted list of candidate URLs
	// for one page's video file.
	FetchDownloadURLs(ctx context.Context, cid string, cred model.Credential) ([]string, error)

	FetchDanmaku(ctx context.Context, cid string, cred model.Credential) ([]DanmakuEntry, error)
	FetchSubtitles(ctx context.Context, cid string, cred model.Credential) ([]Subtitle, error)

	FetchCover(ctx context.Context, bvid string) ([]byte, error)
	FetchUpperAvatar(ctx context.Context, upperID string) ([]byte, error)

	// RefreshCredential asks the remote platform to mint a fresher
	// credential from the current one. refreshed is false when the
	// current credential is still valid and nothing changed.
	RefreshCredential(ctx context.Context, cred model.Credential) (next model.Credential, refreshed bool, err error)
}

// ErrRiskControl signals the remote platform's anti-abuse throttle; a
// cycle aborts entirely on this error without advancing any watermark.
var ErrRiskControl = errors.New("remote: risk control triggered")

// ErrNotFound is classified Ignored at the subtask layer: terminal, no
// retry.
var ErrNotFound = errors.New("remote: not found")

// ErrGone is classified Ignored: the remote item was observed once but has
// since been removed.
var ErrGone = errors.New("remote: gone")
