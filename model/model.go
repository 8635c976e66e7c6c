// Package model defines the persisted entities shared across the archive
// synchronizer: video sources, videos, pages, and the configuration values
// that shape how they are filtered, named, and delivered.
package model

import (
	"time"

	"github.com/JeromeFenwick/bili-sync/status"
)

// SourceKind tags which of the four variants a VideoSource is.
type SourceKind int

const (
	Collection SourceKind = iota
	Favorite
	Submission
	WatchLater
)

func (k SourceKind) String() string {
	switch k {
	case Collection:
		return "collection"
	case Favorite:
		return "favorite"
	case Submission:
		return "submission"
	case WatchLater:
		return "watch_later"
	default:
		return "unknown"
	}
}

// VideoSource is the persisted row behind one enumerable remote source.
// The Kind-specific identifier fields the remote client reads for a given
// Kind are: Fid for Favorite, Fid (season id) plus Mid for Collection, Mid
// for Submission, nothing extra for WatchLater (it is implicitly scoped to
// the owning account's credential). Sid is persisted but not read by the
// remote client.
type VideoSource struct {
	ID            int64
	Kind          SourceKind
	Enabled       bool
	Path          string
	LatestRowAt   time.Time
	Rule          *Rule
	UseDynamicAPI bool

	Fid string // Collection, Favorite
	Sid string // persisted only; no request uses it
	Mid string // Submission, and the upper_id carried by Collection
}

// Rule is a declarative filter tree evaluated against a candidate Video's
// metadata at insertion time. The concrete predicate language is left open;
// only the entry point the workflow needs is specified.
type Rule struct {
	Expr string
}

// Matches reports whether v passes the rule. A nil Rule always matches.
func (r *Rule) Matches(v *Video) bool {
	if r == nil {
		return true
	}
	return evalRule(r.Expr, v)
}

// Video is one row per remote video ever observed.
type Video struct {
	ID         int64
	Bvid       string
	Name       string
	UpperID    string
	UpperName  string
	Pubtime    time.Time
	Favtime    time.Time
	CreatedAt  time.Time
	SourceID   int64
	SourceKind SourceKind

	Path            string
	SinglePage      *bool
	ShouldDownload  bool
	IsPaidVideo     bool
	Valid           bool
	DownloadStatus  status.Word
}

// Page is one row per playable segment of a Video.
type Page struct {
	ID             int64
	VideoID        int64
	Pid            int
	Cid            string
	Name           string
	Duration       time.Duration
	Width          *int
	Height         *int
	Path           string
	DownloadStatus status.Word
}

// NFOTimeType selects which timestamp NFO generation uses.
type NFOTimeType int

const (
	NFOTimeFav NFOTimeType = iota
	NFOTimePub
)

// Credential carries the five opaque session strings the remote client
// signs requests with.
type Credential struct {
	SessData     string
	BiliJCT      string
	Buvid3       string
	DedeUserID   string
	ACTimeValue  string
}

// Complete reports whether every field is populated.
func (c Credential) Complete() bool {
	return c.SessData != "" && c.BiliJCT != "" && c.Buvid3 != "" && c.DedeUserID != "" && c.ACTimeValue != ""
}

// FilterOption lists uploaders/keywords to exclude. Scan does not read it;
// should_download at insertion time comes from the source's Rule alone.
type FilterOption struct {
	ExcludeUpperIDs []string
	ExcludeKeywords []string
}

// DanmakuOption controls danmaku fetch/render behavior.
type DanmakuOption struct {
	Enabled  bool
	Duration float64 // seconds scrolling danmaku stays on screen
	Font     string
	FontSize int
}

// SkipOption disables individual artifact kinds regardless of subtask
// outcome; a skipped subtask still advances its slot to Terminal. The
// subtasks read NoPoster, NoSubtitle and NoDanmaku; NoFanart and NoNFO are
// not read, so fanart and NFO files are written regardless.
type SkipOption struct {
	NoPoster   bool
	NoFanart   bool
	NoNFO      bool
	NoSubtitle bool
	NoDanmaku  bool
}

// ConcurrentLimit bounds the two layers of parallelism in the download
// workflow.
type ConcurrentLimit struct {
	Video int
	Page  int
}

// TriggerKind tags which Interval variant a Trigger holds.
type TriggerKind int

const (
	TriggerInterval TriggerKind = iota
	TriggerCron
)

// Trigger is the tagged union driving the download cycle's schedule:
// either a fixed interval in seconds or a six-field cron expression.
type Trigger struct {
	Kind    TriggerKind
	Seconds uint64
	Cron    string
}

// NotifierKind tags a Notifier's delivery channel.
type NotifierKind int

const (
	NotifierTelegram NotifierKind = iota
	NotifierWebhook
)

// Notifier is one configured outbound channel.
type Notifier struct {
	Kind NotifierKind

	// Telegram
	BotToken string
	ChatID   string

	// Webhook
	URL      string
	Template string // empty means use the default payload shape
}

// Config is the full set of hot-reloadable settings from the versioned
// configuration snapshot.
type Config struct {
	Credential     Credential
	FilterOption   FilterOption
	DanmakuOption  DanmakuOption
	SkipOption     SkipOption
	VideoName      string
	PageName       string
	FavoriteDefaultPath   string
	CollectionDefaultPath string
	SubmissionDefaultPath string
	Interval       Trigger
	UpperPath      string
	NFOTimeType    NFOTimeType
	ConcurrentLimit ConcurrentLimit
	TimeFormat     string
	CDNSorting     bool
	EnableCoverBackground bool

	Notifiers                    []Notifier
	NotifyNewVideos              bool
	NotifyDailySummary           bool
	DailySummaryCron             string
	NotificationInterval         uint64
	EnableNotificationQuietHours bool
	QuietHoursStart              uint8
	QuietHoursEnd                uint8

	Version uint64
}

// TaskStatus is the scheduler's live-status snapshot, republished on every
// cycle transition and every job rebuild.
type TaskStatus struct {
	IsRunning bool
	LastRun   time.Time
	NextRun   time.Time
}
