// Package source implements the Video Source Adapter: the tagged-variant
// capability set (enumerate, path, display name, directory creation,
// watermark advance) shared by the four source kinds. Dispatch is an
// explicit switch over model.SourceKind, not a hidden interface vtable.
package source

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/JeromeFenwick/bili-sync/model"
)

// Path returns s's target base directory, falling back to the
// kind-specific default path from cfg when s.Path is empty.
func Path(s model.VideoSource, defaults model.Config) string {
	if s.Path != "" {
		return s.Path
	}
	switch s.Kind {
	case model.Collection:
		return defaults.CollectionDefaultPath
	case model.Favorite:
		return defaults.FavoriteDefaultPath
	case model.Submission:
		return defaults.SubmissionDefaultPath
	case model.WatchLater:
		return defaults.FavoriteDefaultPath
	default:
		return defaults.FavoriteDefaultPath
	}
}

// DisplayName returns a human-readable label for logs and notifications.
func DisplayName(s model.VideoSource) string {
	switch s.Kind {
	case model.Collection:
		return fmt.Sprintf("collection %s (up %s)", s.Fid, s.Mid)
	case model.Favorite:
		return fmt.Sprintf("favorite %s", s.Fid)
	case model.Submission:
		return fmt.Sprintf("submission feed of up %s", s.Mid)
	case model.WatchLater:
		return "watch later"
	default:
		return "unknown source"
	}
}

// CreateDirAll ensures s's target directory exists on disk.
func CreateDirAll(s model.VideoSource, defaults model.Config) error {
	dir := Path(s, defaults)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("source: create directory %s: %w", dir, err)
	}
	return nil
}

// IsDynamicAPI reports whether s must be paginated through the dynamic
// (incremental) submission API rather than the static archive listing.
// Only Submission sources carry this distinction; every other kind is
// always "static".
func IsDynamicAPI(s model.VideoSource) bool {
	return s.Kind == model.Submission && s.UseDynamicAPI
}

// ResolveVideoDir joins a source's base path with a rendered video
// directory name, guarding against path traversal from a hostile
// rendered template.
func ResolveVideoDir(s model.VideoSource, defaults model.Config, renderedName string) string {
	return filepath.Join(Path(s, defaults), filepath.Base(renderedName))
}
