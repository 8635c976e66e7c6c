package config

import (
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/JeromeFenwick/bili-sync/model"
)

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Check validates a Config snapshot. Every violation is collected rather
// than short-circuiting, so operators see every offending field in one
// response.
func Check(cfg *model.Config) error {
	var errs *multierror.Error

	if !filepath.IsAbs(cfg.UpperPath) {
		errs = multierror.Append(errs, errInvalid("upper_path must be an absolute path"))
	}
	if cfg.VideoName == "" {
		errs = multierror.Append(errs, errInvalid("video_name template is not set"))
	}
	if cfg.PageName == "" {
		errs = multierror.Append(errs, errInvalid("page_name template is not set"))
	}
	if !cfg.Credential.Complete() {
		errs = multierror.Append(errs, errInvalid("credential is incomplete"))
	}
	if !(cfg.ConcurrentLimit.Video > 0 && cfg.ConcurrentLimit.Page > 0) {
		errs = multierror.Append(errs, errInvalid("concurrent_limit.video and concurrent_limit.page must both be greater than 0"))
	}

	switch cfg.Interval.Kind {
	case model.TriggerInterval:
		if cfg.Interval.Seconds <= 60 {
			errs = multierror.Append(errs, errInvalid("interval must be greater than 60 seconds"))
		}
	case model.TriggerCron:
		if _, err := cronParser.Parse(cfg.Interval.Cron); err != nil {
			errs = multierror.Append(errs, errInvalid("interval cron expression is invalid: seconds minutes hours dom month dow"))
		}
	}

	if _, err := cronParser.Parse(cfg.DailySummaryCron); err != nil {
		errs = multierror.Append(errs, errInvalid("daily_summary_cron expression is invalid: seconds minutes hours dom month dow"))
	}

	if cfg.EnableNotificationQuietHours {
		if cfg.QuietHoursStart > 23 || cfg.QuietHoursEnd > 23 {
			errs = multierror.Append(errs, errInvalid("quiet_hours_start and quiet_hours_end must be between 0 and 23"))
		}
	}

	return errs.ErrorOrNil()
}

type invalidError string

func errInvalid(msg string) error { return invalidError(msg) }

func (e invalidError) Error() string { return string(e) }
