// Package task owns the scheduler: the credential-refresh job, the
// single-flight download cycle, the daily summary job, and the
// config-reload handler that rebuilds the download and summary jobs when
// settings change.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JeromeFenwick/bili-sync/config"
	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/notify"
	"github.com/JeromeFenwick/bili-sync/remote"
	"github.com/JeromeFenwick/bili-sync/source"
	"github.com/JeromeFenwick/bili-sync/store"
	"github.com/JeromeFenwick/bili-sync/telemetry"
	"github.com/JeromeFenwick/bili-sync/workflow"
)

// Repository is the persistence surface the Task Manager needs, beyond
// what the Config Store and the workflow/source packages already own.
type Repository interface {
	source.Repository
	workflow.Repository
	ListSources(ctx context.Context) ([]model.VideoSource, error)
	ListDownloadableVideos(ctx context.Context, sourceID int64) ([]model.Video, error)
	ListVideoStatusRows(ctx context.Context) ([]store.VideoStatusRow, error)
	EnabledSourceCounts(ctx context.Context) (map[model.SourceKind]int, error)
}

// Manager owns the cron scheduler and the single-flight download cycle.
type Manager struct {
	cron       *cron.Cron
	configs    *config.Store
	client     remote.Client
	repo       Repository
	queue      *notify.Queue
	httpClient *http.Client

	disableCredentialRefresh bool

	cycleMu sync.Mutex

	statusMu sync.RWMutex
	status   model.TaskStatus

	jobMu           sync.Mutex
	downloadJobID   cron.EntryID
	summaryJobID    cron.EntryID
	credentialJobID cron.EntryID
}

// New constructs a Manager. Call Start to register jobs and launch the
// scheduler and the config-reload subscriber.
func New(configs *config.Store, client remote.Client, repo Repository, queue *notify.Queue, httpClient *http.Client, disableCredentialRefresh bool) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		cron:                     cron.New(cron.WithSeconds()),
		configs:                  configs,
		client:                   client,
		repo:                     repo,
		queue:                    queue,
		httpClient:               httpClient,
		disableCredentialRefresh: disableCredentialRefresh,
	}
}

// Start registers every job, starts the scheduler, and launches the
// config-reload subscriber goroutine. It does not block.
func (m *Manager) Start(ctx context.Context) {
	cfg := m.configs.Get()

	if !m.disableCredentialRefresh {
		id, err := m.cron.AddFunc("0 0 1 * * *", func() { m.runCredentialRefresh(ctx) })
		if err != nil {
			slog.Error("task: register credential refresh job", slog.Any("err", err))
		} else {
			m.credentialJobID = id
		}
	}

	m.jobMu.Lock()
	m.downloadJobID = m.addDownloadJob(ctx, cfg.Interval)
	if cfg.NotifyDailySummary {
		m.summaryJobID = m.addSummaryJob(ctx, cfg.DailySummaryCron)
	}
	m.jobMu.Unlock()

	m.cron.Start()
	go m.watchConfig(ctx)
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
}

// Status returns the last-published TaskStatus snapshot.
func (m *Manager) Status() model.TaskStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s model.TaskStatus) {
	m.statusMu.Lock()
	m.status = s
	m.statusMu.Unlock()
	telemetry.SetTaskRunning(s.IsRunning)
}

func (m *Manager) addDownloadJob(ctx context.Context, trigger model.Trigger) cron.EntryID {
	spec := triggerSpec(trigger)
	id, err := m.cron.AddFunc(spec, func() { m.RunDownloadCycle(ctx) })
	if err != nil {
		slog.Error("task: register download cycle job", slog.String("spec", spec), slog.Any("err", err))
	}
	return id
}

func (m *Manager) addSummaryJob(ctx context.Context, cronExpr string) cron.EntryID {
	if cronExpr == "" {
		return 0
	}
	id, err := m.cron.AddFunc(cronExpr, func() { m.runDailySummary(ctx) })
	if err != nil {
		slog.Error("task: register daily summary job", slog.String("cron", cronExpr), slog.Any("err", err))
	}
	return id
}

func triggerSpec(t model.Trigger) string {
	if t.Kind == model.TriggerCron {
		return t.Cron
	}
	return fmt.Sprintf("@every %ds", t.Seconds)
}

// watchConfig rebuilds the download and summary jobs whenever the Config
// Store installs a new snapshot.
func (m *Manager) watchConfig(ctx context.Context) {
	ch := m.configs.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			m.reloadJobs(ctx)
		}
	}
}

func (m *Manager) reloadJobs(ctx context.Context) {
	cfg := m.configs.Get()

	m.jobMu.Lock()
	defer m.jobMu.Unlock()

	m.cron.Remove(m.downloadJobID)
	m.downloadJobID = m.addDownloadJob(ctx, cfg.Interval)

	m.cron.Remove(m.summaryJobID)
	m.summaryJobID = 0
	if cfg.NotifyDailySummary {
		m.summaryJobID = m.addSummaryJob(ctx, cfg.DailySummaryCron)
	}

	m.publishNextRun()
}

func (m *Manager) publishNextRun() {
	var next time.Time
	if entry := m.cron.Entry(m.downloadJobID); entry.ID != 0 {
		next = entry.Next
	}
	m.statusMu.Lock()
	m.status.NextRun = next
	m.statusMu.Unlock()
}

func (m *Manager) notify(message string) {
	cfg := m.configs.Get()
	if len(cfg.Notifiers) == 0 {
		return
	}
	m.queue.Enqueue(notify.Message{Notifiers: cfg.Notifiers, Message: message, CreatedAt: time.Now()})
}
