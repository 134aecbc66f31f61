package core

// scheduler.go runs the retention job.
//
// On every tick the job exports departed records older than the retention
// window to the archive sink and then deletes them in one atomic batch. If
// the archive write fails nothing is deleted, so a record is never removed
// without a copy.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ArchiveSink stores export files outside the database.
type ArchiveSink interface {
	Put(ctx context.Context, key string, body io.Reader) error
}

// DefaultRetentionSchedule runs the job once a day at midnight.
const DefaultRetentionSchedule = "@daily"

// retentionJobTimeout bounds a single retention run.
const retentionJobTimeout = 5 * time.Minute

// systemIdentity is the actor recorded for scheduled operations.
var systemIdentity = Identity{UserID: "system", FullName: "retención", Role: RoleAdmin}

// RetentionConfig holds configuration for the retention scheduler.
type RetentionConfig struct {
	Schedule string // cron spec (default: @daily)
	Days     int    // records departed longer ago are archived; 0 disables
}

// RetentionScheduler periodically archives and purges old departed records.
type RetentionScheduler struct {
	svc  *Service
	sink ArchiveSink
	cfg  RetentionConfig
	cron *cron.Cron
}

// NewRetentionScheduler validates the schedule and prepares the job. It
// returns nil without error when retention is disabled.
func (s *Service) NewRetentionScheduler(sink ArchiveSink, cfg RetentionConfig) (*RetentionScheduler, error) {
	if cfg.Days <= 0 {
		return nil, nil
	}
	if sink == nil {
		return nil, fmt.Errorf("retention: archive sink is required when retention is enabled")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultRetentionSchedule
	}

	rs := &RetentionScheduler{
		svc:  s,
		sink: sink,
		cfg:  cfg,
		cron: cron.New(
			cron.WithLocation(s.loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}

	if _, err := rs.cron.AddFunc(cfg.Schedule, rs.tick); err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return rs, nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// a running job to finish.
func (rs *RetentionScheduler) Run(ctx context.Context) error {
	slog.Info("retention scheduler started",
		"schedule", rs.cfg.Schedule,
		"retention_days", rs.cfg.Days,
	)
	rs.cron.Start()

	<-ctx.Done()

	<-rs.cron.Stop().Done()
	slog.Info("retention scheduler stopped")
	return nil
}

func (rs *RetentionScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), retentionJobTimeout)
	defer cancel()

	if _, err := rs.RunOnce(ctx); err != nil {
		slog.Error("retention job failed", "error", err)
	}
}

// RunOnce archives and deletes the records that departed before the
// retention window. It returns how many records were purged.
func (rs *RetentionScheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	cutoff := rs.svc.now().AddDate(0, 0, -rs.cfg.Days)

	records, err := rs.svc.store.DepartedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list departed before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if len(records) == 0 {
		slog.Debug("retention job: nothing to purge", "cutoff", cutoff)
		return 0, nil
	}

	var buf bytes.Buffer
	if _, err := WriteExport(&buf, records, rs.svc.loc); err != nil {
		return 0, fmt.Errorf("render archive: %w", err)
	}

	key := archiveKey("retention", cutoff)
	if err := rs.sink.Put(ctx, key, &buf); err != nil {
		return 0, fmt.Errorf("archive %s: %w", key, err)
	}

	ids := make([]string, len(records))
	for i, v := range records {
		ids[i] = v.ID
	}
	n, err := rs.svc.store.DeleteVehicles(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("purge archived records: %w", err)
	}

	rs.svc.LogAudit(ctx, AuditLogParams{
		Action:       ActionRetentionPurge,
		Actor:        systemIdentity,
		Subject:      key,
		RowsAffected: n,
	})
	rs.svc.publishVehicles(ctx)

	slog.Info("retention job completed",
		"archived", len(records),
		"purged", n,
		"key", key,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return n, nil
}

// ArchiveExport writes the export of [start, end] to sink instead of
// returning it to the caller. Admin only.
func (s *Service) ArchiveExport(ctx context.Context, id Identity, start, end time.Time, sink ArchiveSink) (Result, error) {
	if !id.IsAdmin() {
		return nil, ErrForbidden
	}

	var buf bytes.Buffer
	res := s.Export(ctx, id, start, end, &buf)

	ok, isSuccess := res.(Success)
	if !isSuccess || ok.Message == msgNothingExport {
		return res, nil
	}

	key := archiveKey("export", s.now())
	if err := sink.Put(ctx, key, &buf); err != nil {
		return exportFailure(err), nil
	}
	s.log(ctx).Info("export archived", "key", key, "user_id", id.UserID)
	return ok, nil
}

// archiveKey names an archive object, e.g. export/20241001T101500Z.csv.
func archiveKey(kind string, at time.Time) string {
	return fmt.Sprintf("%s/%s.csv", kind, at.UTC().Format("20060102T150405Z"))
}
