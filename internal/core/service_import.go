package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/campa/internal/logging"
)

// Import outcomes, used in history entries and metrics labels.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// ImportSource is one uploaded CSV file.
type ImportSource struct {
	FileName string
	Size     int64 // 0 if unknown
	Body     io.Reader
}

// progressFunc applies an update to the progress of the running import.
type progressFunc func(update func(p *ImportProgress))

func noProgress(func(p *ImportProgress)) {}

// Import reads src, reconciles it against the stored records and writes the
// new records one at a time. It blocks until the run finishes.
//
// Row-level problems end up in the summary. Only an unreadable or empty file,
// a failed snapshot or a failed write make the Result a Failure.
func (s *Service) Import(ctx context.Context, id Identity, src ImportSource) (Result, ImportSummary) {
	if err := s.limiter.Acquire(ctx); err != nil {
		s.log(ctx).Warn("import rejected", "file", src.FileName, "error", err)
		return Failure{Message: FormatUserError(err)}, ImportSummary{}
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.importTimeout)
	defer cancel()

	return s.runImport(ctx, id, uuid.New().String(), src, noProgress)
}

// StartImport begins an asynchronous import of data and returns its id
// immediately. Use SubscribeImport for progress and ImportResult for the
// outcome.
//
// Returns ErrTooManyImports if no import slot frees up in time.
func (s *Service) StartImport(ctx context.Context, id Identity, fileName string, data []byte) (string, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	importID := uuid.New().String()
	importCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.importTimeout)

	imp := &activeImport{
		ID:        importID,
		FileName:  fileName,
		Cancel:    cancel,
		Done:      make(chan struct{}),
		StartedAt: s.now(),
		progress: ImportProgress{
			ImportID:   importID,
			FileName:   fileName,
			Phase:      PhaseStarting,
			BytesTotal: int64(len(data)),
		},
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer s.cleanup(importID, importRetention)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import", "import_id", importID, "panic", r)
				imp.setProgress(func(p *ImportProgress) {
					p.Phase = PhaseFailed
					p.Error = fmt.Sprintf("internal error: %v", r)
				})
				imp.finish(Failure{Message: FormatUserError(fmt.Errorf("internal error: %v", r))}, ImportSummary{})
			}
		}()

		src := ImportSource{FileName: fileName, Size: int64(len(data)), Body: bytes.NewReader(data)}
		res, summary := s.runImport(importCtx, id, importID, src, imp.setProgress)
		imp.finish(res, summary)
	}()

	return importID, nil
}

// SubscribeImport returns a channel of progress updates. The channel is
// closed when the import finishes. Slow readers miss intermediate updates.
func (s *Service) SubscribeImport(importID string) (<-chan ImportProgress, error) {
	imp, err := s.lookupImport(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	imp.mu.Lock()
	defer imp.mu.Unlock()

	// Send current progress immediately
	ch <- imp.progress

	select {
	case <-imp.Done:
		close(ch)
	default:
		imp.listeners = append(imp.listeners, ch)
	}
	return ch, nil
}

// ImportStatus returns the current progress without blocking.
func (s *Service) ImportStatus(importID string) (ImportProgress, error) {
	imp, err := s.lookupImport(importID)
	if err != nil {
		return ImportProgress{}, err
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress, nil
}

// CancelImport stops an in-progress import before its next write.
func (s *Service) CancelImport(importID string) error {
	imp, err := s.lookupImport(importID)
	if err != nil {
		return err
	}
	imp.Cancel()
	return nil
}

// ImportResult blocks until the import finishes or ctx is done.
func (s *Service) ImportResult(ctx context.Context, importID string) (Result, ImportSummary, error) {
	imp, err := s.lookupImport(importID)
	if err != nil {
		return nil, ImportSummary{}, err
	}

	select {
	case <-imp.Done:
	case <-ctx.Done():
		return Pending{}, ImportSummary{}, ctx.Err()
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result, imp.summary, nil
}

// importRun carries the bookkeeping of one run so it can be finished from
// any step.
type importRun struct {
	svc      *Service
	id       Identity
	importID string
	src      ImportSource
	fp       *fingerprintReader
	report   progressFunc
	logger   *slog.Logger
	started  time.Time
}

func (s *Service) runImport(ctx context.Context, id Identity, importID string, src ImportSource, report progressFunc) (Result, ImportSummary) {
	run := &importRun{
		svc:      s,
		id:       id,
		importID: importID,
		src:      src,
		fp:       newFingerprintReader(src.Body),
		report:   report,
		logger:   logging.WithFields(ctx, "import_id", importID, "file", src.FileName, "user_id", id.UserID),
		started:  s.now(),
	}

	if id.UserID == "" {
		return run.finish(ctx, OutcomeFailure, Failure{Message: msgNoIdentity}, ImportSummary{})
	}

	run.logger.Info("import started", "bytes", src.Size)

	reader, counter := WrapForImport(run.fp, src.Size)
	report(func(p *ImportProgress) {
		p.Phase = PhaseReading
		p.BytesTotal = src.Size
	})

	lines, err := ReadLines(reader)
	report(func(p *ImportProgress) { p.BytesRead = counter.BytesRead })
	if err != nil {
		return run.finish(ctx, OutcomeFailure, readFailure(err), ImportSummary{})
	}
	if len(lines) == 0 {
		return run.finish(ctx, OutcomeFailure, Failure{Message: msgEmptyCSV}, ImportSummary{})
	}
	delim := DetectDelimiter(lines[0])

	report(func(p *ImportProgress) { p.Phase = PhaseReconciling })

	existing, err := s.store.AllVehicles(ctx)
	if err != nil {
		return run.finish(ctx, OutcomeFailure, snapshotFailure(err), ImportSummary{})
	}

	creates, summary := ReconcilePlan(existing, lines[1:], delim, ReconcileOptions{
		Importer: id,
		Location: s.loc,
		Now:      s.now,
		NewID:    s.store.NewID,
	})

	run.logger.Debug("import reconciled",
		"lines", len(lines)-1,
		"to_create", len(creates),
		"skipped", summary.Skipped,
		"errored", summary.Errored,
	)

	report(func(p *ImportProgress) {
		p.Phase = PhaseWriting
		p.ToWrite = len(creates)
	})

	written := 0
	for _, c := range creates {
		v := c.Record
		if ctx.Err() != nil {
			summary.Created = written
			return run.finish(ctx, OutcomeCancelled, cancelledFailure(written, len(creates)), summary)
		}
		if _, err := s.store.CreateVehicle(ctx, v); err != nil {
			if ctx.Err() != nil {
				summary.Created = written
				return run.finish(ctx, OutcomeCancelled, cancelledFailure(written, len(creates)), summary)
			}
			// A reused id or an active plate rejects this row only.
			if errors.Is(err, ErrConflict) {
				run.logger.Warn("import row rejected", "plate", v.Plate, "id", v.ID, "error", err)
				summary.addError(c.Line)
				continue
			}
			summary.Created = written
			run.logger.Error("import write failed", "plate", v.Plate, "written", written, "error", err)
			return run.finish(ctx, OutcomeFailure, writeFailure(written, len(creates), err), summary)
		}
		written++
		report(func(p *ImportProgress) { p.Written = written })
	}
	summary.Created = written

	return run.finish(ctx, OutcomeSuccess, Success{Message: summary.Message(), Tag: TagImport}, summary)
}

// finish records metrics, history and audit for the run and publishes the
// change when anything was written.
func (run *importRun) finish(ctx context.Context, outcome string, res Result, summary ImportSummary) (Result, ImportSummary) {
	s := run.svc
	elapsed := s.now().Sub(run.started)
	bg := context.WithoutCancel(ctx)

	var message string
	switch r := res.(type) {
	case Success:
		message = r.Message
	case Failure:
		message = r.Message
	}

	run.report(func(p *ImportProgress) {
		switch outcome {
		case OutcomeSuccess:
			p.Phase = PhaseComplete
		case OutcomeCancelled:
			p.Phase = PhaseCancelled
			p.Error = message
		default:
			p.Phase = PhaseFailed
			p.Error = message
		}
	})

	s.metrics.ObserveImport(outcome, summary.Created, summary.Skipped, summary.Errored, elapsed)

	s.recordHistory(bg, ImportHistoryEntry{
		ID:          run.importID,
		FileName:    run.src.FileName,
		Fingerprint: run.fp.Sum(),
		UserID:      run.id.UserID,
		Created:     summary.Created,
		Skipped:     summary.Skipped,
		Errored:     summary.Errored,
		Outcome:     outcome,
		Message:     message,
		StartedAt:   run.started.UTC(),
		Duration:    elapsed.Milliseconds(),
	})

	if summary.Created > 0 {
		s.LogAudit(bg, AuditLogParams{
			Action:       ActionImport,
			Actor:        run.id,
			Subject:      run.src.FileName,
			RowsAffected: summary.Created,
			Reason:       outcome,
		})
		s.publishVehicles(bg)
	}

	run.logger.Info("import finished",
		"outcome", outcome,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, summary
}
