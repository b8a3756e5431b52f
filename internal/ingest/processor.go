// Package ingest turns an uploaded marks CSV into persisted student records,
// exactly once per object name. The status ledger's atomic create-if-absent
// is the only coordination between concurrent attempts; everything else here
// is a straight-line pass over the parsed rows.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opengrade/marks-pipeline/internal/logging"
	"github.com/opengrade/marks-pipeline/internal/metrics"
	"github.com/opengrade/marks-pipeline/internal/store"
)

// MarksPolicy decides what a non-numeric marks cell does to a run.
type MarksPolicy string

const (
	// MarksReject fails the run on the first non-numeric marks cell.
	MarksReject MarksPolicy = "reject"
	// MarksZero coerces non-numeric marks cells to 0 and keeps going.
	MarksZero MarksPolicy = "zero"
)

// Request identifies one ingestion attempt.
type Request struct {
	ObjectName  string `json:"objectName"`
	ClassName   string `json:"className"`
	SubjectName string `json:"subjectName"`
	TeacherName string `json:"teacherName"`
}

// Status classifies the outcome of an attempt.
type Status int

const (
	// StatusProcessed: this attempt committed every row.
	StatusProcessed Status = iota
	// StatusDuplicate: a prior attempt already processed this object.
	StatusDuplicate
	// StatusInProgress: another attempt holds the processing lock.
	StatusInProgress
	// StatusFailed: this attempt failed and the ledger records it.
	StatusFailed
)

// Result is what an attempt reports back to its trigger surface.
type Result struct {
	Status Status
	Rows   int
	Err    error
}

// Processor runs the shared ingestion algorithm behind both trigger surfaces.
type Processor struct {
	objects store.ObjectStore
	records store.RecordStore
	ledger  store.Ledger
	policy  MarksPolicy
	stats   *metrics.Metrics
	now     func() time.Time
}

func NewProcessor(objects store.ObjectStore, records store.RecordStore, ledger store.Ledger, policy MarksPolicy, stats *metrics.Metrics) *Processor {
	return &Processor{
		objects: objects,
		records: records,
		ledger:  ledger,
		policy:  policy,
		stats:   stats,
		now:     time.Now,
	}
}

// Ingest processes the named object: claim the ledger row, read and parse the
// object, upsert one record per row, then finalize the ledger. Callers that
// do not observe StatusProcessed must not assume any rows were written,
// except after StatusFailed, where a prefix of the rows may already be
// committed (per-row commits are independent and are not rolled back).
func (p *Processor) Ingest(ctx context.Context, req Request) Result {
	started := p.now()
	log := logging.WithFields(ctx,
		"run_id", uuid.NewString(),
		"object", req.ObjectName,
	)

	began, err := p.ledger.TryBegin(ctx, req.ObjectName, store.BeginMeta{
		ClassName:   req.ClassName,
		SubjectName: req.SubjectName,
		TeacherName: req.TeacherName,
	})
	if err != nil {
		// The ledger row was never claimed; nothing to finalize.
		log.Error("ledger begin failed", "error", err)
		return Result{Status: StatusFailed, Err: err}
	}

	switch began {
	case store.AlreadyProcessed:
		log.Info("object already processed")
		if p.stats != nil {
			p.stats.RunDuplicate()
		}
		return Result{Status: StatusDuplicate}
	case store.AlreadyInProgress:
		log.Info("processing already in progress")
		if p.stats != nil {
			p.stats.RunDuplicate()
		}
		return Result{Status: StatusInProgress}
	}

	data, err := p.objects.Read(ctx, req.ObjectName)
	if err != nil {
		return p.fail(ctx, log, req.ObjectName, err)
	}

	rows, err := parseRows(data)
	if err != nil {
		return p.fail(ctx, log, req.ObjectName, err)
	}
	if len(rows) == 0 {
		return p.fail(ctx, log, req.ObjectName, ErrEmptyPayload)
	}

	uploadedAt := p.now()
	committed := 0
	for i, row := range rows {
		obtained, err := p.marks(row.ObtainedMarks)
		if err != nil {
			return p.fail(ctx, log, req.ObjectName, fmt.Errorf("row %d: obtainedMarks: %w", i+1, err))
		}
		total, err := p.marks(row.TotalMarks)
		if err != nil {
			return p.fail(ctx, log, req.ObjectName, fmt.Errorf("row %d: totalMarks: %w", i+1, err))
		}

		var percentage float64
		if total > 0 {
			percentage = obtained / total * 100
		}

		rec := store.StudentRecord{
			ID:            fmt.Sprintf("%s_%s_%s", req.ClassName, req.SubjectName, row.RollNo),
			ClassName:     req.ClassName,
			SubjectName:   req.SubjectName,
			TeacherName:   req.TeacherName,
			RollNo:        row.RollNo,
			Name:          row.Name,
			ObtainedMarks: obtained,
			TotalMarks:    total,
			Percentage:    percentage,
			UploadedAt:    uploadedAt,
		}
		if err := p.records.Upsert(ctx, rec); err != nil {
			// Rows committed so far stay; the failed ledger state is the
			// caller's signal that the batch is partial.
			return p.fail(ctx, log, req.ObjectName, fmt.Errorf("row %d: %w", i+1, err))
		}
		committed++
	}

	if err := p.ledger.Complete(ctx, req.ObjectName, store.ProcessedOutcome()); err != nil {
		log.Error("ledger complete failed", "error", err)
		return Result{Status: StatusFailed, Rows: committed, Err: err}
	}

	if p.stats != nil {
		p.stats.RunCompleted(committed)
	}
	log.Info("ingestion completed",
		"rows", committed,
		"duration", p.now().Sub(started),
	)
	return Result{Status: StatusProcessed, Rows: committed}
}

// marks coerces a marks cell to a number under the configured policy.
func (p *Processor) marks(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err == nil {
		return v, nil
	}
	if p.policy == MarksZero {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: non-numeric marks value %q", ErrParse, raw)
}

// fail finalizes the ledger row as failed and reports the triggering error.
// Routing every post-Began failure through here keeps the row from sticking
// at processing.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, id string, cause error) Result {
	if err := p.ledger.Complete(ctx, id, store.FailedOutcome(cause)); err != nil {
		log.Error("ledger complete failed", "error", err, "cause", cause)
	} else {
		log.Error("ingestion failed", "error", cause)
	}
	if p.stats != nil {
		p.stats.RunFailed()
	}
	return Result{Status: StatusFailed, Err: cause}
}
