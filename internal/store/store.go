// Package store defines the narrow collaborator interfaces the ingestion
// pipeline depends on: the object store holding raw uploads, the record
// store holding student marks, and the status ledger used as a distributed
// idempotency lock. Backing implementations live alongside.
//
// The core algorithms only ever see these interfaces, so they can be tested
// against the in-memory implementations in memory.go.
package store

import (
	"context"
	"errors"
	"time"
)

// Object store failure classes. Implementations wrap backend errors so the
// processor can distinguish a missing upload from a collaborator outage.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectStore    = errors.New("object store error")
)

// ObjectStore is blob-style storage addressed by object name within a single
// bucket. Read returns the full object content; partial-stream semantics are
// never needed by the pipeline.
type ObjectStore interface {
	// Read returns the complete byte content of the named object.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write stores the object under name with the given user metadata.
	Write(ctx context.Context, name string, data []byte, metadata map[string]string) error

	// Metadata returns the user metadata attached to the named object.
	// Keys are lowercase.
	Metadata(ctx context.Context, name string) (map[string]string, error)

	// EnsureBucket creates the backing bucket if it does not exist.
	// Idempotent: an already-existing bucket is success.
	EnsureBucket(ctx context.Context) error
}

// StudentRecord is one student's marks for one class/subject. Identity is
// (className, subjectName, rollNo), deliberately independent of the uploaded
// object, so a corrected re-upload converges on the same record.
type StudentRecord struct {
	ID            string    `json:"id" dynamodbav:"id"`
	ClassName     string    `json:"className" dynamodbav:"className"`
	SubjectName   string    `json:"subjectName" dynamodbav:"subjectName"`
	TeacherName   string    `json:"teacherName" dynamodbav:"teacherName"`
	RollNo        string    `json:"rollNo" dynamodbav:"rollNo"`
	Name          string    `json:"name" dynamodbav:"name"`
	ObtainedMarks float64   `json:"obtainedMarks" dynamodbav:"obtainedMarks"`
	TotalMarks    float64   `json:"totalMarks" dynamodbav:"totalMarks"`
	Percentage    float64   `json:"percentage" dynamodbav:"percentage"`
	UploadedAt    time.Time `json:"uploadedAt" dynamodbav:"uploadedAt"`
}

// RecordStore holds one row per student per class/subject.
type RecordStore interface {
	// Upsert creates or replaces the record identified by rec.ID.
	Upsert(ctx context.Context, rec StudentRecord) error
}

// Processing status lifecycle values. A row moves
// processing -> processed or processing -> failed; a failed row may be
// taken over by a fresh attempt.
const (
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// ProcessingStatus is the ledger row keyed by object name.
type ProcessingStatus struct {
	ID          string     `json:"id" dynamodbav:"id"`
	Status      string     `json:"status" dynamodbav:"status"`
	ClassName   string     `json:"className" dynamodbav:"className"`
	SubjectName string     `json:"subjectName" dynamodbav:"subjectName"`
	TeacherName string     `json:"teacherName" dynamodbav:"teacherName"`
	StartedAt   time.Time  `json:"startedAt" dynamodbav:"startedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty" dynamodbav:"processedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty" dynamodbav:"failedAt,omitempty"`
	Error       string     `json:"error,omitempty" dynamodbav:"error,omitempty"`
}

// BeginResult is the outcome of a TryBegin call.
type BeginResult int

const (
	// Began means this caller owns the attempt and must run ingestion.
	Began BeginResult = iota
	// AlreadyProcessed means a prior attempt completed successfully.
	AlreadyProcessed
	// AlreadyInProgress means another attempt holds the processing lock.
	AlreadyInProgress
)

func (r BeginResult) String() string {
	switch r {
	case Began:
		return "began"
	case AlreadyProcessed:
		return "already-processed"
	case AlreadyInProgress:
		return "already-in-progress"
	default:
		return "unknown"
	}
}

// BeginMeta carries the upload parameters recorded on the ledger row when an
// attempt begins.
type BeginMeta struct {
	ClassName   string
	SubjectName string
	TeacherName string
}

// Outcome is the terminal state written by Complete.
type Outcome struct {
	Status string // StatusProcessed or StatusFailed
	Error  string // failure detail, empty for processed
}

// ProcessedOutcome marks a run as fully committed.
func ProcessedOutcome() Outcome {
	return Outcome{Status: StatusProcessed}
}

// FailedOutcome marks a run as failed with the triggering error.
func FailedOutcome(err error) Outcome {
	o := Outcome{Status: StatusFailed}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// Ledger is the idempotency state machine keyed by object name.
//
// TryBegin is read-then-create: the read and create need not be atomic
// together, but the create itself is atomic create-if-absent, so two
// concurrent callers can never both observe Began.
type Ledger interface {
	// TryBegin attempts to claim the attempt for id. A fresh attempt may
	// take over a failed row; a processing or processed row is left alone.
	TryBegin(ctx context.Context, id string, meta BeginMeta) (BeginResult, error)

	// Complete writes the terminal status for id. Replaying Complete with
	// the same outcome is a no-op in effect.
	Complete(ctx context.Context, id string, out Outcome) error
}
