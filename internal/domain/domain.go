// Package domain holds the AS/MCS-owned persistent record shapes:
// User, BudgetEntry, Dataset, Metadata, QueryJob and Archive from
// the data model, plus the wire-level types Queriers exchange.
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AccessKind is the closed set of dataset connector kinds DCC knows
// how to materialize.
type AccessKind string

const (
	AccessPath     AccessKind = "PATH"
	AccessS3       AccessKind = "S3"
	AccessInMemory AccessKind = "IN_MEMORY"
)

// LibraryTag is the closed set of DBR-recognized backend tags.
type LibraryTag string

const (
	LibrarySQL        LibraryTag = "SQL"
	LibraryPipeline   LibraryTag = "PIPELINE"
	LibrarySynth      LibraryTag = "SYNTH"
	LibraryClassical  LibraryTag = "CLASSICAL"
)

// WireTag maps a LibraryTag to its HTTP-surface route fragment
// (smartnoise_sql, opendp, ...).
func (t LibraryTag) WireTag() string {
	switch t {
	case LibrarySQL:
		return "smartnoise_sql"
	case LibraryPipeline:
		return "opendp"
	case LibrarySynth:
		return "smartnoise_synth"
	case LibraryClassical:
		return "diffprivlib"
	default:
		return string(t)
	}
}

// JobStatus is the TB job state machine: NEW -> QUEUED -> RUNNING ->
// terminal.
type JobStatus string

const (
	JobNew          JobStatus = "NEW"
	JobQueued       JobStatus = "QUEUED"
	JobRunning      JobStatus = "RUNNING"
	JobOK           JobStatus = "OK"
	JobLibFail      JobStatus = "LIB_FAIL"
	JobInternalFail JobStatus = "INTERNAL_FAIL"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobOK, JobLibFail, JobInternalFail:
		return true
	default:
		return false
	}
}

// ArchiveStatus is the Archive.status enum.
type ArchiveStatus string

const (
	ArchiveOK           ArchiveStatus = "OK"
	ArchiveLibFail      ArchiveStatus = "LIB_FAIL"
	ArchiveInternalFail ArchiveStatus = "INTERNAL_FAIL"
	ArchiveCompensated  ArchiveStatus = "COMPENSATED"
)

// User is the AS-owned account record. MayQuery is an admin-controlled
// gate checked on every admission; per-request atomicity is provided
// by BudgetEntry's own CAS columns rather than a lock on User.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"uniqueIndex;not null"`
	MayQuery   bool      `gorm:"not null;default:true"`
	APIKeyHash string    `gorm:"column:api_key_hash"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (User) TableName() string { return "users" }

// BudgetEntry is a per-(user,dataset) privacy budget ledger row. CAS
// updates read (SpentEpsilon, SpentDelta) and issue a conditional
// UPDATE guarded by those exact values.
type BudgetEntry struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_budget_user_dataset"`
	DatasetName    string    `gorm:"not null;uniqueIndex:idx_budget_user_dataset"`
	InitialEpsilon float64   `gorm:"not null"`
	InitialDelta   float64   `gorm:"not null"`
	SpentEpsilon   float64   `gorm:"not null;default:0"`
	SpentDelta     float64   `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BudgetEntry) TableName() string { return "budget_entries" }

// Dataset is the MCS-owned catalog entry.
type Dataset struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Name            string         `gorm:"uniqueIndex;not null"`
	AccessKind      AccessKind     `gorm:"not null"`
	AccessParams    datatypes.JSON `gorm:"type:jsonb"`
	MetadataRef     string         `gorm:"not null"`
	CredentialsName string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Dataset) TableName() string { return "datasets" }

// ColumnSpec describes a single column's DP-relevant schema: either a
// numeric range or a categorical/bool category set, plus nullability.
type ColumnSpec struct {
	Type            string   `json:"type"`
	Lower           float64  `json:"lower,omitempty"`
	Upper           float64  `json:"upper,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	Nullable        bool     `json:"nullable,omitempty"`
	NullProbability float64  `json:"null_probability,omitempty"`
}

// Metadata is the MCS-owned per-dataset schema descriptor.
type Metadata struct {
	ID          uuid.UUID             `gorm:"type:uuid;primaryKey"`
	DatasetName string                `gorm:"uniqueIndex;not null"`
	MaxIDs      int                   `gorm:"not null"`
	Rows        int                   `gorm:"not null"`
	ColumnOrder []string              `gorm:"-"`
	Columns     map[string]ColumnSpec `gorm:"-"`
	ColumnsJSON datatypes.JSON        `gorm:"column:columns;type:jsonb"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Metadata) TableName() string { return "dataset_metadata" }

// QueryJobRecord is the TB-persisted job row backing the durable
// queue: at-least-once dispatch, dedup by ID, visibility-timeout
// crash detection via HeartbeatAt.
type QueryJobRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserName        string    `gorm:"not null;index"`
	DatasetName     string    `gorm:"not null;index"`
	LibraryTag      LibraryTag `gorm:"not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	RequestedEpsilon float64
	RequestedDelta   float64
	MeasuredEpsilon  float64
	MeasuredDelta    float64
	Status          JobStatus `gorm:"not null;index"`
	Result          datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage    string
	Attempts        int
	SubmitTS        time.Time `gorm:"not null"`
	LockedAt        *time.Time
	HeartbeatAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (QueryJobRecord) TableName() string { return "query_jobs" }

// Archive is the append-only outcome ledger. One row per accepted
// (non-dummy) job.
type Archive struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey"`
	JobID           uuid.UUID     `gorm:"type:uuid;uniqueIndex;not null"`
	UserName        string        `gorm:"not null;index"`
	DatasetName     string        `gorm:"not null;index"`
	LibraryTag      LibraryTag    `gorm:"not null"`
	PayloadHash     string        `gorm:"not null"`
	MeasuredEpsilon float64       `gorm:"not null"`
	MeasuredDelta   float64       `gorm:"not null"`
	Status          ArchiveStatus `gorm:"not null"`
	CreatedAt       time.Time
}

func (Archive) TableName() string { return "query_archives" }

// Cost is the (epsilon, delta) pair passed between DBR, ABE and AS.
type Cost struct {
	Epsilon float64 `json:"epsilon"`
	Delta   float64 `json:"delta"`
}

func (c Cost) ExceedsEither(other Cost) bool {
	return c.Epsilon > other.Epsilon || c.Delta > other.Delta
}

func (c Cost) Add(other Cost) Cost {
	return Cost{Epsilon: c.Epsilon + other.Epsilon, Delta: c.Delta + other.Delta}
}

func (c Cost) Sub(other Cost) Cost {
	return Cost{Epsilon: c.Epsilon - other.Epsilon, Delta: c.Delta - other.Delta}
}
