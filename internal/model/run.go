package model

import (
	"database/sql"
	"time"
)

// Run types recorded in the runs table.
const (
	RunTypeOfficial  = "official"
	RunTypeTest      = "test"
	RunTypeBenchmark = "benchmark"
	RunTypeManual    = "manual"
)

// Run represents one tracked extraction run.
type Run struct {
	ID              int64
	RunType         string
	StartedAt       time.Time
	CompletedAt     sql.NullTime
	Success         bool
	BulletinDate    sql.NullString
	SourceURL       sql.NullString
	Data            *Bulletin
	ErrorMessage    sql.NullString
	CategoriesCount sql.NullInt64
	CreatedAt       time.Time
}

// Comparison represents a stored diff between two runs.
type Comparison struct {
	ID            int64
	RunID         int64
	PreviousRunID int64
	ComparedAt    time.Time
	HasChanges    bool
	Diff          *ComparisonResult
	CreatedAt     time.Time
}

// Subscription represents one subscriber's category selections.
type Subscription struct {
	ID               int64
	Email            string
	Categories       []string
	UnsubscribeToken string
	IsActive         bool
	SubscribedAt     time.Time
	UpdatedAt        sql.NullTime
	IPAddress        sql.NullString
	UserAgent        sql.NullString
}
