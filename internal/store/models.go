package store

import "time"

type Project struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	OwnerName   string
	Status      string
	IsPublic    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Document struct {
	ID          string
	ProjectID   string
	Name        string
	FileKind    string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Version is one immutable, numbered snapshot of a document's content.
// VersionNumber is unique per document and never reused; FileSize is
// recorded from the uploaded content length at creation and never
// recomputed.
type Version struct {
	ID             string
	DocumentID     string
	VersionNumber  int
	ObjectKey      string
	FileSize       int64
	ChangeSummary  string
	ExtractedText  *string
	UploadedBy     string
	UploadedByName string
	CreatedAt      time.Time
}

// PullRequest references versions by their number within the owning
// document, so source and target can only ever name versions of that
// document. TargetVersion nil means comparison is skipped entirely.
type PullRequest struct {
	ID            string
	ProjectID     string
	DocumentID    string
	Title         string
	Description   string
	SourceVersion int
	TargetVersion *int
	Status        string
	CreatedBy     string
	CreatedByName string
	ReviewerIDs   []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	MergedAt      *time.Time
	MergedBy      *string
}

type Review struct {
	ID            string
	PullRequestID string
	ReviewerID    string
	ReviewerName  string
	Decision      string
	Comment       string
	CreatedAt     time.Time
}

// Activity is one audit event emitted in the same transaction as the
// state change it records.
type Activity struct {
	ID         int64
	ActorID    string
	ActorName  string
	Action     string
	TargetType string
	TargetID   string
	TargetName string
	ProjectID  string
	CreatedAt  time.Time
}
