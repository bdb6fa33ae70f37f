package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Kind categorizes a memory unit and governs its ranking boost.
type Kind string

const (
	KindCorrection       Kind = "CORRECTION"
	KindDecision         Kind = "DECISION"
	KindConvention       Kind = "CONVENTION"
	KindBugFix           Kind = "BUG_FIX"
	KindInsight          Kind = "INSIGHT"
	KindFailedSuggestion Kind = "FAILED_SUGGESTION"
	KindProvenPattern    Kind = "PROVEN_PATTERN"
	KindDependency       Kind = "DEPENDENCY"
)

// Kinds lists every valid unit kind.
var Kinds = []Kind{
	KindCorrection, KindDecision, KindConvention, KindBugFix,
	KindInsight, KindFailedSuggestion, KindProvenPattern, KindDependency,
}

// ValidKind reports whether k is a known unit kind.
func ValidKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Unit is the atomic persisted observation.
type Unit struct {
	ID            string
	Kind          Kind
	Intent        string
	Action        string
	Reason        string
	Impact        string
	Outcome       string // "unknown" until resolved
	RelatedFiles  []string
	Tags          []string
	CreatedAt     int64 // epoch ms, set at insertion
	Timestamp     int64 // epoch ms, caller-settable
	Confidence    float64
	Importance    float64
	AccessCount   int
	LastAccessed  int64
	IsActive      bool
	SupersededBy  string
	SourceEventID int64
}

// Age returns the unit's age relative to now, based on Timestamp.
func (u *Unit) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(u.Timestamp))
}

// HasTag reports whether the unit carries the given tag.
func (u *Unit) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Relation names a directed edge type between units.
type Relation string

const (
	RelRelatedTo    Relation = "RELATED_TO"
	RelSupersededBy Relation = "SUPERSEDED_BY"
	RelReplacedBy   Relation = "REPLACED_BY"
	RelCausedBy     Relation = "CAUSED_BY"
	RelContradicts  Relation = "CONTRADICTS"
)

// Edge is a directed, weighted link between two units. The triple
// (SourceID, TargetID, Relation) is unique. Edges survive deactivation of
// either endpoint.
type Edge struct {
	SourceID  string
	TargetID  string
	Relation  Relation
	Weight    float64
	Timestamp int64
}

// Event is a row in the append-only raw-input log. Only the Processed flag
// ever changes after insertion.
type Event struct {
	ID        int64
	EventType string
	Source    string
	Content   string
	Diff      string
	File      string
	Metadata  string
	Timestamp int64
	Processed bool
}

// ScoredUnit pairs a unit with a retrieval score. For FTS results the score
// is the negated bm25 rank (higher is better); for vector results it is
// cosine similarity.
type ScoredUnit struct {
	Unit  Unit
	Score float64
}

// RelatedUnit is a unit found by graph traversal together with its hop depth.
type RelatedUnit struct {
	Unit  Unit
	Depth int
}

// Session is one conversation window recorded in daily_summaries.
type Session struct {
	ID       int64
	Day      string
	Topic    string
	Summary  string
	OpenedAt int64
	ClosedAt int64 // zero while open
}

// Job is one row in the async work queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    int64
	CreatedAt   int64
	UpdatedAt   int64
	LastError   string
}

// NowMillis returns the current wall clock in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
