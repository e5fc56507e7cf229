package memory

import "time"

// Memory is the atomic persisted record: one short text annotation,
// conversation snippet, or inferred fact owned by a single user.
type Memory struct {
	ID        string
	OwnerID   int64
	Content   string
	Category  string
	Metadata  map[string]string
	Embedding []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Well-known categories. The engine treats categories as opaque tags;
// these constants only exist so callers and the analyzer agree on spelling.
const (
	CategoryAnnotation      = "annotation"
	CategorySearchQuery     = "search_query"
	CategoryLearning        = "learning_interaction"
	CategorySessionTracking = "session_tracking"
)

// PerformanceSample records one tracked store operation.
type PerformanceSample struct {
	Operation    string
	DurationMS   float64
	RowsAffected int64
	Timestamp    time.Time
}

// OperationStats aggregates samples for one operation name.
type OperationStats struct {
	Count         int
	AverageMS     float64
	MaxDurationMS float64
}

// PerformanceSummary is derived from the in-memory sample ring.
type PerformanceSummary struct {
	TotalQueries      int
	AverageDurationMS float64
	Slowest           *PerformanceSample
	Fastest           *PerformanceSample
	PerOperation      map[string]OperationStats
}

// MemoryPattern is a frequency-ranked token or category signal derived
// on demand from one owner's stored memories. Never persisted.
type MemoryPattern struct {
	Pattern   string
	Frequency int
	LastSeen  time.Time
	Examples  []string
}

// UserProfile is a derived behavioral summary for one owner: inferred
// interests and activity rhythm. Always a fresh projection, never stored.
type UserProfile struct {
	OwnerID              int64
	FavoriteSubjects     []string
	CommonThemes         []string
	ActiveTimeSlots      []string
	AnnotationFrequency  int
	AverageSessionLength float64
	PreferredTopics      []string
}

// MemoryStats summarizes one owner's stored memories plus engine-wide
// query performance.
type MemoryStats struct {
	TotalMemories  int
	CategoryCounts map[string]int
	OldestMemory   time.Time
	NewestMemory   time.Time
	Performance    PerformanceSummary
}
