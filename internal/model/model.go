// Package model holds the daemon's core data-model types (spec.md §3),
// shared between the store, scheduler, worker, supervisor, and parser. They
// are plain structs rather than ORM-tagged records: the store maps them to
// and from SQL rows explicitly so the schema stays in one place.
package model

import "time"

// MessageType enumerates the normalized kinds a wire message can be mapped
// to (spec.md §3 / §4.2).
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypePhoto    MessageType = "photo"
	MessageTypeDocument MessageType = "document"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeVoice    MessageType = "voice"
	MessageTypePoll     MessageType = "poll"
	MessageTypeContact  MessageType = "contact"
	MessageTypeLocation MessageType = "location"
	MessageTypeWebpage  MessageType = "webpage"
	MessageTypeService  MessageType = "service"
	MessageTypeUnknown  MessageType = "unknown"
)

// Message is one row of messages_cache, keyed by (ChatID, MessageID).
type Message struct {
	ChatID        int64
	MessageID     int64
	FromID        *int64
	ReplyToID     *int64
	ForwardFromID *int64
	Text          string
	MessageType   MessageType
	HasMedia      bool
	IsOutgoing    bool
	IsEdited      bool
	IsPinned      bool
	IsDeleted     bool
	EditDate      *time.Time
	Date          time.Time
	FetchedAt     time.Time
	RawJSON       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChatType enumerates the three-ish chat kinds the sync policy (spec.md
// §4.4) branches on.
type ChatType string

const (
	ChatTypePrivate    ChatType = "private"
	ChatTypeGroup      ChatType = "group"
	ChatTypeSupergroup ChatType = "supergroup"
	ChatTypeChannel    ChatType = "channel"
)

// SyncPriority is the urgency scale shared by chats and jobs: lower integer
// value means more urgent, matching spec.md §3/§4.4 ("lowest priority
// integer" = "highest urgency").
type SyncPriority int

const (
	PriorityRealtime   SyncPriority = 0
	PriorityHigh       SyncPriority = 1
	PriorityMedium     SyncPriority = 2
	PriorityLow        SyncPriority = 3
	PriorityBackground SyncPriority = 4
)

// ChatSyncState is one row of chat_sync_state, unique on ChatID.
type ChatSyncState struct {
	ChatID            int64
	ChatType          ChatType
	MemberCount       *int
	ForwardCursor     *int64
	BackwardCursor    *int64
	SyncPriority      SyncPriority
	SyncEnabled       bool
	HistoryComplete   bool
	SyncedMessages    int64
	LastForwardSync   *time.Time
	LastBackwardSync  *time.Time
}

// JobType enumerates the sync-job kinds (spec.md §3/§4.5).
type JobType string

const (
	JobForwardCatchup  JobType = "ForwardCatchup"
	JobBackwardHistory JobType = "BackwardHistory"
	JobInitialLoad     JobType = "InitialLoad"
	JobFullSync        JobType = "FullSync"
)

// JobStatus enumerates the sync-job state machine (spec.md §4.3).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// SyncJob is one row of sync_jobs.
type SyncJob struct {
	ID              int64
	ChatID          int64
	JobType         JobType
	Priority        SyncPriority
	Status          JobStatus
	CursorStart     *int64
	CursorEnd       *int64
	MessagesFetched int64
	ErrorMessage    *string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// RateLimitWindow is one row of rate_limits, keyed by (Method, WindowStart).
type RateLimitWindow struct {
	Method         string
	WindowStart    time.Time
	CallCount      int
	LastCallAt     time.Time
	FloodWaitUntil *time.Time
}

// ActivityEntry is one append-only row of api_activity (spec.md §4.1
// logActivity).
type ActivityEntry struct {
	ID            int64
	Timestamp     time.Time
	Method        string
	Success       bool
	ErrorCode     *string
	ResponseMs    *int64
	Context       string
	CorrelationID string
}

// Account is a persisted, already-authenticated Telegram account (data.db).
type Account struct {
	ID       string `gorm:"primaryKey"`
	Phone    string
	UserID   int64
	Name     string
	Username string
	Label    string
	IsActive bool
}

// TableName pins the gorm table name regardless of pluralization rules.
func (Account) TableName() string { return "accounts" }

// User is one row of users_cache.
type User struct {
	UserID      int64
	AccessHash  int64
	Username    string
	Phone       string
	FirstName   string
	LastName    string
	IsBot       bool
	UpdatedAt   time.Time
}

// Chat is one row of chats_cache (distinct from ChatSyncState: this is
// identity/metadata, ChatSyncState is sync progress).
type Chat struct {
	ChatID      int64
	AccessHash  int64
	ChatType    ChatType
	Title       string
	Username    string
	UpdatedAt   time.Time
}

// DaemonStatus is the key/value table published by the daemon and read by
// the external status CLI (spec.md §3/§6).
type DaemonStatus map[string]string

const (
	StatusKeyPID               = "daemon_pid"
	StatusKeyStartedAt         = "daemon_started_at"
	StatusKeyDaemonStatus      = "daemon_status"
	StatusKeyConnectedAccounts = "connected_accounts"
	StatusKeyTotalAccounts     = "total_accounts"
	StatusKeyLastUpdate        = "last_update"
	StatusKeyMessagesSynced    = "messages_synced"
	StatusKeyPendingJobs       = "pending_jobs"
	StatusKeyRunningJobs       = "running_jobs"
)

const (
	DaemonStatusRunning = "running"
	DaemonStatusStopped = "stopped"
)
