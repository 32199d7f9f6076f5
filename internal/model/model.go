// Package model defines the entities and value types shared across the
// bridge: the Things domain objects (Todo, Project, Area, Tag) and the
// internal bookkeeping types (OperationRecord, CacheEntry, ScheduleResult).
package model

import "time"

// Status is the completion state of a Todo or Project.
type Status int

const (
	StatusOpen Status = iota
	StatusCompleted
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	default:
		return "open"
	}
}

// ChecklistItem is a single line in a Todo's checklist.
type ChecklistItem struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Todo mirrors the spec's Todo entity (spec.md §3).
type Todo struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Notes            string          `json:"notes,omitempty"`
	Status           Status          `json:"status"`
	Tags             []string        `json:"tags,omitempty"`
	CreationTime     time.Time       `json:"creation_time"`
	ModificationTime time.Time       `json:"modification_time"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	ActivationDate   *time.Time      `json:"activation_date,omitempty"`
	CompletionTime   *time.Time      `json:"completion_time,omitempty"`
	CancellationTime *time.Time      `json:"cancellation_time,omitempty"`
	ReminderTime     string          `json:"reminder_time,omitempty"` // HH:MM, URL-scheme only
	ProjectID        string          `json:"project_id,omitempty"`
	AreaID           string          `json:"area_id,omitempty"`
	HeadingID        string          `json:"heading_id,omitempty"`
	Checklist        []ChecklistItem `json:"checklist,omitempty"`

	// IDIsPlaceholder is set when a write went through the URL scheme and the
	// real id could not be observed (spec.md §4.4).
	IDIsPlaceholder bool `json:"id_is_placeholder,omitempty"`
}

// Project mirrors the spec's Project entity.
type Project struct {
	Todo
	ContainsTodos []Todo `json:"contains_todos,omitempty"`
}

// Area mirrors the spec's Area entity.
type Area struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Notes           string    `json:"notes,omitempty"`
	ContainsProject []Project `json:"contains_projects,omitempty"`
	ContainsTodos   []Todo    `json:"contains_todos,omitempty"`
}

// Tag is identified by its case-sensitive name; there is no separate id for
// user-facing write operations.
type Tag struct {
	Name      string `json:"name"`
	Shortcut  string `json:"shortcut,omitempty"`
	ItemCount int    `json:"item_count,omitempty"`
}

// BuiltinList is one of the views Things exposes natively; it is not a
// container the caller creates.
type BuiltinList string

const (
	ListInbox   BuiltinList = "inbox"
	ListToday   BuiltinList = "today"
	ListUpcoming BuiltinList = "upcoming"
	ListAnytime BuiltinList = "anytime"
	ListSomeday BuiltinList = "someday"
	ListLogbook BuiltinList = "logbook"
	ListTrash   BuiltinList = "trash"
)

// DestinationKind distinguishes a built-in-list destination from a
// project/area destination.
type DestinationKind int

const (
	DestinationBuiltin DestinationKind = iota
	DestinationProject
	DestinationArea
)

// Destination is a validated write target: inbox | today | anytime | someday
// | upcoming | logbook | project:<id> | area:<id>.
type Destination struct {
	Kind  DestinationKind
	List  BuiltinList
	RefID string
}

// OperationKind names the queued write operations the Router can dispatch.
type OperationKind string

const (
	OpAddTodo         OperationKind = "add_todo"
	OpUpdateTodo      OperationKind = "update_todo"
	OpDeleteTodo      OperationKind = "delete_todo"
	OpAddProject      OperationKind = "add_project"
	OpUpdateProject   OperationKind = "update_project"
	OpMoveRecord      OperationKind = "move_record"
	OpAddTags         OperationKind = "add_tags"
	OpRemoveTags      OperationKind = "remove_tags"
)

// Priority is the Operation Queue's scheduling tier.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// OperationState is the queue-internal lifecycle state of an OperationRecord.
type OperationState string

const (
	StatePending   OperationState = "pending"
	StateRunning   OperationState = "running"
	StateSuccess   OperationState = "success"
	StateFailed    OperationState = "failed"
	StateExpired   OperationState = "expired"
	StateCanceled  OperationState = "canceled"
)

// ScheduleMethod names the strategy the Scheduler used to apply a "when".
type ScheduleMethod string

const (
	MethodURLScheme       ScheduleMethod = "url_scheme"
	MethodScriptDateObject ScheduleMethod = "script_date_object"
	MethodListMove        ScheduleMethod = "list_move"
	MethodNone            ScheduleMethod = ""
)

// ScheduleResult records which fallback strategy succeeded (spec.md §4.8).
type ScheduleResult struct {
	Succeeded       bool
	MethodUsed      ScheduleMethod
	ReliabilityTier float64
	Details         string
	// ReminderDropped is set when the requested when carried a
	// time-of-day component but had to be applied via a strategy other
	// than the URL scheme, which is the only one able to set a reminder
	// (spec.md Design Notes: "reminder-time capability gap").
	ReminderDropped bool
}

// Reliability tiers are informational labels, not measured guarantees
// (spec.md "Open Questions").
const (
	ReliabilityURLScheme        = 0.95
	ReliabilityScriptDateObject = 0.90
	ReliabilityListMove         = 0.85
)
