package domain

// Status categories shared by every issue type.
const (
	CategoryOpen = "open"
	CategoryWIP  = "wip"
	CategoryDone = "done"
)

const (
	MinPriority     = 0
	MaxPriority     = 4
	DefaultPriority = 2
)

// DependencyBlocks is the only edge type the graph treats as blocking.
const DependencyBlocks = "blocks"

type Issue struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status"`
	StatusCategory string         `json:"status_category" enum:"open,wip,done"`
	Priority       int            `json:"priority" minimum:"0" maximum:"4"`
	Assignee       string         `json:"assignee,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
	ParentID       *string        `json:"parent_id,omitempty"`
	Labels         []string       `json:"labels,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
	ClosedAt       *string        `json:"closed_at,omitempty" format:"date-time"`
}

// IsClaimed reports whether someone holds the issue.
func (i Issue) IsClaimed() bool { return i.Assignee != "" }

type Dependency struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	IssueID  string `json:"issue_id"`
	Actor    string `json:"actor"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	Payload  string `json:"payload_json,omitempty"`
}

// Event types written to the audit log.
const (
	EventCreated           = "created"
	EventStatusChanged     = "status_changed"
	EventTitleChanged      = "title_changed"
	EventDescriptionChange = "description_changed"
	EventPriorityChanged   = "priority_changed"
	EventAssigneeChanged   = "assignee_changed"
	EventParentChanged     = "parent_changed"
	EventFieldsChanged     = "fields_changed"
	EventTransitionWarning = "transition_warning"
	EventClosed            = "closed"
	EventReopened          = "reopened"
	EventClaimed           = "claimed"
	EventReleased          = "released"
	EventDependencyAdded   = "dependency_added"
	EventDependencyRemoved = "dependency_removed"
	EventLabelAdded        = "label_added"
)
