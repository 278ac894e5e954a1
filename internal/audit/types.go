package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Question events
	EventQuestionReceived EventType = "question.received"
	EventQuestionRejected EventType = "question.rejected"

	// Intent events
	EventIntentResolved EventType = "intent.resolved"
	EventIntentAborted  EventType = "intent.aborted"

	// Response events
	EventResponseAssembled EventType = "response.assembled"
	EventResponsePersisted EventType = "response.persisted"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Question information
	Role     string   `json:"role,omitempty"`
	Question string   `json:"question,omitempty"`
	Assets   []string `json:"assets,omitempty"`
	Intent   string   `json:"intent,omitempty"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]any),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithRole sets the role the question was asked as
func (e *Event) WithRole(role string) *Event {
	e.Role = role
	return e
}

// WithQuestion sets the question text and assets
func (e *Event) WithQuestion(text string, assets []string) *Event {
	e.Question = text
	e.Assets = append([]string(nil), assets...)
	return e
}

// WithIntent sets the intent the event concerns
func (e *Event) WithIntent(intent string) *Event {
	e.Intent = intent
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value any) *Event {
	e.Metadata[key] = value
	return e
}
