package models

import "encoding/json"

// Session lifecycle states as reported by the upstream API
const (
	StateUnspecified          = "STATE_UNSPECIFIED"
	StateQueued               = "QUEUED"
	StatePlanning             = "PLANNING"
	StateAwaitingPlanApproval = "AWAITING_PLAN_APPROVAL"
	StateInProgress           = "IN_PROGRESS"
	StateCompleted            = "COMPLETED"
	StateFailed               = "FAILED"
)

// Session is a tracked remote task session. ID is the replica store's
// primary key; Name is the long-form addressable path ("sessions/<id>")
// used for upstream calls.
type Session struct {
	Name          string          `json:"name"`
	ID            string          `json:"id"`
	Prompt        string          `json:"prompt,omitempty"`
	State         string          `json:"state,omitempty"`
	CreateTime    string          `json:"createTime,omitempty"`
	UpdateTime    string          `json:"updateTime,omitempty"`
	SourceContext json.RawMessage `json:"sourceContext,omitempty"`
}

// Activity is one immutable, kind-tagged entry in a session's timeline.
// Exactly one of the kind payloads is set.
type Activity struct {
	Name       string `json:"name"`
	CreateTime string `json:"createTime,omitempty"`

	AgentMessaged    *AgentMessaged    `json:"agentMessaged,omitempty"`
	UserMessaged     *UserMessaged     `json:"userMessaged,omitempty"`
	PlanGenerated    *PlanGenerated    `json:"planGenerated,omitempty"`
	PlanApproved     *PlanApproved     `json:"planApproved,omitempty"`
	ProgressUpdated  *ProgressUpdated  `json:"progressUpdated,omitempty"`
	SessionCompleted *SessionCompleted `json:"sessionCompleted,omitempty"`
	SessionFailed    *SessionFailed    `json:"sessionFailed,omitempty"`
}

// AgentMessaged carries a message written by the remote agent.
type AgentMessaged struct {
	AgentMessage string `json:"agentMessage,omitempty"`
}

// UserMessaged carries a message the user sent into the session.
type UserMessaged struct {
	UserMessage string `json:"userMessage,omitempty"`
}

// PlanGenerated carries the steps of a generated plan.
type PlanGenerated struct {
	Plan json.RawMessage `json:"plan,omitempty"`
}

// PlanApproved marks the plan as approved.
type PlanApproved struct{}

// ProgressUpdated is a progress checkpoint emitted while the session runs.
type ProgressUpdated struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// SessionCompleted marks the terminal success state.
type SessionCompleted struct{}

// SessionFailed marks the terminal failure state.
type SessionFailed struct {
	Reason string `json:"reason,omitempty"`
}

// Source is a repository the upstream service can run sessions against.
type Source struct {
	Name       string          `json:"name"`
	ID         string          `json:"id,omitempty"`
	GitHubRepo json.RawMessage `json:"githubRepo,omitempty"`
}

// CreateSessionRequest is the payload accepted by session creation.
type CreateSessionRequest struct {
	Prompt        string          `json:"prompt"`
	SourceContext json.RawMessage `json:"sourceContext,omitempty"`
}
