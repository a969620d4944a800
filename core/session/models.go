package session

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core"
)

// Participation statuses
const (
	StatusConfirmed = "confirmed"
	StatusWaiting   = "waiting"
)

// Enrollment actions
const (
	ActionEnroll   = "enroll"
	ActionWaitlist = "waitlist"
	ActionCancel   = "cancel"
)

// Session is a scheduled activity within an event, placed on the agenda via
// its AgendaItem.
type Session struct {
	ID                int         `json:"id"`
	SphereID          int         `json:"sphere_id"`
	Title             string      `json:"title"`
	Slug              string      `json:"slug"`
	Description       string      `json:"description"`
	Requirements      string      `json:"requirements"`
	PresenterName     string      `json:"presenter_name"`
	HostID            null.String `json:"host_id,omitempty"`
	ParticipantsLimit int         `json:"participants_limit"`
	MinAge            int         `json:"min_age"`
	CreatedAt         time.Time   `json:"created_at"` // UTC
	UpdatedAt         time.Time   `json:"updated_at"` // UTC
}

// AgendaItem schedules a session into a space for a [StartTime, EndTime) window.
type AgendaItem struct {
	ID               int       `json:"id"`
	SessionID        int       `json:"session_id"`
	SpaceID          int       `json:"space_id"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	SessionConfirmed bool      `json:"session_confirmed"`
}

// SessionParticipation links a user to a session; unique per (session, user).
// CreatedAt orders the waiting list.
type SessionParticipation struct {
	ID        int       `json:"id"`
	SessionID int       `json:"session_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// EnrollmentRequest is a single requested change within a batch.
type EnrollmentRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Action string `json:"action" validate:"required,oneof=enroll waitlist cancel"`
	Name   string `json:"name"`
}

// EnrollmentBatch is a set of requested changes processed atomically.
type EnrollmentBatch struct {
	Requests []EnrollmentRequest `json:"requests" validate:"required,min=1,dive"`
}

func (eb *EnrollmentBatch) Validate() error { return core.Validate.Struct(eb) }

// EnrollmentResult reports what a processed batch changed.
type EnrollmentResult struct {
	Enrolled   []string `json:"enrolled"`
	Waitlisted []string `json:"waitlisted"`
	Cancelled  []string `json:"cancelled"`
	Promoted   []string `json:"promoted"`
	Skipped    []string `json:"skipped"`
}

func (res *EnrollmentResult) HasChanges() bool {
	return len(res.Enrolled) > 0 || len(res.Waitlisted) > 0 ||
		len(res.Cancelled) > 0 || len(res.Promoted) > 0
}

// Choice is one legal enrollment action for a user.
type Choice struct {
	Action string `json:"action"`
	Label  string `json:"label"`
}

// UserChoices holds the legal enrollment actions for one user on a session.
type UserChoices struct {
	UserID   string   `json:"user_id"`
	UserName string   `json:"user_name"`
	Status   string   `json:"status,omitempty"`
	Choices  []Choice `json:"choices"`
	HelpText string   `json:"help_text,omitempty"`
}

// NewSession contains information needed to create a new Session with its
// agenda item.
type NewSession struct {
	Title             string    `json:"title" validate:"required"`
	Description       string    `json:"description"`
	Requirements      string    `json:"requirements"`
	PresenterName     string    `json:"presenter_name" validate:"required"`
	HostID            string    `json:"host_id"`
	ParticipantsLimit int       `json:"participants_limit" validate:"required,min=1"`
	MinAge            int       `json:"min_age" validate:"min=0"`
	StartTime         time.Time `json:"start_time" validate:"required"`
	EndTime           time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

func (ns *NewSession) Validate() error {
	ns.Title = core.CleanString(ns.Title)
	ns.PresenterName = core.CleanString(ns.PresenterName)
	return core.Validate.Struct(ns)
}
