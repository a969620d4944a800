package proposal

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core"
)

// Proposal statuses
const (
	StatusCreated  = "created"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Category is a call-for-proposals track within an event, bounding the
// participant limits a proposal may ask for.
type Category struct {
	ID                   int       `json:"id"`
	EventID              int       `json:"event_id"`
	Name                 string    `json:"name"`
	Slug                 string    `json:"slug"`
	StartTime            null.Time `json:"start_time"`
	EndTime              null.Time `json:"end_time"`
	MinParticipantsLimit int       `json:"min_participants_limit"`
	MaxParticipantsLimit int       `json:"max_participants_limit"`
}

// Open reports whether the category accepts proposals at the given time.
// Categories without their own window defer to the event's proposal window.
func (c *Category) Open(now time.Time) bool {
	if !c.StartTime.Valid || !c.EndTime.Valid {
		return true
	}
	return !now.Before(c.StartTime.Time) && now.Before(c.EndTime.Time)
}

type Proposal struct {
	ID                int       `json:"id"`
	CategoryID        int       `json:"category_id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Requirements      string    `json:"requirements"`
	Needs             string    `json:"needs"`
	HostID            string    `json:"host_id"`
	PresenterName     string    `json:"presenter_name"`
	ParticipantsLimit int       `json:"participants_limit"`
	MinAge            int       `json:"min_age"`
	Status            string    `json:"status"`
	SessionID         null.Int  `json:"session_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"` // UTC
}

// NewCategory contains information needed to create a proposal category.
type NewCategory struct {
	Name                 string    `json:"name" validate:"required"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	MinParticipantsLimit int       `json:"min_participants_limit" validate:"required,min=1"`
	MaxParticipantsLimit int       `json:"max_participants_limit" validate:"required,gtefield=MinParticipantsLimit"`
}

func (nc *NewCategory) Validate() error {
	nc.Name = core.CleanString(nc.Name)
	return core.Validate.Struct(nc)
}

// NewProposal contains information needed to submit a proposal.
type NewProposal struct {
	Title             string `json:"title" validate:"required"`
	Description       string `json:"description"`
	Requirements      string `json:"requirements"`
	Needs             string `json:"needs"`
	PresenterName     string `json:"presenter_name" validate:"required"`
	ParticipantsLimit int    `json:"participants_limit" validate:"required,min=1"`
	MinAge            int    `json:"min_age" validate:"min=0"`
}

// Validate checks the proposal against its category's participant bounds.
func (np *NewProposal) Validate(cat Category) error {
	np.Title = core.CleanString(np.Title)
	np.PresenterName = core.CleanString(np.PresenterName)
	if err := core.Validate.Struct(np); err != nil {
		return err
	}
	if np.ParticipantsLimit < cat.MinParticipantsLimit || np.ParticipantsLimit > cat.MaxParticipantsLimit {
		return core.NewValidationError(ErrParticipantsLimitOutOfBounds, core.FieldError{
			Field: "participants_limit", Error: ErrParticipantsLimitOutOfBounds.Error()})
	}
	return nil
}
