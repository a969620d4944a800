package event

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core"
)

// Event statuses, derived from the event's time windows.
const (
	StatusDraft          = "draft"
	StatusReady          = "ready"
	StatusProposal       = "proposal"
	StatusAgendaProposal = "agenda_proposal"
	StatusAgenda         = "agenda"
	StatusOngoing        = "ongoing"
	StatusPast           = "past"
)

// Sphere is the tenant boundary; one per site domain.
type Sphere struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	IsOpen    bool      `json:"is_open"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

type Event struct {
	ID                int       `json:"id"`
	SphereID          int       `json:"sphere_id"`
	Name              string    `json:"name"`
	Slug              string    `json:"slug"`
	Description       string    `json:"description"`
	StartTime         null.Time `json:"start_time"`
	EndTime           null.Time `json:"end_time"`
	ProposalStartTime null.Time `json:"proposal_start_time"`
	ProposalEndTime   null.Time `json:"proposal_end_time"`
	PublicationTime   null.Time `json:"publication_time"`
	CreatedAt         time.Time `json:"created_at"` // UTC
	UpdatedAt         time.Time `json:"updated_at"` // UTC
}

// Status derives the event's lifecycle status at the given time.
// An event with any of its five time fields unset stays a draft.
func (e *Event) Status(now time.Time) string {
	if !(e.StartTime.Valid && e.EndTime.Valid && e.ProposalStartTime.Valid &&
		e.ProposalEndTime.Valid && e.PublicationTime.Valid) {
		return StatusDraft
	}
	ladder := []struct {
		until  time.Time
		status string
	}{
		{e.ProposalStartTime.Time, StatusReady},
		{e.PublicationTime.Time, StatusProposal},
		{e.ProposalEndTime.Time, StatusAgendaProposal},
		{e.StartTime.Time, StatusAgenda},
		{e.EndTime.Time, StatusOngoing},
	}
	for _, step := range ladder {
		if now.Before(step.until) {
			return step.status
		}
	}
	return StatusPast
}

// ProposalsOpen reports whether the call for proposals is open at the given time.
func (e *Event) ProposalsOpen(now time.Time) bool {
	return e.ProposalStartTime.Valid && e.ProposalEndTime.Valid &&
		!now.Before(e.ProposalStartTime.Time) && now.Before(e.ProposalEndTime.Time)
}

// Space is a named room within an event.
type Space struct {
	ID        int       `json:"id"`
	EventID   int       `json:"event_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// TimeSlot is a half-open [StartTime, EndTime) window within an event.
// Slots of the same event must not overlap; touching endpoints are allowed.
type TimeSlot struct {
	ID        int       `json:"id"`
	EventID   int       `json:"event_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// ConflictsWith reports whether two slots of the same event overlap.
func (ts *TimeSlot) ConflictsWith(other TimeSlot) bool {
	return core.Overlaps(ts.StartTime, ts.EndTime, other.StartTime, other.EndTime)
}

// EnrollmentConfig is an enrollment policy window for an event.
type EnrollmentConfig struct {
	ID                        int       `json:"id"`
	EventID                   int       `json:"event_id"`
	StartTime                 time.Time `json:"start_time"`
	EndTime                   time.Time `json:"end_time"`
	PercentageSlots           int       `json:"percentage_slots"`
	LimitToEndTime            bool      `json:"limit_to_end_time"`
	MaxWaitlistSessions       int       `json:"max_waitlist_sessions"`
	RestrictToConfiguredUsers bool      `json:"restrict_to_configured_users"`
	AllowAnonymousEnrollment  bool      `json:"allow_anonymous_enrollment"`
	BannerText                string    `json:"banner_text"`
}

// IsActive reports whether the config window contains the given time.
func (ec *EnrollmentConfig) IsActive(now time.Time) bool {
	return ec.StartTime.Before(now) && now.Before(ec.EndTime)
}

// AppliesTo reports whether the config governs a session starting at the
// given time: the window must be active and, when LimitToEndTime is set,
// the session must start before the window closes.
func (ec *EnrollmentConfig) AppliesTo(sessionStart, now time.Time) bool {
	if !ec.IsActive(now) {
		return false
	}
	return !ec.LimitToEndTime || sessionStart.Before(ec.EndTime)
}

// EffectiveCapacity returns the session capacity under this config:
// ceil(limit * PercentageSlots / 100).
func (ec *EnrollmentConfig) EffectiveCapacity(participantsLimit int) int {
	return core.PercentageOf(participantsLimit, ec.PercentageSlots)
}

// DomainEnrollmentConfig grants slots to every user of an email domain.
type DomainEnrollmentConfig struct {
	ID                  int    `json:"id"`
	EnrollmentConfigID  int    `json:"enrollment_config_id"`
	Domain              string `json:"domain"`
	AllowedSlotsPerUser int    `json:"allowed_slots_per_user"`
}

// UserEnrollmentConfig grants slots to a single user email, either configured
// explicitly or fetched from the membership API.
type UserEnrollmentConfig struct {
	ID                 int       `json:"id"`
	EnrollmentConfigID int       `json:"enrollment_config_id"`
	UserEmail          string    `json:"user_email"`
	AllowedSlots       int       `json:"allowed_slots"`
	FetchedFromAPI     bool      `json:"fetched_from_api"`
	LastCheck          null.Time `json:"last_check"`
}

// SlotGrant is the non-persisted result of resolving a user's slot allowance
// across all active enrollment configs of an event. Multiple sources
// (individual + domain) sum into a combined grant.
type SlotGrant struct {
	UserEmail           string `json:"user_email"`
	AllowedSlots        int    `json:"allowed_slots"`
	EnrollmentConfigID  int    `json:"enrollment_config_id"`
	FetchedFromAPI      bool   `json:"fetched_from_api"`
	HasIndividualConfig bool   `json:"has_individual_config"`
	HasDomainConfig     bool   `json:"has_domain_config"`
	Domain              string `json:"domain,omitempty"`
	CombinedAccess      bool   `json:"combined_access"`
}

// NewEvent contains information needed to create a new Event.
type NewEvent struct {
	Name              string    `json:"name" validate:"required"`
	Description       string    `json:"description"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	ProposalStartTime time.Time `json:"proposal_start_time"`
	ProposalEndTime   time.Time `json:"proposal_end_time"`
	PublicationTime   time.Time `json:"publication_time"`
}

func (ne *NewEvent) Validate() error {
	ne.Name = core.CleanString(ne.Name)
	if err := core.Validate.Struct(ne); err != nil {
		return err
	}
	return validateEventTimes(
		ne.StartTime, ne.EndTime, ne.ProposalStartTime, ne.ProposalEndTime, ne.PublicationTime)
}

// UpdateEvent defines what information may be provided to modify an existing Event.
type UpdateEvent struct {
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	ProposalStartTime time.Time `json:"proposal_start_time"`
	ProposalEndTime   time.Time `json:"proposal_end_time"`
	PublicationTime   time.Time `json:"publication_time"`
}

func (ue *UpdateEvent) Validate(orig Event) error {
	name := core.CleanString(ue.Name)
	if name != "" {
		ue.Name = name
	} else {
		ue.Name = orig.Name
	}
	if ue.StartTime.IsZero() {
		ue.StartTime = orig.StartTime.Time
	}
	if ue.EndTime.IsZero() {
		ue.EndTime = orig.EndTime.Time
	}
	if ue.ProposalStartTime.IsZero() {
		ue.ProposalStartTime = orig.ProposalStartTime.Time
	}
	if ue.ProposalEndTime.IsZero() {
		ue.ProposalEndTime = orig.ProposalEndTime.Time
	}
	if ue.PublicationTime.IsZero() {
		ue.PublicationTime = orig.PublicationTime.Time
	}
	return validateEventTimes(
		ue.StartTime, ue.EndTime, ue.ProposalStartTime, ue.ProposalEndTime, ue.PublicationTime)
}

// validateEventTimes enforces the event time constraints: either all five
// times are unset (draft), or proposals close no earlier than they open,
// publication precedes the start and the event starts before it ends.
func validateEventTimes(start, end, proposalStart, proposalEnd, publication time.Time) error {
	if start.IsZero() && end.IsZero() && proposalStart.IsZero() &&
		proposalEnd.IsZero() && publication.IsZero() {
		return nil
	}
	var fieldErrs []core.FieldError
	if proposalEnd.Before(proposalStart) {
		fieldErrs = append(fieldErrs, core.FieldError{
			Field: "proposal_end_time", Error: "proposals cannot close before they open"})
	}
	if publication.After(start) {
		fieldErrs = append(fieldErrs, core.FieldError{
			Field: "publication_time", Error: "publication cannot come after the event starts"})
	}
	if !start.Before(end) {
		fieldErrs = append(fieldErrs, core.FieldError{
			Field: "end_time", Error: "the event must start before it ends"})
	}
	if len(fieldErrs) > 0 {
		return core.NewValidationError(ErrInvalidEventTimes, fieldErrs...)
	}
	return nil
}

// NewSpace contains information needed to create a new Space.
type NewSpace struct {
	Name string `json:"name" validate:"required"`
}

func (ns *NewSpace) Validate() error {
	ns.Name = core.CleanString(ns.Name)
	return core.Validate.Struct(ns)
}

// NewTimeSlot contains information needed to create a new TimeSlot.
type NewTimeSlot struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

func (nts *NewTimeSlot) Validate() error { return core.Validate.Struct(nts) }

// NewEnrollmentConfig contains information needed to create a new EnrollmentConfig.
type NewEnrollmentConfig struct {
	StartTime                 time.Time `json:"start_time" validate:"required"`
	EndTime                   time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	PercentageSlots           int       `json:"percentage_slots" validate:"required,min=1,max=100"`
	LimitToEndTime            bool      `json:"limit_to_end_time"`
	MaxWaitlistSessions       int       `json:"max_waitlist_sessions" validate:"min=0"`
	RestrictToConfiguredUsers bool      `json:"restrict_to_configured_users"`
	AllowAnonymousEnrollment  bool      `json:"allow_anonymous_enrollment"`
	BannerText                string    `json:"banner_text"`
}

func (nec *NewEnrollmentConfig) Validate() error {
	nec.BannerText = core.CleanString(nec.BannerText)
	return core.Validate.Struct(nec)
}

// NewDomainGrant contains information needed to grant slots to an email domain.
type NewDomainGrant struct {
	Domain              string `json:"domain" validate:"required,fqdn"`
	AllowedSlotsPerUser int    `json:"allowed_slots_per_user" validate:"required,min=1"`
}

func (ndg *NewDomainGrant) Validate() error {
	ndg.Domain = core.CleanString(ndg.Domain, true /* lower */)
	return core.Validate.Struct(ndg)
}

// NewUserGrant contains information needed to grant slots to a user email.
type NewUserGrant struct {
	UserEmail    string `json:"user_email" validate:"required,email"`
	AllowedSlots int    `json:"allowed_slots" validate:"required,min=1"`
}

func (nug *NewUserGrant) Validate() error {
	nug.UserEmail = core.CleanString(nug.UserEmail, true /* lower */)
	return core.Validate.Struct(nug)
}
