package session

import (
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
)

var (
	// errors
	ErrNotFound             = errors.New("session not found")
	ErrAgendaItemNotFound   = errors.New("agenda item not found")
	ErrParticipationMissing = errors.New("participation not found")
	ErrEnrollmentClosed     = errors.New("enrollment is not open for this session")
	ErrInsufficientCapacity = errors.New("not enough spots available for this session")
)

type (
	Repository interface {
		// InTx runs fn within a single transaction; the Repository passed to
		// fn operates on that transaction.
		InTx(fn func(tx Repository) error) error
		// LockSession locks the session row for the duration of the current
		// transaction.
		LockSession(id int) (Session, error)

		CreateSession(sess Session) (Session, error)
		GetSessionByID(id int) (Session, error)
		GetSessionBySlug(sphereID int, slug string) (Session, error)
		QuerySessionsByEvent(eventID int) ([]Session, error)
		UpdateSession(sess Session) (Session, error)

		CreateAgendaItem(ai AgendaItem) (AgendaItem, error)
		GetAgendaItemBySession(sessionID int) (AgendaItem, error)
		UpdateAgendaItem(ai AgendaItem) (AgendaItem, error)

		CreateParticipation(p SessionParticipation) (SessionParticipation, error)
		GetParticipation(sessionID int, userID string) (SessionParticipation, error)
		// QueryParticipationsBySession returns participations ordered by
		// CreatedAt ascending.
		QueryParticipationsBySession(sessionID int) ([]SessionParticipation, error)
		QueryParticipationsByUser(userID string) ([]SessionParticipation, error)
		UpdateParticipation(p SessionParticipation) (SessionParticipation, error)
		DeleteParticipation(id int) error

		CountConfirmedBySession(sessionID int) (int, error)
		// CountWaitingInEvent counts the user's waiting participations across
		// all sessions of the event.
		CountWaitingInEvent(eventID int, userID string) (int, error)
		// CountDistinctConfirmedUsers counts how many of the given users hold
		// at least one confirmed participation anywhere in the event.
		CountDistinctConfirmedUsers(eventID int, userIDs []string) (int, error)
		// HasTimeConflict reports whether the user holds a confirmed
		// participation in another session of the sphere whose agenda window
		// overlaps [start, end).
		HasTimeConflict(sphereID, excludeSessionID int, userID string, start, end time.Time) (bool, error)
	}

	Service interface {
		Create(ev event.Event, sp event.Space, ns NewSession) (Session, error)
		GetByID(id int) (Session, error)
		GetBySlug(sphere event.Sphere, slug string) (Session, error)
		QueryByEvent(ev event.Event) ([]Session, error)
		GetAgendaItem(sess Session) (AgendaItem, error)
		ConfirmAgendaItem(sess Session) (AgendaItem, error)
		Participations(sess Session) ([]SessionParticipation, error)

		// EventFor resolves the event a session is scheduled in.
		EventFor(sess Session) (event.Event, AgendaItem, error)

		// Choices resolves the legal enrollment actions per user.
		Choices(sess Session, users []user.User, now time.Time) ([]UserChoices, error)

		// ProcessEnrollment runs a batch of enrollment requests atomically.
		ProcessEnrollment(sess Session, requests []EnrollmentRequest, now time.Time) (EnrollmentResult, error)
	}

	service struct {
		repo     Repository
		eventSvc event.Service
		userSvc  user.Service
		mailSvc  core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, eventSvc event.Service, userSvc user.Service, mailSvc core.EmailService) Service {
	return &service{
		repo:     repo,
		eventSvc: eventSvc,
		userSvc:  userSvc,
		mailSvc:  mailSvc,
	}
}

func (svc *service) Create(ev event.Event, sp event.Space, ns NewSession) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		SphereID:          ev.SphereID,
		Title:             ns.Title,
		Slug:              core.Slugify(ns.Title),
		Description:       ns.Description,
		Requirements:      ns.Requirements,
		PresenterName:     ns.PresenterName,
		ParticipantsLimit: ns.ParticipantsLimit,
		MinAge:            ns.MinAge,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if ns.HostID != "" {
		sess.HostID = null.StringFrom(ns.HostID)
	}
	created, err := svc.repo.CreateSession(sess)
	if err != nil {
		return Session{}, err
	}
	_, err = svc.repo.CreateAgendaItem(AgendaItem{
		SessionID: created.ID,
		SpaceID:   sp.ID,
		StartTime: ns.StartTime,
		EndTime:   ns.EndTime,
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "creating agenda item")
	}
	return created, nil
}

func (svc *service) GetByID(id int) (Session, error) {
	return svc.repo.GetSessionByID(id)
}

func (svc *service) GetBySlug(sphere event.Sphere, slug string) (Session, error) {
	return svc.repo.GetSessionBySlug(sphere.ID, core.CleanString(slug, true /* lower */))
}

func (svc *service) QueryByEvent(ev event.Event) ([]Session, error) {
	return svc.repo.QuerySessionsByEvent(ev.ID)
}

func (svc *service) GetAgendaItem(sess Session) (AgendaItem, error) {
	return svc.repo.GetAgendaItemBySession(sess.ID)
}

func (svc *service) ConfirmAgendaItem(sess Session) (AgendaItem, error) {
	ai, err := svc.repo.GetAgendaItemBySession(sess.ID)
	if err != nil {
		return AgendaItem{}, err
	}
	ai.SessionConfirmed = true
	return svc.repo.UpdateAgendaItem(ai)
}

func (svc *service) Participations(sess Session) ([]SessionParticipation, error) {
	return svc.repo.QueryParticipationsBySession(sess.ID)
}

func (svc *service) EventFor(sess Session) (event.Event, AgendaItem, error) {
	ai, err := svc.repo.GetAgendaItemBySession(sess.ID)
	if err != nil {
		return event.Event{}, AgendaItem{}, err
	}
	sp, err := svc.eventSvc.GetSpace(ai.SpaceID)
	if err != nil {
		return event.Event{}, AgendaItem{}, err
	}
	ev, err := svc.eventSvc.GetByID(sp.EventID)
	if err != nil {
		return event.Event{}, AgendaItem{}, err
	}
	return ev, ai, nil
}
