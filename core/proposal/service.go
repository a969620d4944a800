package proposal

import (
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/session"
	"github.com/fancysnake/ludamus/core/user"
)

var (
	// errors
	ErrNotFound                     = errors.New("proposal not found")
	ErrCategoryNotFound             = errors.New("proposal category not found")
	ErrProposalsClosed              = errors.New("the call for proposals is closed")
	ErrAlreadyResolved              = errors.New("proposal has already been accepted or rejected")
	ErrParticipantsLimitOutOfBounds = errors.New("participants limit is out of the category's bounds")
)

type (
	Repository interface {
		CreateCategory(cat Category) (Category, error)
		QueryCategoriesByEvent(eventID int) ([]Category, error)
		GetCategoryByID(id int) (Category, error)

		CreateProposal(prop Proposal) (Proposal, error)
		GetProposalByID(id int) (Proposal, error)
		QueryProposalsByEvent(eventID int) ([]Proposal, error)
		QueryProposalsByCategory(categoryID int) ([]Proposal, error)
		UpdateProposal(prop Proposal) (Proposal, error)
	}

	Service interface {
		CreateCategory(ev event.Event, nc NewCategory) (Category, error)
		QueryCategories(ev event.Event) ([]Category, error)
		GetCategory(id int) (Category, error)

		// Submit files a proposal into a category; the call for proposals
		// must be open for both the event and the category.
		Submit(ev event.Event, cat Category, host user.User, np NewProposal) (Proposal, error)
		GetByID(id int) (Proposal, error)
		QueryByEvent(ev event.Event) ([]Proposal, error)

		// Accept materializes the proposal as a confirmed session scheduled
		// into the given space and time slot.
		Accept(prop Proposal, sp event.Space, ts event.TimeSlot) (Proposal, session.Session, error)
		Reject(prop Proposal) (Proposal, error)
	}

	service struct {
		repo       Repository
		sessionSvc session.Service
		eventSvc   event.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, sessionSvc session.Service, eventSvc event.Service) Service {
	return &service{
		repo:       repo,
		sessionSvc: sessionSvc,
		eventSvc:   eventSvc,
	}
}

func (svc *service) CreateCategory(ev event.Event, nc NewCategory) (Category, error) {
	cat := Category{
		EventID:              ev.ID,
		Name:                 nc.Name,
		Slug:                 core.Slugify(nc.Name),
		MinParticipantsLimit: nc.MinParticipantsLimit,
		MaxParticipantsLimit: nc.MaxParticipantsLimit,
	}
	if !nc.StartTime.IsZero() {
		cat.StartTime = null.TimeFrom(nc.StartTime)
	}
	if !nc.EndTime.IsZero() {
		cat.EndTime = null.TimeFrom(nc.EndTime)
	}
	return svc.repo.CreateCategory(cat)
}

func (svc *service) QueryCategories(ev event.Event) ([]Category, error) {
	return svc.repo.QueryCategoriesByEvent(ev.ID)
}

func (svc *service) GetCategory(id int) (Category, error) {
	return svc.repo.GetCategoryByID(id)
}

func (svc *service) Submit(ev event.Event, cat Category, host user.User, np NewProposal) (Proposal, error) {
	now := time.Now().UTC()
	if !ev.ProposalsOpen(now) || !cat.Open(now) {
		return Proposal{}, core.NewValidationError(ErrProposalsClosed)
	}
	return svc.repo.CreateProposal(Proposal{
		CategoryID:        cat.ID,
		Title:             np.Title,
		Description:       np.Description,
		Requirements:      np.Requirements,
		Needs:             np.Needs,
		HostID:            host.ID,
		PresenterName:     np.PresenterName,
		ParticipantsLimit: np.ParticipantsLimit,
		MinAge:            np.MinAge,
		Status:            StatusCreated,
		CreatedAt:         now,
	})
}

func (svc *service) GetByID(id int) (Proposal, error) {
	return svc.repo.GetProposalByID(id)
}

func (svc *service) QueryByEvent(ev event.Event) ([]Proposal, error) {
	return svc.repo.QueryProposalsByEvent(ev.ID)
}

func (svc *service) Accept(prop Proposal, sp event.Space, ts event.TimeSlot) (Proposal, session.Session, error) {
	if prop.Status != StatusCreated {
		return Proposal{}, session.Session{}, core.NewValidationError(ErrAlreadyResolved)
	}
	cat, err := svc.repo.GetCategoryByID(prop.CategoryID)
	if err != nil {
		return Proposal{}, session.Session{}, err
	}
	ev, err := svc.eventSvc.GetByID(cat.EventID)
	if err != nil {
		return Proposal{}, session.Session{}, err
	}

	sess, err := svc.sessionSvc.Create(ev, sp, session.NewSession{
		Title:             prop.Title,
		Description:       prop.Description,
		Requirements:      prop.Requirements,
		PresenterName:     prop.PresenterName,
		HostID:            prop.HostID,
		ParticipantsLimit: prop.ParticipantsLimit,
		MinAge:            prop.MinAge,
		StartTime:         ts.StartTime,
		EndTime:           ts.EndTime,
	})
	if err != nil {
		return Proposal{}, session.Session{}, errors.Wrap(err, "creating session from proposal")
	}
	if _, err = svc.sessionSvc.ConfirmAgendaItem(sess); err != nil {
		return Proposal{}, session.Session{}, err
	}

	prop.Status = StatusAccepted
	prop.SessionID = null.IntFrom(sess.ID)
	updated, err := svc.repo.UpdateProposal(prop)
	if err != nil {
		return Proposal{}, session.Session{}, err
	}
	return updated, sess, nil
}

func (svc *service) Reject(prop Proposal) (Proposal, error) {
	if prop.Status != StatusCreated {
		return Proposal{}, core.NewValidationError(ErrAlreadyResolved)
	}
	prop.Status = StatusRejected
	return svc.repo.UpdateProposal(prop)
}
