package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/proposal"
	"github.com/fancysnake/ludamus/core/session"
	"github.com/fancysnake/ludamus/core/user"
)

type proposalApi struct {
	svc    proposal.Service
	evtSvc event.Service
	usrSvc user.Service
}

func registerProposalAPI(g *echo.Group, jwt, sphere echo.MiddlewareFunc,
	svc proposal.Service, evtSvc event.Service, usrSvc user.Service) {

	api := proposalApi{svc: svc, evtSvc: evtSvc, usrSvc: usrSvc}

	eg := g.Group("/events/:slug", sphere)
	eg.GET("/proposal-categories", api.queryCategories)
	eg.POST("/proposal-categories", api.createCategory, jwt)
	eg.POST("/proposals", api.submit, jwt)
	eg.GET("/proposals", api.queryByEvent, jwt)

	pg := g.Group("/proposals/:id", sphere, jwt)
	pg.POST("/accept", api.accept)
	pg.POST("/reject", api.reject)
}

// Handlers

func (api *proposalApi) queryCategories(ctx echo.Context) error {
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}
	cats, err := api.svc.QueryCategories(ev)
	if err != nil {
		return errors.Wrap(err, "querying proposal categories")
	}
	if cats == nil {
		cats = []proposal.Category{}
	}
	return ctx.JSON(http.StatusOK, cats)
}

func (api *proposalApi) createCategory(ctx echo.Context) error {
	if _, _, err := getContextManager(ctx, api.evtSvc, api.usrSvc); err != nil {
		return err
	}
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}

	var data proposal.NewCategory
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCategory")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	cat, err := api.svc.CreateCategory(ev, data)
	if err != nil {
		return errors.Wrap(err, "creating proposal category")
	}
	return ctx.JSON(http.StatusCreated, cat)
}

func (api *proposalApi) submit(ctx echo.Context) error {
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}
	host, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data SubmitProposalRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitProposalRequest")
	}
	cat, err := api.svc.GetCategory(data.CategoryID)
	if err != nil {
		if errors.Cause(err) == proposal.ErrCategoryNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting proposal category")
	}
	if cat.EventID != ev.ID {
		return errHttpNotFound
	}
	if err := data.NewProposal.Validate(cat); err != nil {
		return err
	}

	prop, err := api.svc.Submit(ev, cat, host, data.NewProposal)
	if err != nil {
		return errors.Wrap(err, "submitting proposal")
	}
	return ctx.JSON(http.StatusCreated, prop)
}

func (api *proposalApi) queryByEvent(ctx echo.Context) error {
	if _, _, err := getContextManager(ctx, api.evtSvc, api.usrSvc); err != nil {
		return err
	}
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}
	proposals, err := api.svc.QueryByEvent(ev)
	if err != nil {
		return errors.Wrap(err, "querying proposals")
	}
	if proposals == nil {
		proposals = []proposal.Proposal{}
	}
	return ctx.JSON(http.StatusOK, proposals)
}

// accept schedules the proposal into a space and time slot, materializing the
// confirmed session.
func (api *proposalApi) accept(ctx echo.Context) error {
	prop, ev, err := api.contextProposal(ctx)
	if err != nil {
		return err
	}

	var data AcceptProposalRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AcceptProposalRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	sp, err := api.evtSvc.GetSpace(data.SpaceID)
	if err != nil || sp.EventID != ev.ID {
		return errHttpNotFound
	}
	ts, err := api.evtSvc.GetTimeSlot(data.TimeSlotID)
	if err != nil || ts.EventID != ev.ID {
		return errHttpNotFound
	}

	prop, sess, err := api.svc.Accept(prop, sp, ts)
	if err != nil {
		return errors.Wrap(err, "accepting proposal")
	}
	return ctx.JSON(http.StatusOK, AcceptProposalResponse{Proposal: prop, Session: sess})
}

func (api *proposalApi) reject(ctx echo.Context) error {
	prop, _, err := api.contextProposal(ctx)
	if err != nil {
		return err
	}
	prop, err = api.svc.Reject(prop)
	if err != nil {
		return errors.Wrap(err, "rejecting proposal")
	}
	return ctx.JSON(http.StatusOK, prop)
}

// helpers

func (api *proposalApi) contextEvent(ctx echo.Context) (event.Event, error) {
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return event.Event{}, err
	}
	ev, err := api.evtSvc.GetBySlug(sphere, ctx.Param("slug"))
	if err != nil {
		if errors.Cause(err) == event.ErrEventNotFound {
			return event.Event{}, errHttpNotFound
		}
		return event.Event{}, errors.Wrap(err, "getting event")
	}
	return ev, nil
}

// contextProposal resolves the proposal and checks the caller manages the
// sphere of the proposal's event.
func (api *proposalApi) contextProposal(ctx echo.Context) (proposal.Proposal, event.Event, error) {
	sphere, _, err := getContextManager(ctx, api.evtSvc, api.usrSvc)
	if err != nil {
		return proposal.Proposal{}, event.Event{}, err
	}

	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return proposal.Proposal{}, event.Event{}, errHttpNotFound
	}
	prop, err := api.svc.GetByID(id)
	if err != nil {
		if errors.Cause(err) == proposal.ErrNotFound {
			return proposal.Proposal{}, event.Event{}, errHttpNotFound
		}
		return proposal.Proposal{}, event.Event{}, errors.Wrap(err, "getting proposal")
	}
	cat, err := api.svc.GetCategory(prop.CategoryID)
	if err != nil {
		return proposal.Proposal{}, event.Event{}, errors.Wrap(err, "getting proposal category")
	}
	ev, err := api.evtSvc.GetByID(cat.EventID)
	if err != nil {
		return proposal.Proposal{}, event.Event{}, errors.Wrap(err, "getting event")
	}
	if ev.SphereID != sphere.ID {
		return proposal.Proposal{}, event.Event{}, errHttpNotFound
	}
	return prop, ev, nil
}

type (
	SubmitProposalRequest struct {
		CategoryID int `json:"category_id"`
		proposal.NewProposal
	}

	AcceptProposalRequest struct {
		SpaceID    int `json:"space_id" validate:"required"`
		TimeSlotID int `json:"time_slot_id" validate:"required"`
	}

	AcceptProposalResponse struct {
		Proposal proposal.Proposal `json:"proposal"`
		Session  session.Session   `json:"session"`
	}
)

func (ar *AcceptProposalRequest) Validate() error { return core.Validate.Struct(ar) }
