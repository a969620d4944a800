package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/session"
	"github.com/fancysnake/ludamus/core/user"
)

type sessionApi struct {
	svc    session.Service
	evtSvc event.Service
	usrSvc user.Service
}

func registerSessionAPI(g *echo.Group, jwt, sphere echo.MiddlewareFunc,
	svc session.Service, evtSvc event.Service, usrSvc user.Service) {

	api := sessionApi{svc: svc, evtSvc: evtSvc, usrSvc: usrSvc}

	g.GET("/events/:slug/sessions", api.queryByEvent, sphere)

	sg := g.Group("/sessions/:id", sphere)
	sg.GET("", api.retrieve)
	sg.GET("/enrollment", api.choices, jwt)
	sg.POST("/enrollment", api.enroll, jwt)
	sg.GET("/enrollment/anonymous", api.anonymousChoices, jwt)
	sg.POST("/enrollment/anonymous", api.anonymousEnroll, jwt)
}

// Handlers

func (api *sessionApi) queryByEvent(ctx echo.Context) error {
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return err
	}
	ev, err := api.evtSvc.GetBySlug(sphere, ctx.Param("slug"))
	if err != nil {
		if errors.Cause(err) == event.ErrEventNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting event")
	}

	sessions, err := api.svc.QueryByEvent(ev)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	sess, err := api.contextSession(ctx)
	if err != nil {
		return err
	}
	ai, err := api.svc.GetAgendaItem(sess)
	if err != nil {
		return errors.Wrap(err, "getting agenda item")
	}
	return ctx.JSON(http.StatusOK, SessionResponse{Session: sess, AgendaItem: ai})
}

// choices resolves the legal enrollment actions for the authed user and their
// connected users.
func (api *sessionApi) choices(ctx echo.Context) error {
	sess, err := api.contextSession(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	users, err := api.householdUsers(usr)
	if err != nil {
		return err
	}
	choices, err := api.svc.Choices(sess, users, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "resolving choices")
	}
	return ctx.JSON(http.StatusOK, choices)
}

// enroll processes a batch of enrollment requests; requests are only accepted
// for the authed user and their connected users.
func (api *sessionApi) enroll(ctx echo.Context) error {
	sess, err := api.contextSession(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data session.EnrollmentBatch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollmentBatch")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	users, err := api.householdUsers(usr)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(users))
	for _, u := range users {
		allowed[u.ID] = true
	}
	for _, req := range data.Requests {
		if !allowed[req.UserID] {
			return errHttpForbidden
		}
	}

	result, err := api.svc.ProcessEnrollment(sess, data.Requests, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "processing enrollment")
	}
	return ctx.JSON(http.StatusOK, result)
}

// Anonymous enrollment: a code holder enrolls themselves only, on the sphere
// the code was activated on.

func (api *sessionApi) anonymousChoices(ctx echo.Context) error {
	sess, usr, err := api.contextAnonymous(ctx)
	if err != nil {
		return err
	}
	choices, err := api.svc.Choices(sess, []user.User{usr}, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "resolving choices")
	}
	return ctx.JSON(http.StatusOK, choices)
}

func (api *sessionApi) anonymousEnroll(ctx echo.Context) error {
	sess, usr, err := api.contextAnonymous(ctx)
	if err != nil {
		return err
	}

	var data AnonymousEnrollRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnonymousEnrollRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	// capture the participant's display name on first enrollment
	if data.Name != "" && data.Name != usr.Name {
		if _, err = api.usrSvc.Update(usr.ID, user.UpdateUser{Name: data.Name}); err != nil {
			return errors.Wrap(err, "updating anonymous user")
		}
	}

	req := session.EnrollmentRequest{UserID: usr.ID, Action: data.Action, Name: data.Name}
	result, err := api.svc.ProcessEnrollment(sess, []session.EnrollmentRequest{req}, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "processing enrollment")
	}
	return ctx.JSON(http.StatusOK, result)
}

// helpers

func (api *sessionApi) contextSession(ctx echo.Context) (session.Session, error) {
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return session.Session{}, err
	}
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return session.Session{}, errHttpNotFound
	}
	sess, err := api.svc.GetByID(id)
	if err != nil {
		if errors.Cause(err) == session.ErrNotFound {
			return session.Session{}, errHttpNotFound
		}
		return session.Session{}, errors.Wrap(err, "getting session")
	}
	if sess.SphereID != sphere.ID {
		return session.Session{}, errHttpNotFound
	}
	return sess, nil
}

// contextAnonymous resolves the session and the anonymous code holder; the
// code must have been activated on the current sphere and the session's event
// must still allow anonymous enrollment.
func (api *sessionApi) contextAnonymous(ctx echo.Context) (session.Session, user.User, error) {
	sess, err := api.contextSession(ctx)
	if err != nil {
		return session.Session{}, user.User{}, err
	}
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return session.Session{}, user.User{}, err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return session.Session{}, user.User{}, err
	}
	if !claims.IsAnonymous() || claims.SphereID != sphere.ID {
		return session.Session{}, user.User{}, errHttpForbidden
	}

	ev, _, err := api.svc.EventFor(sess)
	if err != nil {
		return session.Session{}, user.User{}, errors.Wrap(err, "resolving event")
	}
	allowed, err := api.evtSvc.AnonymousEnrollmentAllowed(ev, time.Now().UTC())
	if err != nil {
		return session.Session{}, user.User{}, errors.Wrap(err, "checking anonymous enrollment")
	}
	if !allowed {
		return session.Session{}, user.User{}, core.NewValidationError(errAnonymousNotAllowed)
	}

	usr, err := getContextUser(ctx, api.usrSvc, claims)
	if err != nil {
		return session.Session{}, user.User{}, errors.Wrap(err, "getting context user")
	}
	return sess, usr, nil
}

// householdUsers returns the user together with their connected users.
func (api *sessionApi) householdUsers(usr user.User) ([]user.User, error) {
	users := []user.User{usr}
	connected, err := api.usrSvc.QueryConnected(usr)
	if err != nil {
		return nil, errors.Wrap(err, "querying connected users")
	}
	return append(users, connected...), nil
}

type (
	SessionResponse struct {
		session.Session
		AgendaItem session.AgendaItem `json:"agenda_item"`
	}

	AnonymousEnrollRequest struct {
		Action string `json:"action" validate:"required,oneof=enroll waitlist cancel"`
		Name   string `json:"name"`
	}
)

func (ar *AnonymousEnrollRequest) Validate() error {
	ar.Name = core.CleanString(ar.Name)
	return core.Validate.Struct(ar)
}
