package echoapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
)

var errAnonymousNotAllowed = errors.New("anonymous enrollment is not open on this event")

type eventApi struct {
	svc    event.Service
	usrSvc user.Service
}

func registerEventAPI(g *echo.Group, jwt, sphere echo.MiddlewareFunc, svc event.Service, usrSvc user.Service) {
	api := eventApi{svc: svc, usrSvc: usrSvc}

	eg := g.Group("/events", sphere)
	eg.GET("", api.query)
	eg.GET("/:slug", api.retrieve)
	eg.GET("/:slug/spaces", api.querySpaces)
	eg.GET("/:slug/time-slots", api.queryTimeSlots)

	// anonymous enrollment codes
	eg.POST("/:slug/anonymous", api.activateAnonymous)
	g.POST("/anonymous/load", api.loadAnonymous, sphere)

	// sphere manager endpoints
	mg := eg.Group("", jwt)
	mg.POST("", api.create)
	mg.PUT("/:slug", api.update)
	mg.POST("/:slug/spaces", api.createSpace)
	mg.POST("/:slug/time-slots", api.createTimeSlot)
	mg.GET("/:slug/enrollment-configs", api.queryEnrollmentConfigs)
	mg.POST("/:slug/enrollment-configs", api.createEnrollmentConfig)

	cg := g.Group("/enrollment-configs/:id", sphere, jwt)
	cg.POST("/domain-grants", api.createDomainGrant)
	cg.POST("/user-grants", api.createUserGrant)
}

// Handlers

func (api *eventApi) query(ctx echo.Context) error {
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return err
	}
	events, err := api.svc.QueryBySphere(sphere)
	if err != nil {
		return errors.Wrap(err, "querying events")
	}
	if events == nil {
		events = []event.Event{}
	}
	return ctx.JSON(http.StatusOK, events)
}

func (api *eventApi) retrieve(ctx echo.Context) error {
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, EventResponse{Event: ev, Status: ev.Status(time.Now().UTC())})
}

func (api *eventApi) create(ctx echo.Context) error {
	sphere, _, err := getContextManager(ctx, api.svc, api.usrSvc)
	if err != nil {
		return err
	}

	var data event.NewEvent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvent")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ev, err := api.svc.Create(sphere, data)
	if err != nil {
		return errors.Wrap(err, "creating event")
	}
	return ctx.JSON(http.StatusCreated, ev)
}

func (api *eventApi) update(ctx echo.Context) error {
	if _, _, err := getContextManager(ctx, api.svc, api.usrSvc); err != nil {
		return err
	}
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}

	var data event.UpdateEvent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateEvent")
	}
	if err := data.Validate(ev); err != nil {
		return err
	}

	ev, err = api.svc.Update(ev, data)
	if err != nil {
		return errors.Wrap(err, "updating event")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *eventApi) querySpaces(ctx echo.Context) error {
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}
	spaces, err := api.svc.QuerySpaces(ev)
	if err != nil {
		return errors.Wrap(err, "querying spaces")
	}
	if spaces == nil {
		spaces = []event.Space{}
	}
	return ctx.JSON(http.StatusOK, spaces)
}

func (api *eventApi) createSpace(ctx echo.Context) error {
	if _, _, err := getContextManager(ctx, api.svc, api.usrSvc); err != nil {
		return err
	}
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}

	var data event.NewSpace
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSpace")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	sp, err := api.svc.CreateSpace(ev, data)
	if err != nil {
		return errors.Wrap(err, "creating space")
	}
	return ctx.JSON(http.StatusCreated, sp)
}

func (api *eventApi) queryTimeSlots(ctx echo.Context) error {
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}
	slots, err := api.svc.QueryTimeSlots(ev)
	if err != nil {
		return errors.Wrap(err, "querying time slots")
	}
	if slots == nil {
		slots = []event.TimeSlot{}
	}
	return ctx.JSON(http.StatusOK, slots)
}

func (api *eventApi) createTimeSlot(ctx echo.Context) error {
	if _, _, err := getContextManager(ctx, api.svc, api.usrSvc); err != nil {
		return err
	}
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}

	var data event.NewTimeSlot
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTimeSlot")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ts, err := api.svc.CreateTimeSlot(ev, data)
	if err != nil {
		return errors.Wrap(err, "creating time slot")
	}
	return ctx.JSON(http.StatusCreated, ts)
}

func (api *eventApi) queryEnrollmentConfigs(ctx echo.Context) error {
	if _, _, err := getContextManager(ctx, api.svc, api.usrSvc); err != nil {
		return err
	}
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}
	configs, err := api.svc.QueryEnrollmentConfigs(ev)
	if err != nil {
		return errors.Wrap(err, "querying enrollment configs")
	}
	if configs == nil {
		configs = []event.EnrollmentConfig{}
	}
	return ctx.JSON(http.StatusOK, configs)
}

func (api *eventApi) createEnrollmentConfig(ctx echo.Context) error {
	if _, _, err := getContextManager(ctx, api.svc, api.usrSvc); err != nil {
		return err
	}
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}

	var data event.NewEnrollmentConfig
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEnrollmentConfig")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	cfg, err := api.svc.CreateEnrollmentConfig(ev, data)
	if err != nil {
		return errors.Wrap(err, "creating enrollment config")
	}
	return ctx.JSON(http.StatusCreated, cfg)
}

func (api *eventApi) createDomainGrant(ctx echo.Context) error {
	cfg, err := api.contextConfig(ctx)
	if err != nil {
		return err
	}

	var data event.NewDomainGrant
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDomainGrant")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	grant, err := api.svc.CreateDomainGrant(cfg, data)
	if err != nil {
		return errors.Wrap(err, "creating domain grant")
	}
	return ctx.JSON(http.StatusCreated, grant)
}

func (api *eventApi) createUserGrant(ctx echo.Context) error {
	cfg, err := api.contextConfig(ctx)
	if err != nil {
		return err
	}

	var data event.NewUserGrant
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUserGrant")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	grant, err := api.svc.CreateUserGrant(cfg, data)
	if err != nil {
		return errors.Wrap(err, "creating user grant")
	}
	return ctx.JSON(http.StatusCreated, grant)
}

// Anonymous enrollment codes

func (api *eventApi) activateAnonymous(ctx echo.Context) error {
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return err
	}
	ev, err := api.contextEvent(ctx)
	if err != nil {
		return err
	}

	allowed, err := api.svc.AnonymousEnrollmentAllowed(ev, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "checking anonymous enrollment")
	}
	if !allowed {
		return core.NewValidationError(errAnonymousNotAllowed)
	}

	code, err := user.MakeCode()
	if err != nil {
		return errors.Wrap(err, "generating enrollment code")
	}
	usr, err := api.usrSvc.GetOrCreateAnonymous(anonymousCode(sphere, code))
	if err != nil {
		return errors.Wrap(err, "creating anonymous user")
	}

	token, err := GenerateToken(GetAnonymousClaims(usr, code, sphere.ID))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusCreated, AnonymousResponse{Code: code, Token: token})
}

func (api *eventApi) loadAnonymous(ctx echo.Context) error {
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return err
	}

	var data AnonymousLoadRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnonymousLoadRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	usr, err := api.usrSvc.GetAnonymous(anonymousCode(sphere, data.Code))
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewValidationError(errors.New("unknown enrollment code"),
				core.FieldError{Field: "code", Error: "unknown enrollment code"})
		}
		return errors.Wrap(err, "loading anonymous user")
	}

	token, err := GenerateToken(GetAnonymousClaims(usr, data.Code, sphere.ID))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, AnonymousResponse{Code: data.Code, Token: token})
}

// helpers

func (api *eventApi) contextEvent(ctx echo.Context) (event.Event, error) {
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return event.Event{}, err
	}
	ev, err := api.svc.GetBySlug(sphere, ctx.Param("slug"))
	if err != nil {
		if errors.Cause(err) == event.ErrEventNotFound {
			return event.Event{}, errHttpNotFound
		}
		return event.Event{}, errors.Wrap(err, "getting event")
	}
	return ev, nil
}

// contextConfig resolves the enrollment config and checks the caller manages
// the sphere the config's event belongs to.
func (api *eventApi) contextConfig(ctx echo.Context) (event.EnrollmentConfig, error) {
	sphere, _, err := getContextManager(ctx, api.svc, api.usrSvc)
	if err != nil {
		return event.EnrollmentConfig{}, err
	}

	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return event.EnrollmentConfig{}, errHttpNotFound
	}
	cfg, err := api.svc.GetEnrollmentConfig(id)
	if err != nil {
		if errors.Cause(err) == event.ErrConfigNotFound {
			return event.EnrollmentConfig{}, errHttpNotFound
		}
		return event.EnrollmentConfig{}, errors.Wrap(err, "getting enrollment config")
	}
	ev, err := api.svc.GetByID(cfg.EventID)
	if err != nil {
		return event.EnrollmentConfig{}, errors.Wrap(err, "getting event")
	}
	if ev.SphereID != sphere.ID {
		return event.EnrollmentConfig{}, errHttpNotFound
	}
	return cfg, nil
}

// anonymousCode scopes a code to a sphere; codes only resolve on the site
// they were activated on.
func anonymousCode(sphere event.Sphere, code string) string {
	return fmt.Sprintf("%d.%s", sphere.ID, code)
}

type (
	EventResponse struct {
		event.Event
		Status string `json:"status"`
	}

	AnonymousLoadRequest struct {
		Code string `json:"code" validate:"required"`
	}

	AnonymousResponse struct {
		Code  string `json:"code"`
		Token string `json:"token"`
	}
)

func (ar *AnonymousLoadRequest) Validate() error {
	ar.Code = core.CleanString(ar.Code)
	return core.Validate.Struct(ar)
}
