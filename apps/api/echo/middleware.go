package echoapi

import (
	"net"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
)

var contextSphereKey = "sphere"

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// sphereMiddleware resolves the tenant sphere from the request host.
func sphereMiddleware(svc event.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			domain := requestDomain(ctx)
			sphere, err := svc.GetSphereByDomain(domain)
			if err != nil {
				if errors.Cause(err) == event.ErrSphereNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "resolving sphere")
			}
			ctx.Set(contextSphereKey, sphere)
			return next(ctx)
		}
	}
}

func requestDomain(ctx echo.Context) string {
	host := ctx.Request().Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

func getContextSphere(ctx echo.Context) (event.Sphere, error) {
	if sphere, ok := ctx.Get(contextSphereKey).(event.Sphere); ok {
		return sphere, nil
	}
	return event.Sphere{}, errHttpNotFound
}

// getContextManager resolves the sphere and the authenticated user and checks
// that the user manages the sphere. Admins pass regardless.
func getContextManager(ctx echo.Context, evtSvc event.Service, usrSvc user.Service) (event.Sphere, user.User, error) {
	sphere, err := getContextSphere(ctx)
	if err != nil {
		return event.Sphere{}, user.User{}, err
	}
	usr, err := getContextUser(ctx, usrSvc)
	if err != nil {
		return event.Sphere{}, user.User{}, errors.Wrap(err, "getting context user")
	}
	if usr.IsAdmin() {
		return sphere, usr, nil
	}
	isManager, err := evtSvc.IsManager(sphere, usr.ID)
	if err != nil {
		return event.Sphere{}, user.User{}, errors.Wrap(err, "checking sphere manager")
	}
	if !isManager {
		return event.Sphere{}, user.User{}, errHttpForbidden
	}
	return sphere, usr, nil
}
