// middleware/auth_middleware.go
package middleware

import (
	"net/http"

	"github.com/HSouheill/barrim_network/models"
	"github.com/labstack/echo/v4"
)

// RequireRole checks if the authenticated caller has one of the allowed roles
func RequireRole(allowedRoles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := ExtractRole(c)
			if role == "" {
				return c.JSON(http.StatusUnauthorized, models.Response{
					Status:  http.StatusUnauthorized,
					Message: "Authentication failed: role not found",
				})
			}

			for _, allowed := range allowedRoles {
				if role == allowed {
					return next(c)
				}
			}

			c.Logger().Warnf("Access denied for role: %s, allowed roles: %v", role, allowedRoles)
			return c.JSON(http.StatusForbidden, models.Response{
				Status:  http.StatusForbidden,
				Message: "Access denied for your role",
			})
		}
	}
}

// RequireSelfOrAdmin lets members reach only their own resources, named by the
// given path parameter; admins reach every member.
func RequireSelfOrAdmin(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ExtractRole(c) == RoleAdmin {
				return next(c)
			}
			memberID := ExtractMemberID(c)
			if memberID != "" && memberID == c.Param(param) {
				return next(c)
			}
			return c.JSON(http.StatusForbidden, models.Response{
				Status:  http.StatusForbidden,
				Message: "Access denied: not your account",
			})
		}
	}
}
