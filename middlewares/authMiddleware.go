package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/utils"
)

// AuthMiddleware validates the bearer token issued by the auth service and
// stores the actor it names on the request context. Requests without a token
// pass through anonymous; RequireActor rejects them where it matters.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(secret, auth)
		if err != nil || !validate.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		customClaim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok || customClaim.Subject == "" || !knownRole(models.ActorRole(customClaim.Role)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), auth)
		ctx = utils.SetActorIdInContext(ctx, customClaim.Subject)
		ctx = utils.SetActorRoleInContext(ctx, customClaim.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireActor aborts with 401 when no actor is authenticated and with 403
// when the actor's role is not one of roles. No roles means any role.
func RequireActor(roles ...models.ActorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if len(roles) == 0 {
			c.Next()
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   string(utils.KindForbidden),
			"message": "this action requires role " + joinRoles(roles),
		})
	}
}

func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	id, ok := utils.GetActorIdFromContext(ctx)
	if !ok || id == "" {
		return models.Actor{}, false
	}
	role, _ := utils.GetActorRoleFromContext(ctx)
	return models.Actor{Id: id, Role: models.ActorRole(role)}, true
}

// system is reserved for the sweeper and never comes from a token.
func knownRole(role models.ActorRole) bool {
	return role == models.ActorRoleWorker || role == models.ActorRoleCompany
}

func joinRoles(roles []models.ActorRole) string {
	s := make([]string, len(roles))
	for i, r := range roles {
		s[i] = string(r)
	}
	return strings.Join(s, " or ")
}
