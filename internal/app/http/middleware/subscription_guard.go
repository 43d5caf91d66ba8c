package middleware

import (
	"net/http"

	"billing-app/internal/domain/accounts"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequirePremium admits callers whose account record carries the premium
// flag. It reads only the local record; Stripe is not consulted.
func RequirePremium(repo accounts.Repository, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		_, acct, err := repo.Resolve(c.Request.Context(), c.GetString("user_id"))
		if err != nil {
			log.Error("premium check failed", zap.String("user_id", c.GetString("user_id")), zap.Error(err))
			abort(c, http.StatusInternalServerError, "internal", "account store unavailable")
			return
		}
		if acct == nil || !acct.Premium {
			abort(c, http.StatusPreconditionFailed, "failed-precondition", "an active premium subscription is required")
			return
		}
		c.Next()
	}
}
