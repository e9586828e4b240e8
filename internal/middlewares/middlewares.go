package middlewares

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
)

// HeaderCorrelationID is the header carrying the cross-system trace token.
const HeaderCorrelationID = "X-Correlation-ID"

// ContextKeyCorrelationID is the request-context key the token is stored under.
const ContextKeyCorrelationID = "correlation_id"

// CorrelationID propagates the caller's correlation token, minting one when
// the request carries none, and echoes it on the response.
func CorrelationID() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(ContextKeyCorrelationID, id)
		c.Writer.Header().Set(HeaderCorrelationID, id)

		c.Next()
	}
}

// CORSMiddleware allows cross-origin requests to the API.
func CORSMiddleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderCorrelationID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
