package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trackpoints/pkg/db"
	"trackpoints/pkg/errutil"
	"trackpoints/pkg/logger"
)

// Error renders the last error attached with c.Error as a BaseError body. Errors that
// are not BaseErrors are classified; anything unknown becomes a 500 without details.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be := classify(last.Err)
		status := be.Code.HTTPStatus()

		log := logger.FromContext(c.Request.Context(),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(last.Err),
		)
		if status >= http.StatusInternalServerError {
			log.Error("request failed")
		} else {
			log.Debug("request rejected")
		}

		c.JSON(status, be.JSON())
	}
}

func classify(err error) errutil.BaseError {
	if be, ok := errutil.From(err); ok {
		return be
	}
	switch {
	case errors.Is(err, db.ErrStoreUnavailable):
		return errutil.BaseError{Code: errutil.StatusServiceUnavailable, Message: "store unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return errutil.BaseError{Code: errutil.StatusTimeout, Message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return errutil.BaseError{Code: errutil.StatusClientClosedRequest, Message: "request canceled"}
	default:
		return errutil.BaseError{Code: errutil.StatusInternal, Message: "internal error"}
	}
}
