package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/otpbroker"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var statusByCode = map[otpbroker.ErrorCode]int{
	otpbroker.CodeBadUserInput:        http.StatusBadRequest,
	otpbroker.CodeNotFound:            http.StatusNotFound,
	otpbroker.CodeTooManyRequests:     http.StatusTooManyRequests,
	otpbroker.CodeUnauthenticated:     http.StatusUnauthorized,
	otpbroker.CodeForbidden:           http.StatusForbidden,
	otpbroker.CodeConflict:            http.StatusConflict,
	otpbroker.CodeInternalServerError: http.StatusInternalServerError,
}

func statusOf(err error) int {
	if status, ok := statusByCode[otpbroker.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// newHTTPErrorHandler returns an echo.HTTPErrorHandler that knows how to handle
// broker errors. Internal errors raised by the Engine are already logged and
// reported there; anything else that ends up as a 500 is reported here.
func newHTTPErrorHandler(logger *zap.Logger, reporter otpbroker.ErrorReporter, translator ut.Translator) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		if ctx.Response().Committed {
			return
		}

		var (
			code    int
			message interface{}

			httpErr  *echo.HTTPError
			fieldErr validator.ValidationErrors
			rateErr  *otpbroker.RateLimitError
			interErr *otpbroker.InternalError
		)

		switch {
		case errors.As(err, &fieldErr):
			fields := make(map[string]string, len(fieldErr))
			for _, fe := range fieldErr {
				fields[fe.Field()] = fe.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fields
		case errors.As(err, &httpErr):
			if inner, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = inner
			}
			code = httpErr.Code
			message = httpErr.Message
		default:
			code = statusOf(err)
			message = otpbroker.PublicMessage(err)

			if errors.As(err, &rateErr) {
				ctx.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(rateErr.RetryAfter)))
			}
			if code == http.StatusInternalServerError && !errors.As(err, &interErr) {
				req := ctx.Request()
				logger.Error("unhandled error",
					zap.String("method", req.Method),
					zap.String("path", ctx.Path()),
					zap.Error(err),
				)
				if reporter != nil {
					reporter.Report(req.Context(), err, map[string]string{
						"method": req.Method,
						"path":   ctx.Path(),
					})
				}
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if ctx.Request().Method == http.MethodHead {
			err = ctx.NoContent(code)
		} else {
			err = ctx.JSON(code, message)
		}
		if err != nil {
			logger.Error("writing error response", zap.Error(err))
		}
	}
}
