package httpapi

import (
	"github.com/MrEthical07/otpbroker"
	authmw "github.com/MrEthical07/otpbroker/middleware"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// clientIP hands the caller's address to the Engine for per-IP throttling.
func clientIP(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		req := ctx.Request()
		ctx.SetRequest(req.WithContext(otpbroker.WithClientIP(req.Context(), ctx.RealIP())))
		return next(ctx)
	}
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.String("code", string(otpbroker.CodeOf(v.Error))))
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}

func authRequired(engine *otpbroker.Engine) echo.MiddlewareFunc {
	return echo.WrapMiddleware(authmw.Guard(engine))
}

func adminRequired(engine *otpbroker.Engine) echo.MiddlewareFunc {
	return echo.WrapMiddleware(authmw.RequireRole(engine, otpbroker.RoleAdmin))
}

func authResult(ctx echo.Context) (*otpbroker.AuthResult, error) {
	res, ok := authmw.AuthResultFromContext(ctx.Request().Context())
	if !ok {
		return nil, otpbroker.ErrUnauthorized
	}
	return res, nil
}
