package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/czhmisaka/Html2Img/internal/model"
	"github.com/czhmisaka/Html2Img/internal/worker"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error string `json:"error"`
}

// errorHandler maps errors to {error} bodies. Only client errors carry detail.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, msg := statusOf(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if err := c.JSON(status, errorResponse{Error: msg}); err != nil {
			logger.Error().Err(err).Msg("failed to send error response")
		}
	}
}

func statusOf(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		return he.Code, msg
	}

	switch model.KindOf(err) {
	case model.KindValidation:
		return http.StatusBadRequest, err.Error()
	case model.KindNotFound:
		return http.StatusNotFound, "not found"
	case model.KindRender:
		return http.StatusInternalServerError, "screenshot failed"
	case model.KindSanitize:
		return http.StatusInternalServerError, "sanitize failed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// rateLimit rejects clients that exceed their token bucket.
func rateLimit(limiter *worker.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Enabled() {
				return next(c)
			}

			ip := c.RealIP()
			if !limiter.Allow(ip) {
				retry := int(math.Ceil(limiter.RetryAfter(ip).Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		HandleError:  true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogUserAgent: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil {
				ev = logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("user_agent", v.UserAgent).
				Str("cache", c.Response().Header().Get(headerCache)).
				Msg("request")
			return nil
		},
	})
}
