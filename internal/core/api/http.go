package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/solatis/dualcheck/internal/protocol"
)

// maxBodySize bounds submission bodies.
const maxBodySize = "64K"

const (
	headerETag        = "ETag"
	headerIfNoneMatch = "If-None-Match"
)

// HTTPOptions configures the HTTP handler.
type HTTPOptions struct {
	// AllowedOrigin is the CORS origin; empty disables CORS.
	AllowedOrigin string
	// RequestTimeout bounds handler execution; zero disables the timeout.
	RequestTimeout time.Duration
}

// NewHTTPHandler returns the echo instance serving the submission API:
//
//	POST /api/submit             authoritative validation
//	GET  /api/validation-config  published client rule sets (ETag)
//	GET  /healthz                liveness
func NewHTTPHandler(svc *SubmissionService, opts HTTPOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = goccySerializer{}
	e.HTTPErrorHandler = svc.httpErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			svc.logger.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodySize))
	if opts.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeout(opts.RequestTimeout))
	}
	if opts.AllowedOrigin != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  []string{opts.AllowedOrigin},
			AllowMethods:  []string{http.MethodGet, http.MethodPost},
			AllowHeaders:  []string{echo.HeaderContentType, protocol.SubmissionIDHeader, headerIfNoneMatch},
			ExposeHeaders: []string{headerETag},
		}))
	}

	e.POST(protocol.SubmitPath, svc.handleSubmit)
	e.GET(protocol.ValidationConfigPath, svc.handleValidationConfig)
	e.GET(protocol.HealthPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

func (s *SubmissionService) handleSubmit(c echo.Context) error {
	id := submissionID(c.Request().Header.Get(protocol.SubmissionIDHeader))

	var raw map[string]any
	if err := c.Echo().JSONSerializer.Deserialize(c, &raw); err != nil {
		s.logger.Info("malformed submission body",
			zap.String("submission_id", string(id)),
			zap.Error(err))
		raw = nil
	}

	out := s.evaluate(c.Request().Context(), id, raw)
	return c.JSON(protocol.StatusFor(out), protocol.EnvelopeFor(out))
}

func (s *SubmissionService) handleValidationConfig(c echo.Context) error {
	c.Response().Header().Set(headerETag, s.configETag)
	if match := c.Request().Header.Get(headerIfNoneMatch); match == s.configETag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, s.configBody)
}

// httpErrorHandler answers every unhandled error with a generic envelope.
// Messages of 5xx errors never leave the server.
func (s *SubmissionService) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := protocol.MsgServerFault
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok && code < http.StatusInternalServerError {
			msg = m
		}
	}
	if code >= http.StatusInternalServerError {
		msg = protocol.MsgServerFault
		s.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err))
	}

	env := protocol.Envelope{Type: protocol.TypeGeneric, Message: msg}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, env)
	}
	if err != nil {
		s.logger.Warn("failed to write error response", zap.Error(err))
	}
}

// goccySerializer implements echo.JSONSerializer with goccy/go-json.
type goccySerializer struct{}

func (goccySerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (goccySerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, protocol.MsgMalformed).SetInternal(err)
	}
	return nil
}
