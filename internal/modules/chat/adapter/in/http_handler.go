package in

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"medq/internal/modules/chat/dto"
	chatin "medq/internal/modules/chat/port/in"
	apperrors "medq/internal/platform/errors"
	"medq/internal/platform/logging"
)

// statusClientClosedRequest reports a request the client gave up on.
const statusClientClosedRequest = 499

type HTTPHandler struct {
	usecase chatin.Usecase
	metrics http.Handler
	logger  *slog.Logger
}

// NewHTTPHandler serves the chat API. metrics may be nil to leave /metrics
// unrouted.
func NewHTTPHandler(usecase chatin.Usecase, metrics http.Handler, logger *slog.Logger) HTTPHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return HTTPHandler{usecase: usecase, metrics: metrics, logger: logger}
}

func (h HTTPHandler) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			h.logger.Debug("http request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	h.Register(e)
	return e
}

func (h HTTPHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.health)
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
	api := e.Group("/api")
	api.GET("/state", h.state)
	api.GET("/suggestions", h.suggestions)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.PUT("/sessions/:id/select", h.selectSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.DELETE("/sessions", h.clearSessions)
	api.GET("/sessions/:id/export", h.exportSession)
	api.POST("/questions", h.ask)
	api.POST("/cancel", h.cancel)
}

func (h HTTPHandler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h HTTPHandler) state(c echo.Context) error {
	out, err := h.usecase.State(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h HTTPHandler) suggestions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"suggestions": h.usecase.Suggestions(c.Request().Context())})
}

func (h HTTPHandler) createSession(c echo.Context) error {
	var input dto.CreateSessionInput
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&input); err != nil {
			return err
		}
	}
	out, err := h.usecase.CreateSession(c.Request().Context(), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h HTTPHandler) getSession(c echo.Context) error {
	out, err := h.usecase.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h HTTPHandler) selectSession(c echo.Context) error {
	out, err := h.usecase.SelectSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h HTTPHandler) deleteSession(c echo.Context) error {
	out, err := h.usecase.DeleteSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h HTTPHandler) clearSessions(c echo.Context) error {
	out, err := h.usecase.ClearSessions(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h HTTPHandler) exportSession(c echo.Context) error {
	out, err := h.usecase.Export(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h HTTPHandler) ask(c echo.Context) error {
	var input dto.AskInput
	if err := c.Bind(&input); err != nil {
		return err
	}
	out, err := h.usecase.Ask(c.Request().Context(), input)
	if err != nil {
		return err
	}
	status := http.StatusAccepted
	if input.Wait {
		status = http.StatusOK
	}
	return c.JSON(status, out)
}

func (h HTTPHandler) cancel(c echo.Context) error {
	if err := h.usecase.CancelCurrent(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleError renders every failure as {"error": msg}.
func (h HTTPHandler) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := err.Error()
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		status = httpErr.Code
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	case errors.Is(err, apperrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrCancelled):
		status = statusClientClosedRequest
		h.logger.Debug("request cancelled", "method", c.Request().Method, "path", c.Path(), "err", err)
	default:
		h.logger.Warn("request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
	}
	if err := c.JSON(status, map[string]string{"error": msg}); err != nil {
		h.logger.Warn("write error response", "err", err)
	}
}
