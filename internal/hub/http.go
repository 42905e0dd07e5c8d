package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/dyluth/warren/pkg/comms"
)

// ServerOptions configures the HTTP transport.
type ServerOptions struct {
	// RequestRate caps requests per second per agent (or per client IP when no
	// agent is named). Zero disables throttling.
	RequestRate  float64
	RequestBurst int
}

// Server exposes a Hub over HTTP/JSON.
type Server struct {
	hub    *Hub
	echo   *echo.Echo
	logger *slog.Logger
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Error  string `json:"error,omitempty"`
}

// SendRequest is the body of POST /v1/communications.
type SendRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// ActivityRequest is the body of PUT /v1/agents/:id/activity.
type ActivityRequest struct {
	State  string `json:"state"`
	Detail string `json:"detail"`
}

// StatusRequest is the body of PUT /v1/agents/:id/status.
type StatusRequest struct {
	Status comms.Status `json:"status"`
}

// NewServer builds the HTTP transport for h.
func NewServer(h *Hub, opts ServerOptions) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{hub: h, echo: e, logger: h.logger.With("component", "http")}

	e.Use(middleware.Recover())
	e.Use(s.countRequests)
	if opts.RequestRate > 0 {
		e.Use(s.throttle(opts))
	}

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))

	v1 := e.Group("/v1")
	v1.POST("/agents/register", s.register)
	v1.GET("/agents", s.listAgents)
	v1.POST("/agents/:id/heartbeat", s.heartbeat)
	v1.PUT("/agents/:id/activity", s.setActivity)
	v1.PUT("/agents/:id/status", s.setStatus)
	v1.GET("/agents/:id/messages", s.poll)
	v1.POST("/communications", s.send)
	v1.GET("/communications", s.recent)
	v1.DELETE("/communications", s.clear)
	v1.GET("/stats", s.stats)

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if c.Path() == "/healthz" || c.Path() == "/metrics" {
			return err
		}
		s.hub.CountCall()
		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
		}
		s.hub.metrics.ObserveRequest(c.Path(), strconv.Itoa(status))
		return err
	}
}

func (s *Server) throttle(opts ServerOptions) echo.MiddlewareFunc {
	burst := opts.RequestBurst
	if burst <= 0 {
		burst = int(opts.RequestRate) + 1
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(opts.RequestRate),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if id := c.Param("id"); id != "" {
				return "agent:" + id, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return writeError(c, fmt.Errorf("%w: too many requests from %s", comms.ErrRateLimitExceeded, identifier))
		},
	})
}

func writeError(c echo.Context, err error) error {
	return c.JSON(comms.HTTPStatus(err), ErrorResponse{Error: err.Error(), Code: comms.Code(err)})
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", comms.ErrMalformedRequest, fmt.Sprintf(format, args...))
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Store: "none"}
	if s.hub.store != nil {
		resp.Store = "connected"
		if err := s.hub.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Store = "disconnected"
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) register(c echo.Context) error {
	var reg comms.Registration
	if err := c.Bind(&reg); err != nil {
		return writeError(c, malformed("invalid registration body"))
	}
	ack, err := s.hub.Register(reg)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ack)
}

func (s *Server) listAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.ListAgents())
}

func (s *Server) heartbeat(c echo.Context) error {
	ack, err := s.hub.Heartbeat(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ack)
}

func (s *Server) setActivity(c echo.Context) error {
	var req ActivityRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, malformed("invalid activity body"))
	}
	agent, err := s.hub.SetActivity(c.Param("id"), req.State, req.Detail)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

func (s *Server) setStatus(c echo.Context) error {
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, malformed("invalid status body"))
	}
	agent, err := s.hub.SetStatus(c.Param("id"), req.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

func (s *Server) poll(c echo.Context) error {
	req := PollRequest{AgentID: c.Param("id")}

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeError(c, malformed("limit must be a non-negative integer"))
		}
		req.Limit = n
	}
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return writeError(c, malformed("after must be a sequence number"))
		}
		req.After = n
	}
	if v := c.QueryParam("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return writeError(c, malformed("wait must be a duration such as 10s"))
		}
		req.Wait = d
	}

	msgs, err := s.hub.Poll(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, malformed("invalid send body"))
	}
	receipt, err := s.hub.Reply(req.FromAgent, req.ToAgent, req.InReplyTo, req.Body)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

func (s *Server) recent(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeError(c, malformed("limit must be a non-negative integer"))
		}
		limit = n
	}
	return c.JSON(http.StatusOK, s.hub.Recent(limit))
}

func (s *Server) clear(c echo.Context) error {
	s.hub.Clear()
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Stats())
}
