// Package admin serves a read-only HTTP status surface for a running
// session: health, readiness, prometheus metrics and cache views.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/bladectl/internal/cache"
	"github.com/danmuck/bladectl/internal/observability"
	"github.com/danmuck/bladectl/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Source is the session state the admin surface reports on.
type Source interface {
	State() session.State
	Identity() session.Identity
	Pending() int
	Queued() int
	Cache() *cache.Cache
}

var _ Source = (*session.Session)(nil)

type Server struct {
	name     string
	source   Source
	router   *gin.Engine
	log      zerolog.Logger
	appeared time.Time

	http *http.Server
}

type Option func(*options)

type options struct {
	corsOrigins []string
}

// WithCORSOrigins lets browser dashboards on origins read the status routes.
func WithCORSOrigins(origins []string) Option {
	return func(o *options) { o.corsOrigins = normalizeOrigins(origins) }
}

// New builds the router. name labels request metrics.
func New(name string, source Source, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	logger := observability.Component("admin")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	if len(o.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: o.corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		name:     name,
		source:   source,
		router:   r,
		log:      logger,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.name,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.source.State()
		status := http.StatusOK
		if state != session.StateRunning {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": state == session.StateRunning,
			"state": state.String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, sessionView{
			State:    s.source.State().String(),
			Identity: s.source.Identity(),
			Pending:  s.source.Pending(),
			Queued:   s.source.Queued(),
			Cache:    s.source.Cache().Stats(),
		})
	})

	routes := s.router.Group("/cache")
	routes.GET("/routes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"routes": s.source.Cache().Routes()})
	})
	routes.GET("/protocols", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"protocols":   protocolViews(s.source.Cache().FindProtocols(nil)),
			"uncertified": s.source.Cache().UncertifiedProtocols(),
		})
	})
	routes.GET("/protocols/:name", func(c *gin.Context) {
		p, ok := s.source.Cache().Protocol(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "protocol not found"})
			return
		}
		c.JSON(http.StatusOK, newProtocolView(p))
	})
	routes.GET("/authorities", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"authorities": s.source.Cache().Authorities()})
	})
}

// Serve listens on addr until ctx is done, then shuts the listener down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

type sessionView struct {
	State    string           `json:"state"`
	Identity session.Identity `json:"identity"`
	Pending  int              `json:"pending"`
	Queued   int              `json:"queued"`
	Cache    cache.Stats      `json:"cache"`
}

type protocolView struct {
	Name      string               `json:"name"`
	Defaults  cache.AccessDefaults `json:"defaults"`
	Methods   []cache.Method       `json:"methods"`
	Channels  []cache.Channel      `json:"channels"`
	Providers []cache.Provider     `json:"providers"`
}

func newProtocolView(p cache.Protocol) protocolView {
	v := protocolView{
		Name:      p.Name,
		Defaults:  p.Defaults,
		Methods:   make([]cache.Method, 0, len(p.Methods)),
		Channels:  make([]cache.Channel, 0, len(p.Channels)),
		Providers: make([]cache.Provider, 0, len(p.Providers)),
	}
	for _, name := range sortedNames(p.Methods) {
		v.Methods = append(v.Methods, p.Methods[name])
	}
	for _, name := range sortedNames(p.Channels) {
		v.Channels = append(v.Channels, p.Channels[name])
	}
	for _, id := range p.ProviderIDs() {
		v.Providers = append(v.Providers, p.Providers[id])
	}
	return v
}

func protocolViews(list []cache.Protocol) []protocolView {
	out := make([]protocolView, 0, len(list))
	for _, p := range list {
		out = append(out, newProtocolView(p))
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
