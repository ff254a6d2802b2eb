package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lendpath/funnel/internal/utils"
	"github.com/lendpath/funnel/pkg/ai"
	"github.com/lendpath/funnel/pkg/compliance"
	"github.com/lendpath/funnel/pkg/enrich/address"
	"github.com/lendpath/funnel/pkg/enrich/registry"
	"github.com/lendpath/funnel/pkg/metrics"
	"github.com/lendpath/funnel/pkg/storage"
)

// RegistrySearcher is satisfied by *registry.Client.
type RegistrySearcher interface {
	Search(ctx context.Context, query string) ([]registry.Match, error)
}

// AddressCompleter is satisfied by *address.Client.
type AddressCompleter interface {
	Autocomplete(ctx context.Context, text string) ([]address.Suggestion, error)
}

// Enrichment groups the outbound collaborators. Nil members make their
// routes answer 503.
type Enrichment struct {
	Website  compliance.WebsiteScraper
	News     compliance.NewsSearcher
	AI       ai.Analyzer
	Registry RegistrySearcher
	Address  AddressCompleter
}

type Server struct {
	DB         *storage.DB
	Username   string
	Password   string
	Enrichment Enrichment
	Dispatcher *compliance.Dispatcher
	Metrics    *metrics.Metrics
	Log        logrus.FieldLogger
}

func New(db *storage.DB, user, pass string) *Server {
	return &Server{
		DB:       db,
		Username: user,
		Password: pass,
		Log:      utils.Log,
	}
}

// Router builds the gin engine. Everything under /api sits behind basic auth
// when credentials are configured.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))

	api := r.Group("/api", s.basicAuth())
	api.GET("/stats", s.handleStats)

	apps := api.Group("/applications")
	apps.POST("", s.handleCreateApplication)
	apps.GET("", s.handleListApplications)
	apps.GET("/:id", s.handleGetApplication)
	apps.PATCH("/:id/status", s.handleUpdateApplicationStatus)
	apps.GET("/:id/compliance-checks", s.handleListApplicationChecks)

	checks := api.Group("/compliance-checks")
	checks.POST("", s.handleCreateCheck)
	checks.GET("/:id", s.handleGetCheck)
	checks.PATCH("/:id", s.handleUpdateCheck)

	api.POST("/users/upsert", s.handleUpsertUser)

	api.GET("/registry/search", s.handleRegistrySearch)
	api.GET("/address/autocomplete", s.handleAddressAutocomplete)

	enrich := api.Group("/compliance")
	enrich.POST("/website", s.handleWebsiteCheck)
	enrich.POST("/news", s.handleNewsCheck)
	enrich.POST("/categorize", s.handleCategorize)
	enrich.POST("/comprehensive", s.handleComprehensive)

	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests and
// background compliance checks.
func (s *Server) Start(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Infof("Starting server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if s.Dispatcher != nil {
		s.Dispatcher.Wait()
	}
	return err
}

func (s *Server) basicAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Username == "" && s.Password == "" {
			c.Next()
			return
		}
		user, pass, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.Password)) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.Metrics.ObserveRequest(c.Request.Method, route, status)
		s.Log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}
