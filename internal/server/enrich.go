package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lendpath/funnel/pkg/compliance"
	"github.com/lendpath/funnel/pkg/enrich/website"
)

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured"})
}

// upstreamError reports a failed third-party call.
func (s *Server) upstreamError(c *gin.Context, err error) {
	s.Log.Warnf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

func (s *Server) handleRegistrySearch(c *gin.Context) {
	if s.Enrichment.Registry == nil {
		unavailable(c, "business registry search")
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, "q is required")
		return
	}
	matches, err := s.Enrichment.Registry.Search(c.Request.Context(), q)
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	if matches == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, matches)
}

func (s *Server) handleAddressAutocomplete(c *gin.Context) {
	if s.Enrichment.Address == nil {
		unavailable(c, "address autocomplete")
		return
	}
	suggestions, err := s.Enrichment.Address.Autocomplete(c.Request.Context(), c.Query("text"))
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	if suggestions == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

func (s *Server) handleWebsiteCheck(c *gin.Context) {
	if s.Enrichment.Website == nil {
		unavailable(c, "website scraping")
		return
	}
	var req struct {
		Website string `json:"website"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	md, err := s.Enrichment.Website.Scrape(c.Request.Context(), req.Website)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, md)
}

func (s *Server) handleNewsCheck(c *gin.Context) {
	if s.Enrichment.News == nil {
		unavailable(c, "news search")
		return
	}
	var req struct {
		BusinessName string `json:"businessName"`
		Domain       string `json:"domain"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.BusinessName) == "" && strings.TrimSpace(req.Domain) == "" {
		badRequest(c, "businessName or domain is required")
		return
	}
	domain := req.Domain
	if domain != "" {
		d, err := website.NormalizeDomain(domain)
		if err != nil {
			s.writeError(c, err)
			return
		}
		domain = d
	}
	articles, err := s.Enrichment.News.Search(c.Request.Context(), req.BusinessName, domain)
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles, "count": len(articles)})
}

func (s *Server) handleCategorize(c *gin.Context) {
	if s.Enrichment.AI == nil {
		unavailable(c, "AI analysis")
		return
	}
	var req struct {
		BusinessName string `json:"businessName"`
		Text         string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.BusinessName) == "" {
		badRequest(c, "text or businessName is required")
		return
	}
	cat, err := s.Enrichment.AI.Categorize(c.Request.Context(), req.BusinessName, req.Text)
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

// handleComprehensive records a pending check and answers 202 right away; the
// check itself runs in the background.
func (s *Server) handleComprehensive(c *gin.Context) {
	if s.Dispatcher == nil {
		unavailable(c, "compliance checking")
		return
	}
	var req compliance.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.BusinessWebsite) != "" {
		if _, err := website.NormalizeDomain(req.BusinessWebsite); err != nil {
			s.writeError(c, err)
			return
		}
	}
	check, err := s.Dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, check)
}
