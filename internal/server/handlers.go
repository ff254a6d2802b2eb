package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lendpath/funnel/pkg/compliance"
	"github.com/lendpath/funnel/pkg/enrich/registry"
	"github.com/lendpath/funnel/pkg/enrich/website"
	"github.com/lendpath/funnel/pkg/storage"
)

// writeError maps domain errors to status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidStatus),
		errors.Is(err, storage.ErrMissingEmail),
		errors.Is(err, compliance.ErrMissingWebsite),
		errors.Is(err, website.ErrInvalidDomain),
		errors.Is(err, registry.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrCheckFinalized):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.Log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.DB.GetStats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCreateApplication(c *gin.Context) {
	var a storage.Application
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err.Error())
		return
	}
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"loan_type", a.LoanType},
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"email", a.Email},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		badRequest(c, "missing required fields: "+strings.Join(missing, ", "))
		return
	}

	created, err := s.DB.CreateApplication(c.Request.Context(), &a)
	if err != nil {
		s.Metrics.IncSubmission("error")
		s.writeError(c, err)
		return
	}
	s.Metrics.IncSubmission("created")
	s.Log.Infof("Application %d created for %s", created.ID, created.Email)
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListApplications(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		badRequest(c, "invalid page")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	out, err := s.DB.ListApplications(c.Request.Context(), page, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetApplication(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	a, err := s.DB.GetApplication(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleUpdateApplicationStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	a, err := s.DB.UpdateApplicationStatus(c.Request.Context(), id, strings.TrimSpace(req.Status))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleListApplicationChecks(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.DB.GetApplication(ctx, id); err != nil {
		s.writeError(c, err)
		return
	}
	checks, err := s.DB.ListComplianceChecks(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, checks)
}

func (s *Server) handleCreateCheck(c *gin.Context) {
	var req storage.ComplianceCheck
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !storage.IsCheckType(req.CheckType) {
		badRequest(c, "check_type must be one of website, adverse-media, ai-categorization, comprehensive")
		return
	}
	check, err := s.DB.CreateComplianceCheck(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, check)
}

func (s *Server) handleGetCheck(c *gin.Context) {
	check, err := s.DB.GetComplianceCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) handleUpdateCheck(c *gin.Context) {
	var req storage.ComplianceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	check, err := s.DB.UpdateComplianceCheck(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) handleUpsertUser(c *gin.Context) {
	var req storage.User
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := s.DB.UpsertUser(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
