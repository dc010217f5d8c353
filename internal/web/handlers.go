package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucasnoah/fixloop/internal/analytics"
	"github.com/lucasnoah/fixloop/internal/db"
	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/review"
	"github.com/lucasnoah/fixloop/internal/rules"
	"github.com/lucasnoah/fixloop/internal/runs"
	"github.com/lucasnoah/fixloop/internal/validate"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

const defaultSource = "snippet.py"

type fixRequest struct {
	Code          *string       `json:"code" binding:"required"`
	Issues        []issue.Issue `json:"issues"`
	MaxIterations int           `json:"max_iterations"`
	Source        string        `json:"source"`
}

type fixResponse struct {
	ID   string `json:"id,omitempty"`
	Diff string `json:"diff,omitempty"`
	workflow.Result
}

type validateRequest struct {
	Code *string `json:"code" binding:"required"`
}

type reviewRequest struct {
	Code          *string `json:"code" binding:"required"`
	Fix           bool    `json:"fix"`
	MaxIterations int     `json:"max_iterations"`
}

type reviewResponse struct {
	ID   string `json:"id,omitempty"`
	Diff string `json:"diff,omitempty"`
	*review.Report
}

type ruleInfo struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bindFix(c *gin.Context) (fixRequest, bool) {
	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return req, false
	}
	if req.MaxIterations < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_iterations must be >= 0"})
		return req, false
	}
	if req.Source == "" {
		req.Source = defaultSource
	}
	return req, true
}

func (s *Server) handleFix(c *gin.Context) {
	req, ok := bindFix(c)
	if !ok {
		return
	}
	start := time.Now()
	res := s.engine.FixCode(c.Request.Context(), *req.Code, req.Issues, req.MaxIterations)
	id := s.persist(c.Request.Context(), req.Source, res, time.Since(start))

	c.JSON(http.StatusOK, fixResponse{
		ID:     id,
		Diff:   report.UnifiedDiff(req.Source, res.OriginalCode, res.FixedCode),
		Result: res,
	})
}

func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, validate.ValidateContext(c.Request.Context(), *req.Code))
}

func (s *Server) handleReview(c *gin.Context) {
	if s.opts.Reviewer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "review is not configured"})
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.MaxIterations < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_iterations must be >= 0"})
		return
	}

	var engine *workflow.Engine
	if req.Fix {
		engine = s.engine
	}
	start := time.Now()
	rep, err := review.ReviewAndFix(c.Request.Context(), s.opts.Reviewer, engine, *req.Code, req.MaxIterations)
	if err != nil {
		s.logger.Error("review failed", "request_id", RequestIDFromContext(c), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	resp := reviewResponse{Report: rep}
	if rep.Fix != nil {
		resp.ID = s.persist(c.Request.Context(), defaultSource, *rep.Fix, time.Since(start))
		resp.Diff = report.UnifiedDiff(defaultSource, rep.Fix.OriginalCode, rep.Fix.FixedCode)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRules(c *gin.Context) {
	var out []ruleInfo
	for _, r := range rules.All() {
		out = append(out, ruleInfo{Name: r.Name, Summary: r.Summary})
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	switch {
	case s.opts.DB != nil:
		list, err := s.opts.DB.ListRuns(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error("list runs", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list runs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": nonNil(list)})
	case s.opts.Runs != nil:
		records, err := s.opts.Runs.List()
		if err != nil {
			s.logger.Error("list runs", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list runs"})
			return
		}
		if len(records) > limit {
			records = records[:limit]
		}
		list := make([]db.Run, 0, len(records))
		for _, rec := range records {
			r := db.RunFromResult(rec.ID, rec.Source, rec.Result, 0)
			r.CreatedAt = rec.CreatedAt
			list = append(list, r)
		}
		c.JSON(http.StatusOK, gin.H{"runs": list})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
	}
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.opts.DB == nil && s.opts.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()
	resp := gin.H{"id": id}
	found := false

	if s.opts.DB != nil {
		run, err := s.opts.DB.GetRun(ctx, id)
		switch {
		case err == nil:
			its, err := s.opts.DB.RunIterations(ctx, id)
			if err != nil {
				s.logger.Error("run iterations", "id", id, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load run"})
				return
			}
			resp["run"] = run
			resp["iterations"] = nonNil(its)
			found = true
		case !errors.Is(err, db.ErrRunNotFound):
			s.logger.Error("get run", "id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load run"})
			return
		}
	}

	if s.opts.Runs != nil {
		rec, err := s.opts.Runs.Get(id)
		switch {
		case err == nil:
			resp["result"] = rec.Result
			if d, err := s.opts.Runs.Diff(id); err == nil && d != "" {
				resp["diff"] = d
			}
			found = true
		case !errors.Is(err, runs.ErrNotFound):
			s.logger.Error("read run", "id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load run"})
			return
		}
	}

	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	if s.opts.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}
	rep, err := analytics.QueryReport(s.opts.DB, c.Query("since"))
	if err != nil {
		s.logger.Error("query stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not compute stats"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// persist records a finished run in the artifact store and the database.
// Failures are logged; the caller's response does not depend on them.
func (s *Server) persist(ctx context.Context, source string, res workflow.Result, dur time.Duration) string {
	if s.opts.Runs == nil && s.opts.DB == nil {
		return ""
	}
	id := runs.NewID()
	saved := false
	if s.opts.Runs != nil {
		if _, err := s.opts.Runs.SaveWithID(id, source, res); err != nil {
			s.logger.Warn("save run artifacts", "id", id, "error", err)
		} else {
			saved = true
		}
	}
	if s.opts.DB != nil {
		if err := s.opts.DB.LogResult(ctx, id, source, res, dur); err != nil {
			s.logger.Warn("log run", "id", id, "error", err)
		} else {
			saved = true
		}
	}
	if !saved {
		return ""
	}
	return id
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
