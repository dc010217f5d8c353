package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

// sseObserver writes each workflow step as a Server-Sent Event.
type sseObserver struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (o *sseObserver) send(event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "event: %s\ndata: %s\n\n", event, data)
	o.flusher.Flush()
}

func (o *sseObserver) OnStep(s workflow.Step)   { o.send("step", s) }
func (o *sseObserver) OnFinish(workflow.Result) {}

// handleFixStream runs a fix and streams every iteration as a "step" event,
// followed by a single "done" event carrying the full response.
func (s *Server) handleFixStream(c *gin.Context) {
	req, ok := bindFix(c)
	if !ok {
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	obs := &sseObserver{w: w, flusher: flusher}
	opts := s.opts.Workflow
	opts.Observer = workflow.Observers(opts.Observer, obs)
	engine := workflow.New(opts)

	start := time.Now()
	res := engine.FixCode(c.Request.Context(), *req.Code, req.Issues, req.MaxIterations)
	id := s.persist(c.Request.Context(), req.Source, res, time.Since(start))

	obs.send("done", fixResponse{
		ID:     id,
		Diff:   report.UnifiedDiff(req.Source, res.OriginalCode, res.FixedCode),
		Result: res,
	})
}
