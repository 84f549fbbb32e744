package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/riveruniversity/mp-print/internal/model"
	"github.com/riveruniversity/mp-print/internal/submit"
)

// submitLabelWire is one label as received on the wire (spec §6's submit
// body shape).
type submitLabelWire struct {
	PrinterName string `json:"printerName"`
	HTMLContent string `json:"htmlContent"`
	PrintMedia  string `json:"printMedia"`
	Margin      struct {
		Top    string `json:"top"`
		Right  string `json:"right"`
		Bottom string `json:"bottom"`
		Left   string `json:"left"`
	} `json:"margin"`
	MPGroup     string `json:"mpGroup"`
	Width       string `json:"width"`
	Height      string `json:"height"`
	Orientation string `json:"orientation"`
	Copies      int    `json:"copies"`
	UserID      int64  `json:"userId"`
	Name        string `json:"name"`
}

type submitRequestWire struct {
	Labels   []submitLabelWire `json:"labels"`
	Metadata struct {
		Priority string `json:"priority"`
	} `json:"metadata"`
}

// handleSubmit implements POST /api/print/submit.
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	started := time.Now()

	var wire submitRequestWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return
	}

	batch := submit.BatchInput{Priority: model.Priority(wire.Metadata.Priority)}
	for _, l := range wire.Labels {
		batch.Labels = append(batch.Labels, submit.LabelInput{
			PrinterName: l.PrinterName,
			HTMLBase64:  l.HTMLContent,
			Width:       l.Width,
			Height:      l.Height,
			Margins: model.Margins{
				Top: l.Margin.Top, Right: l.Margin.Right,
				Bottom: l.Margin.Bottom, Left: l.Margin.Left,
			},
			Orientation: model.Orientation(l.Orientation),
			Copies:      l.Copies,
			UserID:      l.UserID,
			Name:        l.Name,
			Media:       model.MediaClass(l.PrintMedia),
			Group:       l.MPGroup,
		})
	}

	result, err := a.submit.Submit(r.Context(), batch)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	switch result.Outcome {
	case submit.OutcomePartial:
		status = http.StatusMultiStatus
	case submit.OutcomeAllFailed:
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]interface{}{
		"successfulJobs": result.SuccessfulJobs,
		"failedLabels":   result.FailedLabels,
		"outcome":        result.Outcome,
		"processingTime": time.Since(started).String(),
	})
}

// handleStatus implements GET /api/print/status/:jobId.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/api/print/status/")
	if jobID == "" {
		writeError(w, http.StatusNotFound, "job id required")
		return
	}
	job, ok := a.queue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

// handleMetrics implements GET /api/print/metrics.
func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := a.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": snap,
		"performance": map[string]interface{}{
			"meanProcessingMs": snap.MeanProcessingMs,
			"goroutines":       runtime.NumGoroutine(),
		},
		"timestamp": time.Now().UTC(),
	})
}

// handlePrinters implements GET /api/print/printers.
func (a *API) handlePrinters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	a.registry.Discover(ctx)
	if ctx.Err() != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"printers": []model.PrinterRecord{},
			"warning":  "discovery timed out",
		})
		return
	}

	printers := a.registry.List()
	online := 0
	for _, p := range printers {
		if p.Status == model.PrinterOnline {
			online++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"printers":       printers,
		"totalPrinters":  len(printers),
		"onlinePrinters": online,
	})
}

// handleHealth implements GET /api/print/health.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(a.start).String(),
		"memory": map[string]interface{}{
			"allocBytes":      mem.Alloc,
			"totalAllocBytes": mem.TotalAlloc,
			"sysBytes":        mem.Sys,
			"numGC":           mem.NumGC,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}
