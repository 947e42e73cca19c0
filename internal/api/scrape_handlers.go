package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/harvest"
	"github.com/JakeFAU/paper-harvester/internal/paper"
)

type scrapeRequest struct {
	Portal          string   `json:"portal"`
	Years           []string `json:"years"`
	Workers         int      `json:"workers"`
	UploadToStorage *bool    `json:"upload_to_storage"`
}

// startScrape handles POST /api/scrape. It answers 202 once the job is
// running, 400 for malformed bodies or unknown portals, and 409 while
// another job holds the running flag.
func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	var body scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req := harvest.Request{
		Source:  paper.SourcePortal1,
		Years:   trimYears(body.Years),
		Workers: body.Workers,
		Upload:  valueOrDefault(body.UploadToStorage, s.opts.DefaultUpload),
	}
	if p := strings.TrimSpace(body.Portal); p != "" {
		req.Source = paper.Source(strings.ToLower(p))
	}

	err := s.jobs.StartJob(req)
	switch {
	case errors.Is(err, harvest.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "a scrape is already running",
			"status": s.jobs.Status(),
		})
		return
	case errors.Is(err, harvest.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, "invalid portal: use portal1, portal2, or both")
		return
	case err != nil:
		s.logger.Error("start scrape failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "Scrape started for " + string(req.Source),
		"status":  s.jobs.Status(),
	})
}

func (s *Server) scrapeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": s.jobs.Status()})
}

// stopScrape raises the stop flag. It does not wait for the job to unwind.
func (s *Server) stopScrape(w http.ResponseWriter, _ *http.Request) {
	if err := s.jobs.RequestStop(); err != nil {
		if errors.Is(err, harvest.ErrNotRunning) {
			writeError(w, http.StatusBadRequest, "no scrape is currently running")
			return
		}
		s.logger.Error("stop scrape failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stop scrape")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stop requested"})
}

func trimYears(in []string) []string {
	var out []string
	for _, y := range in {
		if y = strings.TrimSpace(y); y != "" {
			out = append(out, y)
		}
	}
	return out
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
