package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/clawinfra/pilink/internal/scheduler"
)

const jobsPrefix = "/api/scheduler/jobs/"

func (s *Server) registerSchedulerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("/api/scheduler/jobs", s.handleSchedulerJobs)
	mux.HandleFunc(jobsPrefix, s.handleSchedulerJobRoutes)
}

// handleSchedulerStatus returns scheduler statistics
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	if s.sched == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": false,
			"message": "Scheduler not enabled",
		})
		return
	}

	writeJSON(w, http.StatusOK, s.sched.GetStats())
}

// handleSchedulerJobs handles /api/scheduler/jobs (list or add)
func (s *Server) handleSchedulerJobs(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		jobs := s.sched.ListJobs()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobs":  jobs,
			"count": len(jobs),
		})
	case http.MethodPost:
		s.handleSchedulerAddJob(w, r)
	default:
		methodNotAllowed(w)
	}
}

// handleSchedulerJobRoutes routes /api/scheduler/jobs/{id}[/run]
func (s *Server) handleSchedulerJobRoutes(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, jobsPrefix)
	run := false
	if id, ok := strings.CutSuffix(jobID, "/run"); ok {
		jobID, run = id, true
	}
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "Job ID required")
		return
	}

	switch {
	case run && r.Method == http.MethodPost:
		s.handleSchedulerRunJob(w, r, jobID)
	case run:
		methodNotAllowed(w)
	case r.Method == http.MethodGet:
		job, err := s.sched.GetJob(jobID)
		if err != nil {
			writeError(w, jobStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, job)
	case r.Method == http.MethodDelete:
		if err := s.sched.RemoveJob(jobID); err != nil {
			writeError(w, jobStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Job removed",
			"job_id":  jobID,
		})
	default:
		methodNotAllowed(w)
	}
}

// handleSchedulerRunJob publishes a job's request immediately
func (s *Server) handleSchedulerRunJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.sched.RunJobNow(r.Context(), jobID); err != nil {
		writeError(w, jobStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Job triggered",
		"job_id":  jobID,
	})
}

// handleSchedulerAddJob adds a new job
func (s *Server) handleSchedulerAddJob(w http.ResponseWriter, r *http.Request) {
	var job scheduler.Job
	if err := decodeBody(r, &job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.sched.AddJob(&job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// answer with a snapshot; the runner owns the stored job now
	added, err := s.sched.GetJob(job.ID)
	if err != nil {
		writeError(w, jobStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Job added",
		"job":     added,
	})
}

func jobStatus(err error) int {
	if errors.Is(err, scheduler.ErrJobNotFound) {
		return http.StatusNotFound
	}
	return statusFor(err)
}
