package server

import (
	"net/http"
)

// Dashboard read APIs. Each handler is a thin parameter parse over the
// store; heavier composition lives in the retrieval service.

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stores.Snapshots.Stats(r.Context())
	if err != nil {
		s.storeError(w, "api.stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	heads, err := s.stores.Snapshots.Recent(r.Context(),
		r.URL.Query().Get("project_path"), queryInt(r, "limit", 10))
	if err != nil {
		s.storeError(w, "api.recent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": emptyIfNil(heads)})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	report, err := s.stores.Snapshots.Quality(r.Context(),
		queryInt(r, "min_score", 0), queryInt(r, "limit", 50))
	if err != nil {
		s.storeError(w, "api.quality", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	rows, err := s.stores.Snapshots.ProjectStats(r.Context(), r.URL.Query().Get("project_path"))
	if err != nil {
		s.storeError(w, "api.projects", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": emptyIfNil(rows)})
}

func (s *Server) handleBugs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.stores.Snapshots.Bugs(r.Context(),
		r.URL.Query().Get("category"), queryInt(r, "limit", 50))
	if err != nil {
		s.storeError(w, "api.bugs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bugs": emptyIfNil(rows)})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	rows, err := s.stores.Snapshots.FileActivity(r.Context(),
		r.URL.Query().Get("file_type"), queryInt(r, "min_mentions", 1), queryInt(r, "limit", 30))
	if err != nil {
		s.storeError(w, "api.files", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": emptyIfNil(rows)})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.stores.Snapshots.Decisions(r.Context(),
		r.URL.Query().Get("keyword"), queryInt(r, "limit", 20))
	if err != nil {
		s.storeError(w, "api.decisions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": emptyIfNil(rows)})
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stores.Agents.Stats(r.Context())
	if err != nil {
		s.storeError(w, "api.agents.stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAgentPerformance(w http.ResponseWriter, r *http.Request) {
	rows, err := s.stores.Agents.Performance(r.Context(), r.URL.Query().Get("agent_type"))
	if err != nil {
		s.storeError(w, "api.agents.performance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"performance": emptyIfNil(rows)})
}

func (s *Server) handleAgentTools(w http.ResponseWriter, r *http.Request) {
	rows, err := s.stores.Agents.ToolUsage(r.Context(), r.URL.Query().Get("agent_type"))
	if err != nil {
		s.storeError(w, "api.agents.tools", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": emptyIfNil(rows)})
}

func (s *Server) handleAgentRecent(w http.ResponseWriter, r *http.Request) {
	rows, err := s.stores.Agents.RecentWork(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		s.storeError(w, "api.agents.recent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"work": emptyIfNil(rows)})
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store failure"})
}

// emptyIfNil keeps empty lists as [] instead of null in responses.
func emptyIfNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
