package coordinator

import (
	"encoding/json"
	"net/http"
)

// Status summarizes the aggregate for operators.
type Status struct {
	Roster      []string `json:"roster"`
	Submissions int      `json:"submissions"`
	Sources     []string `json:"sources"`
	Unavailable []string `json:"unavailable"`
}

// Status returns the current aggregate summary.
func (s *Server) Status() Status {
	agg := s.Aggregate()
	st := Status{
		Roster:      s.Roster(),
		Submissions: agg.Submissions,
		Sources:     agg.Sources,
		Unavailable: agg.Unavailable(s.roster),
	}
	if st.Sources == nil {
		st.Sources = []string{}
	}
	if st.Unavailable == nil {
		st.Unavailable = []string{}
	}
	return st
}

// StatusHandler serves Status as JSON.
func (s *Server) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.Status())
	})
}
