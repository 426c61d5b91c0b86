package health

import (
	"encoding/json"
	"net/http"
)

// Pool reports browser session availability; agent.Agent satisfies it.
type Pool interface {
	Available() int
	PoolSize() int
}

type Sessions struct {
	Available int `json:"available"`
	PoolSize  int `json:"pool_size"`
}

type Status struct {
	OK          bool      `json:"ok"`
	Service     string    `json:"service,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Sessions    *Sessions `json:"sessions,omitempty"`
}

// HTTPHandler returns an HTTP handler that reports the health status of the
// service, including session pool availability when a pool is wired in.
func HTTPHandler(service, destination string, pool Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Service: service, Destination: destination}
		if pool != nil {
			st.Sessions = &Sessions{
				Available: pool.Available(),
				PoolSize:  pool.PoolSize(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
