// Copyright 2025 CanvasFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package circuitbreaker

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler exposes read-only circuit state for dashboards.
type Handler struct {
	breaker *Breaker
}

// NewHandler creates a new circuit breaker handler.
func NewHandler(b *Breaker) *Handler {
	return &Handler{breaker: b}
}

// RegisterRoutes registers circuit breaker routes with a mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/circuit-breakers", h.list).Methods("GET")
	r.HandleFunc("/api/v1/circuit-breakers/{provider}", h.get).Methods("GET")
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"failure_threshold": h.breaker.config.FailureThreshold,
		"cool_down_seconds": h.breaker.config.CoolDown.Seconds(),
		"circuits":          h.breaker.Snapshots(),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	writeJSON(w, h.breaker.Snapshot(provider))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
