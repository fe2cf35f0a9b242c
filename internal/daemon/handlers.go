// Copyright 2025 Tom Barlow
//
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

package daemon

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tombee/parley/internal/mcp"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (d *Daemon) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (d *Daemon) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	if se := mcp.GetServerError(err); se != nil {
		resp.Code = string(se.Code)
	}
	d.writeJSON(w, status, resp)
}

// user extracts the authenticated user identity from the trusted header.
func user(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": d.version,
	})
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, http.StatusOK, d.manager.Status())
}

func (d *Daemon) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := d.manager.AuthorizedTools(r.Context(), user(r), d.isMember)
	if tools == nil {
		tools = []mcp.ToolDefinition{}
	}
	d.writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (d *Daemon) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts := d.manager.AuthorizedPrompts(r.Context(), user(r), d.isMember)
	if prompts == nil {
		prompts = []mcp.PromptDefinition{}
	}
	d.writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": prompts})
}

func (d *Daemon) handleCallTool(w http.ResponseWriter, r *http.Request) {
	if d.limiter != nil && !d.limiter.Allow() {
		d.writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error: "tool call rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
		return
	}

	var req mcp.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Server == "" || req.Tool == "" {
		d.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "server and tool are required"})
		return
	}

	caller := user(r)
	if err := d.manager.AuthorizeCall(r.Context(), caller, req.Server, d.isMember); err != nil {
		status := http.StatusForbidden
		if mcp.IsNotFound(err) {
			status = http.StatusNotFound
		}
		d.writeError(w, status, err)
		return
	}

	resp, err := d.manager.CallTool(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case mcp.IsNotFound(err):
			status = http.StatusNotFound
		case mcp.IsNotConnected(err):
			status = http.StatusServiceUnavailable
		}
		d.writeError(w, status, err)
		return
	}

	d.writeJSON(w, http.StatusOK, resp)
}

func (d *Daemon) handleReload(w http.ResponseWriter, r *http.Request) {
	summary, err := d.Reload(r.Context())
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, err)
		return
	}
	d.writeJSON(w, http.StatusOK, summary)
}
