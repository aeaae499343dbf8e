package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/session"
)

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type resetRequest struct {
	Language string `json:"language"`
}

// handleExecute runs one block of code and streams its chunks back as
// newline-delimited JSON. REST callers get no confirmation round-trip; the
// submission itself is the approval.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Language == "" {
		http.Error(w, `{"error":"language is required"}`, http.StatusBadRequest)
		return
	}

	ch, err := s.interp.Run(r.Context(), req.Language, req.Code)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrSpawnFailed) {
			status = http.StatusBadGateway
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for chunk := range ch {
		if err := enc.Encode(chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.languagesPayload())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if req.Language == "" {
		s.interp.Registry().ResetAll()
	} else {
		s.interp.Registry().Reset(req.Language)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"reset"}`))
}

func (s *Server) handleFilesTree(w http.ResponseWriter, r *http.Request) {
	var tree []protocol.FileNode
	if s.watch != nil {
		tree = s.watch.Tree()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.FilesTreePayload{Tree: tree})
}
