package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/summary", s.handleSummary)
	mux.HandleFunc("/condition", s.handleCondition)
	mux.HandleFunc("/arc", s.handleARC)
	mux.HandleFunc("/pings", s.handlePings)
	mux.HandleFunc("/manifest", s.handleManifest)
	mux.HandleFunc("/record-types", s.handleRecordTypes)
	mux.HandleFunc("/artifacts", s.handleArtifactList)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	return mux
}
