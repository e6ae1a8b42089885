// Package statusui serves a small HTTP status endpoint over the core's
// live state: node/edge/dead-state counts and the last edge-batch flush
// time as JSON at /api/summary, plus a static HTML page at / showing the
// same summary counts. Grounded on the teacher's
// webui.Server: same graceful-shutdown http.Server lifecycle
// (NewServer/Start/Shutdown), trimmed down from its flame-graph and
// reference-graph analysis surface (api/flamegraph, api/refgraph/*,
// api/retainers, ...), none of which applies to a block/state graph
// builder. Those loaders (flamegraph.FlameGraph, collapsed stack
// parsing, heap retainer analysis) are specific to the teacher's
// post-mortem profiling domain and have no SPEC_FULL.md component to
// bind to; see DESIGN.md.
package statusui

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/lokegustafsson/ambacore/internal/graphview"
	"github.com/lokegustafsson/ambacore/internal/plugin"
	"github.com/lokegustafsson/ambacore/pkg/utils"
)

// Summary is the JSON body served at /api/summary.
type Summary struct {
	NodeCount        int       `json:"nodeCount"`
	EdgeCount        int       `json:"edgeCount"`
	DeadStateCount   int       `json:"deadStateCount"`
	DistinctBlockKeys int      `json:"distinctBlockKeys"`
	Alive            bool      `json:"alive"`
	LastFlush        time.Time `json:"lastFlush,omitempty"`
}

// Server is a minimal status/diagnostics HTTP server over a Boundary and
// the Adjacency reconstructed from its edges.
type Server struct {
	port      int
	logger    utils.Logger
	boundary  *plugin.Boundary
	adjacency *graphview.Adjacency
	server    *http.Server
}

// NewServer constructs a status server. adjacency may be nil if the
// caller does not want edges mirrored into an in-memory graph view; the
// /api/summary endpoint then reports zero node/edge counts.
func NewServer(port int, boundary *plugin.Boundary, adjacency *graphview.Adjacency, logger utils.Logger) *Server {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Server{port: port, logger: logger, boundary: boundary, adjacency: adjacency}
}

// Start builds the route table and begins serving. It blocks, like
// http.Server.ListenAndServe, until Shutdown is called or an
// unrecoverable error occurs.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/", s.handleIndex)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("ambacore: status server listening on http://localhost:%d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) summary() Summary {
	sum := Summary{}
	if s.boundary != nil {
		sum.Alive = s.boundary.Alive().Load()
		sum.DeadStateCount = s.boundary.DeadStatesCount()
		sum.LastFlush = s.boundary.LastFlush()
		sum.DistinctBlockKeys = s.boundary.TranslationStats().DistinctKeys
	}
	if s.adjacency != nil {
		stats := s.adjacency.GetStats()
		sum.NodeCount = stats.NodeCount
		sum.EdgeCount = stats.EdgeCount
	}
	return sum
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.summary()); err != nil {
		s.logger.Error("ambacore: failed to encode summary: %v", err)
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>ambacore status</title></head>
<body>
<h1>ambacore</h1>
<ul>
<li>alive: {{.Alive}}</li>
<li>nodes: {{.NodeCount}}</li>
<li>edges: {{.EdgeCount}}</li>
<li>dead states: {{.DeadStateCount}}</li>
<li>distinct block keys: {{.DistinctBlockKeys}}</li>
<li>last flush: {{.LastFlush}}</li>
</ul>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.summary()); err != nil {
		s.logger.Error("ambacore: failed to execute index template: %v", err)
	}
}
