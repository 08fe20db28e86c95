package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/command-bridge/pkg/schema"
)

const httpLogPrefix = "server:http"

// HealthOutput is the body of GET /health.
type HealthOutput struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Version   string          `json:"version"`
	Timestamp string          `json:"timestamp"`
}

// Handler returns the HTTP handler: home page, health, readiness, metrics
// and the exported contract artifacts.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/contract.d.ts", s.handleArtifact("ts", "application/typescript; charset=utf-8"))
	mux.HandleFunc("/contract.schema.json", s.handleArtifact("jsonschema", "application/schema+json"))
	return mux
}

// Health checks the transport and, when configured, the database.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		Status:    "healthy",
		Checks:    map[string]bool{"comms": s.nc != nil && s.nc.IsConnected()},
		Version:   s.contract.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.pool != nil {
		h.Checks["database"] = s.pool.Ping(ctx) == nil
	}
	for _, ok := range h.Checks {
		if !ok {
			h.Status = "unhealthy"
		}
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.Health(ctx)
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (s *Server) handleArtifact(target, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifact, ok := s.contract.Artifacts[target]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Contract-Version", s.contract.Version)
		w.Header().Set("ETag", `"`+s.contract.Hash+`"`)
		if r.Header.Get("If-None-Match") == `"`+s.contract.Hash+`"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write(artifact)
	}
}

// homePageTemplate is the HTML for the bridge home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Command Bridge</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    code { font-size: 0.85rem; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>Command Bridge</h1>
  <p class="meta">Contract, health and exported declarations.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    {{range $name, $ok := .Health.Checks}}
    <p>{{$name}}: {{if $ok}}<span class="stat">OK</span>{{else}}<span class="status-unhealthy">Failed</span>{{end}}</p>
    {{end}}
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Contract</h2>
    <p>Version: <span class="stat">{{.Version}}</span> <code>{{.Hash}}</code></p>
    <p><a href="/contract.d.ts">contract.d.ts</a> | <a href="/contract.schema.json">contract.schema.json</a></p>
  </section>

  <section>
    <h2>Operations</h2>
    {{if not .Model.Operations}}
    <p>No operations registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Operation</th><th>Parameters</th><th>Output</th><th>Error</th></tr>
      </thead>
      <tbody>
        {{range .Model.Operations}}
        <tr>
          <td>{{.Name}}{{if .Description}}<br><span class="meta">{{.Description}}</span>{{end}}</td>
          <td><code>{{fields .Params}}</code></td>
          <td><code>{{.Output}}</code></td>
          <td><code>{{.Error}}</code></td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Channels</h2>
    {{if not .Model.Channels}}
    <p>No channels declared.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Channel</th><th>Payload</th><th>Subscribers</th></tr>
      </thead>
      <tbody>
        {{range .Model.Channels}}
        <tr>
          <td>{{.Name}}{{if .Description}}<br><span class="meta">{{.Description}}</span>{{end}}</td>
          <td><code>{{.Payload}}</code></td>
          <td>{{state .Name}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health  *HealthOutput
	Version string
	Hash    string
	Model   *schema.Model
}

// handleHome returns an HTTP handler for the bridge home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Funcs(template.FuncMap{
		"fields": schema.FormatFields,
		"state": func(channel string) string {
			st, err := s.bus.State(channel)
			if err != nil {
				return err.Error()
			}
			return string(st)
		},
	}).Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Health:  s.Health(ctx),
			Version: s.contract.Version,
			Hash:    s.contract.Hash,
			Model:   s.contract.Model,
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
