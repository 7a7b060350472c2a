package webtrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/logging"
	"github.com/hollowport/hollowport/internal/model"
)

// Server is the HTTP capture engine: it accepts any method on any path,
// records the full request as one observation, and answers with a fixed
// generic page. Captured input is never reflected into the response.
type Server struct {
	cfg  *config.HTTPConfig
	sink model.Sink
	srv  *http.Server
}

func NewServer(cfg *config.HTTPConfig, sink model.Sink) *Server {
	s := &Server{cfg: cfg, sink: sink}
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      http.HandlerFunc(s.handle),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	logging.Info("[HTTP] Capture engine listening on %s (honeypot %s)", s.cfg.ListenAddr, s.cfg.HoneypotID)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	obs := s.buildObservation(r)

	// Delivery is best-effort; a slow or dead correlator must not make the
	// decoy look broken.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.sink.Submit(ctx, obs); err != nil {
		logging.Error("[HTTP] Failed to submit observation: %v", err)
	}

	w.Header().Set("Server", s.cfg.ServerHeader)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, staticPage)
}

func (s *Server) buildObservation(r *http.Request) model.Observation {
	sourceIP := clientIP(r)

	var body string
	if r.Body != nil {
		max := s.cfg.MaxBodyBytes
		if max <= 0 {
			max = 10240
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, int64(max)))
		if err == nil {
			body = string(raw)
		}
	}

	query := map[string]string{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	headers := map[string]string{}
	for k, vs := range r.Header {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "unknown"
	}
	fullURL := fmt.Sprintf("%s://%s%s", scheme, host, r.URL.Path)
	if r.URL.RawQuery != "" {
		fullURL += "?" + r.URL.RawQuery
	}

	queryJSON, _ := json.Marshal(query)
	headersJSON, _ := json.Marshal(headers)
	requestText := strings.Join([]string{
		fullURL,
		r.URL.Path,
		r.URL.RawQuery,
		string(queryJSON),
		string(headersJSON),
		body,
	}, "\n")

	details := map[string]interface{}{
		"method":       r.Method,
		"path":         r.URL.Path,
		"query":        query,
		"query_string": r.URL.RawQuery,
		"user_agent":   r.UserAgent(),
		"headers":      headers,
		"full_url":     fullURL,
		"body_length":  len(body),
	}
	if body != "" {
		details["body"] = body
	}

	// A decoded Basic-Auth pair goes into the request text so the
	// honeytoken scan sees the plaintext, not the base64 form.
	if username, password, ok := r.BasicAuth(); ok {
		details["username"] = username
		details["password"] = password
		requestText += fmt.Sprintf("\nusername=%s\npassword=%s", username, password)
	}
	details["request_text"] = requestText

	return model.Observation{
		HoneypotID: s.cfg.HoneypotID,
		EventType:  "http_connection",
		Level:      model.LevelLow,
		SourceIP:   sourceIP,
		Details:    details,
	}
}

// clientIP is the incident correlation key, so it comes from the TCP peer
// address. X-Forwarded-For is attacker-writable on a directly exposed decoy
// and is only consulted when no remote address is available at all.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return "unknown"
}

// staticPage is intentionally constant: attacker input must never be
// reflected into the response.
const staticPage = `<!DOCTYPE html>
<html>
<head>
<title>Search</title>
<meta charset="utf-8">
<style>
body { font-family: sans-serif; margin: 20px; background-color: #f0f2f5; color: #333; }
.container { background-color: #fff; padding: 20px; border-radius: 8px; max-width: 800px; margin: auto; }
h1 { color: #0056b3; }
.search-input { width: 70%; padding: 10px; border: 1px solid #ccc; border-radius: 4px; }
.search-button { padding: 10px 15px; background-color: #007bff; color: white; border: none; border-radius: 4px; }
.result-item { margin-bottom: 15px; padding: 10px; background-color: #e9ecef; border-radius: 4px; }
</style>
</head>
<body>
<div class="container">
<h1>Search</h1>
<form action="/" method="GET">
<input type="text" name="q" class="search-input" placeholder="Search...">
<button type="submit" class="search-button">Search</button>
</form>
<div class="results">
<p>No results found for your query.</p>
<div class="result-item">
<div>Example Result 1</div>
<div>http://example.com/page1</div>
</div>
<div class="result-item">
<div>Example Result 2</div>
<div>http://example.com/page2</div>
</div>
</div>
</div>
</body>
</html>
`
