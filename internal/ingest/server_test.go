package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/correlate"
	"github.com/hollowport/hollowport/internal/database"
	"github.com/hollowport/hollowport/internal/honeytoken"
	"github.com/hollowport/hollowport/internal/model"
)

func newTestServer(t *testing.T) (*Server, *database.SQLiteDB) {
	t.Helper()
	db, err := database.NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.IngestConfig{
		ListenAddr:  ":0",
		SecretKey:   "0123456789abcdefXXXXXXXX",
		TokenHeader: "X-Honeypot-Token",
	}
	processor := correlate.NewProcessor(db, honeytoken.NewStore(db), nil)
	return NewServer(cfg, processor, db), db
}

func postObservation(t *testing.T, s *Server, token string, obs model.Observation) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(obs)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/events/internal", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Honeypot-Token", token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func validObservation() model.Observation {
	return model.Observation{
		HoneypotID: "ssh-default",
		EventType:  "ssh_auth_attempt",
		Level:      2,
		SourceIP:   "203.0.113.9",
		Details:    map[string]interface{}{"username": "root", "password": "toor"},
	}
}

func TestInternalEventRequiresToken(t *testing.T) {
	s, _ := newTestServer(t)

	w := postObservation(t, s, "", validObservation())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postObservation(t, s, "wrong-token", validObservation())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postObservation(t, s, "0123456789abcdef", validObservation())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInternalEventCreatesIncident(t *testing.T) {
	s, db := newTestServer(t)

	w := postObservation(t, s, "0123456789abcdef", validObservation())
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["event_id"])
	assert.NotEmpty(t, resp["incident_id"])

	event, err := db.GetEvent(resp["event_id"])
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, resp["incident_id"], event.IncidentID)
}

func TestInternalEventValidation(t *testing.T) {
	s, _ := newTestServer(t)

	obs := validObservation()
	obs.SourceIP = ""
	w := postObservation(t, s, "0123456789abcdef", obs)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/events/internal", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Honeypot-Token", "0123456789abcdef")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEventsAndIncidents(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		w := postObservation(t, s, "0123456789abcdef", validObservation())
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events?honeypot_id=ssh-default", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var events struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.Equal(t, 3, events.Total)

	req = httptest.NewRequest(http.MethodGet, "/api/incidents?status=NEW", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var incidents struct {
		Total     int              `json:"total"`
		Incidents []model.Incident `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &incidents))
	require.Equal(t, 1, incidents.Total)
	assert.Equal(t, 3, incidents.Incidents[0].EventCount)
}

func TestListIncidentsRejectsBadStatus(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/incidents?status=OPEN", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateIncidentStatus(t *testing.T) {
	s, db := newTestServer(t)

	w := postObservation(t, s, "0123456789abcdef", validObservation())
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	incidentID := resp["incident_id"]

	body := bytes.NewReader([]byte(`{"status":"RESOLVED"}`))
	req := httptest.NewRequest(http.MethodPut, "/api/incidents/"+incidentID+"/status", body)
	w2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)

	incident, err := db.GetIncident(incidentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, incident.Status)

	body = bytes.NewReader([]byte(`{"status":"CLOSED"}`))
	req = httptest.NewRequest(http.MethodPut, "/api/incidents/"+incidentID+"/status", body)
	w3 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w3, req)
	assert.Equal(t, http.StatusBadRequest, w3.Code)
}

func TestGetMissingIncident(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/incidents/nope", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
