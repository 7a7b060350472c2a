package ingest

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/correlate"
	"github.com/hollowport/hollowport/internal/database"
	"github.com/hollowport/hollowport/internal/logging"
	"github.com/hollowport/hollowport/internal/model"
)

// Server exposes the observation delivery endpoint plus the operator read
// surface over events and incidents. Operator auth/session handling lives
// in the management plane, not here; the internal endpoint is guarded by
// the shared honeypot token.
type Server struct {
	cfg       *config.IngestConfig
	processor *correlate.Processor
	store     *database.SQLiteDB
	engine    *gin.Engine
}

func NewServer(cfg *config.IngestConfig, processor *correlate.Processor, store *database.SQLiteDB) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		processor: processor,
		store:     store,
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")

	api.POST("/events/internal", s.tokenRequired, s.handleInternalEvent)

	api.GET("/events", s.handleListEvents)
	api.GET("/events/:id", s.handleGetEvent)
	api.GET("/incidents", s.handleListIncidents)
	api.GET("/incidents/:id", s.handleGetIncident)
	api.PUT("/incidents/:id/status", s.handleUpdateIncidentStatus)

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Handler returns the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run() error {
	logging.Info("[INGEST] Listening on %s", s.cfg.ListenAddr)
	return s.engine.Run(s.cfg.ListenAddr)
}

func (s *Server) tokenRequired(c *gin.Context) {
	token := c.GetHeader(s.cfg.TokenHeader)
	expected := s.cfg.Token()
	if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid honeypot token"})
		return
	}
	c.Next()
}

func (s *Server) handleInternalEvent(c *gin.Context) {
	var obs model.Observation
	if err := c.ShouldBindJSON(&obs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid observation payload"})
		return
	}
	if obs.HoneypotID == "" || obs.EventType == "" || obs.SourceIP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "honeypot_id, event_type and source_ip are required"})
		return
	}

	event, incident, err := s.processor.Ingest(c.Request.Context(), obs)
	if err != nil {
		logging.Error("[INGEST] Failed to process observation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	resp := gin.H{"status": "ok", "event_id": event.ID}
	if incident != nil {
		resp["incident_id"] = incident.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListEvents(c *gin.Context) {
	filter := database.EventFilter{
		HoneypotID: c.Query("honeypot_id"),
		SourceIP:   c.Query("source_ip"),
		IncidentID: c.Query("incident_id"),
		Level:      intQuery(c, "level"),
		Limit:      intQuery(c, "limit"),
	}
	events, err := s.store.ListEvents(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

func (s *Server) handleGetEvent(c *gin.Context) {
	event, err := s.store.GetEvent(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) handleListIncidents(c *gin.Context) {
	filter := database.IncidentFilter{
		HoneypotID:  c.Query("honeypot_id"),
		SourceIP:    c.Query("source_ip"),
		Status:      c.Query("status"),
		ThreatLevel: intQuery(c, "threat_level"),
		Limit:       intQuery(c, "limit"),
	}
	if filter.Status != "" && !model.ValidStatus(filter.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	incidents, err := s.store.ListIncidents(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "total": len(incidents)})
}

func (s *Server) handleGetIncident(c *gin.Context) {
	incident, err := s.store.GetIncident(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if incident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (s *Server) handleUpdateIncidentStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !model.ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status value"})
		return
	}

	incident, err := s.store.GetIncident(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if incident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}

	if err := s.store.UpdateIncidentStatus(incident.ID, req.Status); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	incident.Status = req.Status
	c.JSON(http.StatusOK, incident)
}

func intQuery(c *gin.Context, name string) int {
	v := c.Query(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
