package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stayalert/internal/microservices/relay"
	"stayalert/internal/telemetry"
)

// RoleLister lists the roles currently registered with the relay.
type RoleLister interface {
	Snapshot() []relay.RoleEntry
}

// LatestReader returns the last reading recorded for a role.
type LatestReader interface {
	Latest(ctx context.Context, role string) (*relay.Reading, error)
}

type Handler struct {
	roles    RoleLister
	latest   LatestReader // nil when no telemetry store keeps readings
	gatherer prometheus.Gatherer
}

func NewHandler(roles RoleLister, latest LatestReader, gatherer prometheus.Gatherer) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{roles: roles, latest: latest, gatherer: gatherer}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/healthz", h.Health)
	r.GET("/roles", h.Roles)
	r.GET("/readings/:role/latest", h.LatestReading)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// NewRouter returns a gin engine with the admin routes mounted.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Roles returns every registered role with its connection.
func (h *Handler) Roles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"roles": h.roles.Snapshot()})
}

// LatestReading returns the last reading reported by the given role.
func (h *Handler) LatestReading(c *gin.Context) {
	if h.latest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reading telemetry is disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	role := strings.ToUpper(c.Param("role"))
	reading, err := h.latest.Latest(ctx, role)
	if errors.Is(err, telemetry.ErrNoReading) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reading for role " + role})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reading": reading})
}
