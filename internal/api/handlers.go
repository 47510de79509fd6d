// Package api provides read-only HTTP handlers for regulator status.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/container-resource-predictor/occupancy/internal/config"
	"github.com/container-resource-predictor/occupancy/internal/cpuregulator"
	"github.com/container-resource-predictor/occupancy/internal/ramregulator"
)

// CoreReporter exposes one CPU regulator's latest state.
type CoreReporter interface {
	Status() cpuregulator.Status
}

// RAMReporter exposes the RAM regulator's latest adjustment.
type RAMReporter interface {
	Status() ramregulator.Snapshot
}

// Handler provides HTTP handlers for the regulator API.
type Handler struct {
	runID string
	cfg   config.Config
	cores []CoreReporter
	ram   RAMReporter
}

// NewHandler creates a new Handler. ram may be nil when RAM regulation is disabled.
func NewHandler(runID string, cfg config.Config, cores []CoreReporter, ram RAMReporter) *Handler {
	return &Handler{runID: runID, cfg: cfg, cores: cores, ram: ram}
}

// ConfigResponse represents the active configuration.
type ConfigResponse struct {
	Profile              string            `json:"profile"`
	CPUEnabled           bool              `json:"cpuEnabled"`
	CPUThreshold         float64           `json:"cpuThreshold"`
	ExcludedCores        []int             `json:"excludedCores"`
	PinCores             bool              `json:"pinCores"`
	RAMEnabled           bool              `json:"ramEnabled"`
	RAMBand              config.TargetBand `json:"ramBand"`
	StepGranularityBytes uint64            `json:"stepGranularityBytes"`
	MaxBlockBytes        uint64            `json:"maxBlockBytes"`
	MaxPoolBytes         uint64            `json:"maxPoolBytes"`
	WorkDuration         string            `json:"workDuration"`
	SleepDuration        string            `json:"sleepDuration"`
}

// StatusResponse represents the current state of all regulators.
type StatusResponse struct {
	RunID     string                 `json:"runId"`
	Cores     []cpuregulator.Status  `json:"cores"`
	RAM       *ramregulator.Snapshot `json:"ram,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// GetConfig handles GET /api/v1/config
func (h *Handler) GetConfig(c *gin.Context) {
	excluded := h.cfg.ExcludedCores
	if excluded == nil {
		excluded = []int{}
	}
	c.JSON(http.StatusOK, ConfigResponse{
		Profile:              string(h.cfg.Profile),
		CPUEnabled:           h.cfg.CPUEnabled,
		CPUThreshold:         h.cfg.CPUThreshold,
		ExcludedCores:        excluded,
		PinCores:             h.cfg.PinCores,
		RAMEnabled:           h.cfg.RAMEnabled,
		RAMBand:              h.cfg.RAMBand,
		StepGranularityBytes: h.cfg.StepGranularityBytes,
		MaxBlockBytes:        h.cfg.MaxBlockBytes,
		MaxPoolBytes:         h.cfg.MaxPoolBytes,
		WorkDuration:         h.cfg.WorkDuration.String(),
		SleepDuration:        h.cfg.SleepDuration.String(),
	})
}

// GetStatus handles GET /api/v1/status
func (h *Handler) GetStatus(c *gin.Context) {
	resp := StatusResponse{
		RunID:     h.runID,
		Cores:     make([]cpuregulator.Status, 0, len(h.cores)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, core := range h.cores {
		resp.Cores = append(resp.Cores, core.Status())
	}
	if h.ram != nil {
		snap := h.ram.Status()
		resp.RAM = &snap
	}
	c.JSON(http.StatusOK, resp)
}

// GetCore handles GET /api/v1/cores/:core
func (h *Handler) GetCore(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("core"))
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "core must be a non-negative integer"})
		return
	}
	for _, core := range h.cores {
		if s := core.Status(); s.Core == id {
			c.JSON(http.StatusOK, s)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "core is not regulated"})
}

// RegisterRoutes registers all regulator API routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/config", h.GetConfig)
		api.GET("/status", h.GetStatus)
		api.GET("/cores/:core", h.GetCore)
	}
}
