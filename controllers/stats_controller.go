package controllers

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/cppla/filedrop/registry"
	"github.com/cppla/filedrop/utils"
)

// StatsController exposes storage statistics for operators.
type StatsController struct {
	reg *registry.Registry
}

// NewStatsController creates the controller.
func NewStatsController(reg *registry.Registry) *StatsController {
	return &StatsController{reg: reg}
}

// GetStats reports active/expired file counts and total stored size.
func (s *StatsController) GetStats(ctx *gin.Context) {
	stats, err := s.reg.Summarize()
	if err != nil {
		utils.Sugar.Errorf("stats: summarize failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to get stats")
		return
	}
	utils.Success(ctx, gin.H{
		"active_files":     stats.ActiveFiles,
		"expired_files":    stats.ExpiredFiles,
		"total_size_bytes": stats.TotalSizeBytes,
		"total_size_human": humanize.Bytes(uint64(stats.TotalSizeBytes)),
	})
}
