package main

import (
	"time"

	"github.com/cppla/filedrop/config"
	"github.com/cppla/filedrop/ledger"
	"github.com/cppla/filedrop/models"
	"github.com/cppla/filedrop/registry"
	"github.com/cppla/filedrop/routes"
	"github.com/cppla/filedrop/storage"
	"github.com/cppla/filedrop/sweeper"
	"github.com/cppla/filedrop/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.User{}, &models.File{}, &models.DownloadLog{})

	store, err := storage.NewDiskStore(cfg.UploadDir)
	if err != nil {
		utils.Sugar.Fatalf("init storage: %v", err)
	}
	reg := registry.New(db)
	led := ledger.New(db)

	// Background lifecycle sweeps: runs once now, then on the configured interval
	sw := sweeper.New(reg, led, store,
		time.Duration(cfg.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.RetentionDays)*24*time.Hour,
		time.Duration(cfg.LogRetentionDays)*24*time.Hour,
	)
	sw.Start()

	r := routes.SetupRouter(db, reg, led, store)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, sw.Stop); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
