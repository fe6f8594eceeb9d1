package main

import (
	"context"
	"flag"

	"github.com/phuslu/log"

	"nuha.dev/whereabouts/internal/config"
	"nuha.dev/whereabouts/internal/geo"
	"nuha.dev/whereabouts/internal/ident"
	"nuha.dev/whereabouts/internal/monitor"
	"nuha.dev/whereabouts/internal/reaper"
	"nuha.dev/whereabouts/internal/server"
	"nuha.dev/whereabouts/internal/service"
	"nuha.dev/whereabouts/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.DefaultLogger.Fatal().Err(err).Msg("loading configuration")
	}
	log.DefaultLogger.Level = log.ParseLevel(cfg.LogLevel)

	st, err := store.Open(&store.StoreConfig{Path: cfg.DBPath, Table: cfg.TableName, RowCap: cfg.MaxQueryRows})
	if err != nil {
		log.DefaultLogger.Fatal().Err(err).Msg("opening store")
	}
	defer st.Close()

	if cfg.ResetOnStart {
		if err := st.Reset(context.Background()); err != nil {
			log.DefaultLogger.Fatal().Err(err).Msg("resetting store")
		}
	}

	dir, err := geo.LoadDirectory(cfg.DirectoryPath)
	if err != nil {
		log.DefaultLogger.Fatal().Err(err).Msg("loading location directory")
	}
	resolver := geo.NewResolver(dir, cfg.UnknownTitle)

	stats := &monitor.Stats{}
	minter := ident.NewMinter(st, cfg.IDLength)
	svc := service.New(cfg, st, resolver, minter)
	srv := server.New(cfg, svc, stats)

	rp := reaper.New(st, stats, cfg.ReaperInterval(), cfg.StalenessWindow())
	go rp.Run(context.Background())

	if cfg.MonitorAddr != "" {
		mon := monitor.New(cfg.MonitorAddr, st, stats)
		go func() {
			if err := mon.Run(); err != nil {
				log.DefaultLogger.Error().Err(err).Msg("monitor stopped")
			}
		}()
	}

	if err := srv.Run(); err != nil {
		log.DefaultLogger.Fatal().Err(err).Msg("server stopped")
	}
}
