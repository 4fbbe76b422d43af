package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lox/croprisk/internal/analysis"
	"github.com/lox/croprisk/internal/api"
	"github.com/lox/croprisk/internal/export"
	"github.com/lox/croprisk/internal/narrative"
	"github.com/lox/croprisk/internal/phase"
	"github.com/lox/croprisk/internal/report"
)

type ServeCmd struct {
	Port string `default:"8080" env:"PORT" help:"HTTP server port."`
}

func (c *ServeCmd) Run(a *app) error {
	if _, err := a.catalog.All(a.ctx); err != nil {
		a.logger.Warn("station catalog unavailable at startup", "error", err)
	}
	server := api.NewServer(a.analyzer, a.catalog, a.narrator, c.Port, a.logger)
	return server.Run(a.ctx)
}

type AnalyzeCmd struct {
	Lat       float64 `required:"" help:"Latitude."`
	Lon       float64 `required:"" help:"Longitude."`
	Crop      string  `required:"" help:"Crop name."`
	Start     int     `required:"" help:"Phase start day of year."`
	End       int     `required:"" help:"Phase end day of year."`
	Years     int     `default:"5" help:"Complete calendar years to analyse."`
	JSON      bool    `name:"json" help:"Print the response as JSON."`
	Narrative bool    `help:"Add a plain-language summary."`
	Export    string  `type:"path" help:"Write per-year indicators to this Parquet file."`
}

func (c *AnalyzeCmd) Run(a *app) error {
	resp, err := a.analyzer.Analyze(a.ctx, analysis.Request{
		Lat:       c.Lat,
		Lon:       c.Lon,
		Crop:      c.Crop,
		Phase:     phase.Window{Start: c.Start, End: c.End},
		YearsBack: c.Years,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", analysis.Message(err), err)
	}
	if c.Narrative {
		resp.Narrative = narrative.Describe(a.ctx, a.narrator, resp, a.logger)
	}
	if c.Export != "" {
		n, err := export.WriteFile(c.Export, resp)
		if err != nil {
			return err
		}
		a.logger.Info("exported per-year indicators", "path", c.Export, "rows", n)
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return report.PrintAnalysis(os.Stdout, resp)
}

type StationsCmd struct {
	Lat float64 `required:"" help:"Latitude."`
	Lon float64 `required:"" help:"Longitude."`
	N   int     `short:"n" default:"5" help:"Number of stations."`
}

func (c *StationsCmd) Run(a *app) error {
	near, err := a.catalog.Nearest(a.ctx, c.Lat, c.Lon, c.N)
	if err != nil {
		return err
	}
	return report.PrintStations(os.Stdout, near)
}

type BackfillCmd struct {
	Lat   float64 `required:"" help:"Latitude."`
	Lon   float64 `required:"" help:"Longitude."`
	Years int     `default:"5" help:"Complete calendar years to fetch."`
}

func (c *BackfillCmd) Run(a *app) error {
	near, err := a.catalog.Nearest(a.ctx, c.Lat, c.Lon, a.stations)
	if err != nil {
		return err
	}
	start, end := analysis.Period(a.clock.Now(), c.Years)
	for _, sd := range near {
		obs, err := a.pipeline.ObservationsFor(a.ctx, sd.Station.ID, start, end)
		if err != nil {
			a.logger.Warn("backfill station failed", "station", sd.Station.ID, "error", err)
			continue
		}
		a.logger.Info("backfilled station", "station", sd.Station.ID, "observations", len(obs))
	}
	return a.ctx.Err()
}

type RefreshCatalogCmd struct{}

func (c *RefreshCatalogCmd) Run(a *app) error {
	stations, err := a.catalog.Refresh(a.ctx)
	if err != nil {
		return err
	}
	fmt.Printf("catalog refreshed: %d stations\n", len(stations))
	return nil
}

type CachePurgeCmd struct{}

func (c *CachePurgeCmd) Run(a *app) error {
	cutoff := a.clock.Now().Add(-a.cacheTTL)
	n, err := a.store.PurgeExpiredCache(a.ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d expired cache entries\n", n)
	return nil
}

type StatusCmd struct {
	Errors int `default:"10" help:"Recent fetch failures to show."`
}

func (c *StatusCmd) Run(a *app) error {
	stats, err := a.store.GetCacheStats(a.ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cache: %d entries, %d bytes", stats.Count, stats.SizeBytes)
	if stats.Count > 0 {
		fmt.Printf(", oldest %s, newest %s", stats.OldestEntry.Format("2006-01-02 15:04"), stats.NewestEntry.Format("2006-01-02 15:04"))
	}
	fmt.Println()

	runs, err := a.store.GetRecentFetchErrors(a.ctx, c.Errors)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recent fetch failures")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s %-8s %-12s attempts=%d %s\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.Provider, r.EntityID, r.Attempts.Int64, r.ErrorMessage.String)
	}
	return nil
}
