// Command helmholtzd drives a tri-axial Helmholtz coil over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/helmholtz/internal/config"
	"github.com/banshee-data/helmholtz/internal/db"
	"github.com/banshee-data/helmholtz/internal/monitor"
	"github.com/banshee-data/helmholtz/internal/serialmux"
	"github.com/banshee-data/helmholtz/internal/units"
	"github.com/banshee-data/helmholtz/internal/version"
)

const defaultDBPath = "helmholtz.db"

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Coil configuration file (.json, .yaml or .yml)")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", defaultDBPath, "sqlite database for calibration profiles and device configs (empty disables)")
	profile     = flag.String("profile", "", "Calibration profile to load instead of the config file coefficients")
	fieldUnits  = flag.String("units", units.MilliTesla, "Default field units for the API ("+units.GetValidUnitsString()+")")
	devMode     = flag.Bool("dev", false, "Simulate the relay and the current source")
	history     = flag.Int("history", monitor.DefaultCapacity, "Number of recent readings kept in memory")
	showVersion = flag.Bool("version", false, "Print version and exit")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db", defaultDBPath, "sqlite database path")
		fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*fieldUnits) {
		log.Fatalf("invalid units %q: must be one of %s", *fieldUnits, units.GetValidUnitsString())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(options{
		ConfigPath: *configPath,
		Listen:     *listen,
		DBPath:     *dbPath,
		Profile:    *profile,
		Units:      *fieldUnits,
		Dev:        *devMode,
		History:    *history,
	})
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	if err := a.run(ctx); err != nil {
		log.Fatalf("helmholtzd: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
