package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/ffffffrank/nplab/metrics"
	"github.com/ffffffrank/nplab/scan"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "gridscan.yml"

	// EnvPrefix prefixes environment variables that override the config file
	EnvPrefix = "GRIDSCAN_"
)

// envKeys maps environment variables, less EnvPrefix, onto config keys
var envKeys = map[string]string{
	"ADDR":           "Addr",
	"MOCK":           "Mock",
	"ENDPOINT":       "Endpoint",
	"STAGE_ADDR":     "Stage.Addr",
	"STAGE_UNIT":     "Stage.Unit",
	"STAGE_ENDPOINT": "Stage.Endpoint",
	"SIZEUNIT":       "SizeUnit",
	"STEPUNIT":       "StepUnit",
	"INITUNIT":       "InitUnit",
	"UPDATERATE":     "UpdateRate",
	"DWELL":          "Dwell",
	"METRICS":        "Metrics",
}

// loadConfig layers the defaults, the config file at path, and the environment
func loadConfig(path string) (Config, error) {
	k := koanf.New(".")
	c := Config{}
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return c, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			return c, fmt.Errorf("error loading config: %w", err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return envKeys[strings.TrimPrefix(s, EnvPrefix)]
	}), nil)
	if err != nil {
		return c, err
	}
	err = k.Unmarshal("", &c)
	return c, err
}

func root() {
	str := `gridscan drives a positioning stage through a grid of positions and
measures at every point, walking the grid in snake order.

Usage:
	gridscan <command>

Commands:
	run
	serve
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `gridscan is amenable to configuration via its .yaml file, gridscan.yml, and
environment variables prefixed with GRIDSCAN_ (GRIDSCAN_ADDR, GRIDSCAN_DWELL, ...).
For a primer on YAML, see https://yaml.org/start.html

"gridscan mkconf" writes the default configuration to gridscan.yml.

run performs a single scan in the terminal.  Ctrl-C aborts it; the stage is
returned to the center of the grid before the program exits.

serve exposes the scan controller (under Endpoint, default /scan) and the
stage (under Stage.Endpoint, default /stage) over HTTP.  The stage routes
answer 423 (locked) while a scan is running.  GET /endpoints lists the routes.

Axis identifiers that YAML reads as booleans (Y, N, yes, no, on, off) must be
quoted, e.g. Axis: "Y".  A scan refuses to start if the stage does not have
every axis of the grid.

Units are "nm", "um" and "mm".  Axes are listed fastest first; the last axis
is the slow, outermost one.  Limits are in the stage's units.`
	fmt.Println(str)
}

func mustConfig() Config {
	c, err := loadConfig(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := mustConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := mustConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("gridscan version %v\n", Version)
}

func run() {
	c := mustConfig()
	ctl, _, err := BuildScanner(c)
	if err != nil {
		log.Fatal(err)
	}
	if d, err := ctl.EstimateScanDuration(); err == nil {
		log.Println("estimated scan time", scan.FormatDuration(d))
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := ctl.Start(); err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	finished := make(chan error, 1)
	go func() {
		finished <- ctl.Wait()
	}()

	// the display refreshes on its own clock, independent of the acquisition
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			linear, total := ctl.Progress()
			eta, _ := ctl.EstimatedTimeRemaining()
			spinner.Message(fmt.Sprintf("%d/%d points, %s remaining", linear, total, scan.FormatDuration(eta)))
		case <-sig:
			spinner.Message("aborting, returning to origin")
			ctl.Abort()
		case err := <-finished:
			if err != nil {
				spinner.StopFailMessage(err.Error())
				spinner.StopFail()
				os.Exit(1)
			}
			snap, _ := ctl.State()
			msg := fmt.Sprintf("%d/%d points in %s", snap.Linear, snap.Total, scan.FormatDuration(snap.End.Sub(snap.Begin)))
			if snap.Aborted {
				msg = "aborted after " + msg
			}
			spinner.StopMessage(msg)
			spinner.Stop()
			return
		}
	}
}

func serve() {
	c := mustConfig()
	ctl, _, err := BuildScanner(c)
	if err != nil {
		log.Fatal(err)
	}
	var col *metrics.Collector
	if c.Metrics {
		col = metrics.NewCollector("gridscan")
	}
	mux := BuildMux(c, ctl, col)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "serve":
		serve()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
