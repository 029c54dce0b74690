package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"beamspot-go/internal/acquisition"
	"beamspot-go/internal/command"
	"beamspot-go/internal/config"
	"beamspot-go/internal/ingest"
	"beamspot-go/internal/output"
	"beamspot-go/internal/recorder"
	"beamspot-go/internal/server"
	"beamspot-go/internal/simulator"
	"beamspot-go/internal/store"
)

var (
	// Version is the version number. Typically injected via ldflags.
	Version = "0.3.0"

	// ConfigFileName is the default configuration file
	ConfigFileName = "beamspot.yml"
)

func root() {
	str := `beamspot locates a laser-cooled atom cloud on camera frames and serves the
spot positions to the experiment control software.

Usage:
	beamspot <command> [-config beamspot.yml] [-debug]

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `beamspot is configured by a YAML file (beamspot.yml by default) layered over
built-in defaults. Environment variables prefixed with BEAMSPOT_ override both;
a double underscore separates nesting levels, e.g.
	BEAMSPOT_PIPELINE__SIGNAL_ORDER=50

mkconf writes the defaults to the configuration file, conf prints the
effective configuration.

run starts the acquisition loop together with
	- the HTTP interface on port (web page, /results, /config, /status, /ws)
	- the command socket on command_addr (ECHO, GET_RESULTS, GET_CONFIG, UPDATE,
	  START, GET_IMAGE)

With -debug, frames come from a built-in simulator instead of the camera stream.`
	fmt.Println(str)
}

func loadConfig(args []string) (config.AppConfig, string) {
	fs := flag.NewFlagSet("beamspot", flag.ExitOnError)
	path := fs.String("config", ConfigFileName, "configuration file")
	debug := fs.Bool("debug", false, "use simulated frames")
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if *debug {
		cfg.Debug = true
	}
	return cfg, *path
}

func mkconf(args []string) {
	cfg, path := loadConfig(args)
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yaml.NewEncoder(f).Encode(cfg); err != nil {
		log.Fatal(err)
	}
}

func printconf(args []string) {
	cfg, _ := loadConfig(args)
	if err := yaml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("beamspot version %v\n", Version)
}

func run(args []string) {
	cfg, _ := loadConfig(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := config.NewStore(cfg.Pipeline)
	latest := &acquisition.Latest{}
	consumers := []acquisition.Consumer{latest, output.SeriesWriter{Dir: cfg.OutputDir}}

	var receiver *ingest.Receiver
	var source acquisition.FrameSource
	status := map[string]any{"camera": cfg.Camera, "source": "stream"}
	if cfg.Debug {
		source = simulator.NewSource(ctx, simulator.DefaultScene(), cfg.DebugAcqRate, time.Now().UnixNano())
		status["source"] = "simulator"
	} else {
		var rawRecorder ingest.Recorder
		if cfg.RawLogEnabled {
			writer, err := output.NewRawLogWriter(cfg.RawLogDir, "raw_cbor")
			if err != nil {
				log.Fatalf("failed to start raw log: %v", err)
			}
			log.Printf("recording raw messages to %s", writer.Path())
			rawRecorder = writer
			defer func() {
				if err := writer.Close(); err != nil {
					log.Printf("raw log close failed: %v", err)
				}
			}()
		}
		receiver = ingest.NewReceiver(cfg.Endpoint, cfg.IngestLogEvery, rawRecorder)
		messages, err := receiver.Stream(ctx)
		switch {
		case err == nil:
			source = ingest.NewSource(messages, cfg.FrameTimeout)
		case cfg.IngestFallback && ctx.Err() == nil:
			log.Printf("failed to start ingest: %v; falling back to simulator", err)
			source = simulator.NewSource(ctx, simulator.DefaultScene(), cfg.DebugAcqRate, time.Now().UnixNano())
			status["source"] = "simulator"
		default:
			log.Fatalf("failed to start ingest: %v", err)
		}
	}

	var db *store.Store
	if cfg.DatabasePath != "" {
		var err error
		db, err = store.Open(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		consumers = append(consumers, db)
	}

	opts := server.Options{
		Config:   cfg,
		Pipeline: pipeline,
		Latest:   latest.Get,
	}
	if db != nil {
		opts.History = db.Recent
	}
	web := server.New(opts)
	consumers = append(consumers, web)

	runner := acquisition.NewRunner(source, pipeline, consumers...)
	lastFrame := &acquisition.LastFrame{}
	runner.Observe(lastFrame)
	if cfg.Recorder.Enabled {
		rec := recorder.New(cfg.Recorder.Root, cfg.Recorder.Prefix, true, cfg.Recorder.RecordAll)
		runner.Observe(rec)
	}

	web.SetStatus(func() map[string]any {
		out := make(map[string]any, len(status)+1)
		for k, v := range status {
			out[k] = v
		}
		out["metrics"] = metricsSnapshot(runner, receiver)
		return out
	})

	cmd := &command.Server{
		Addr:     cfg.CommandAddr,
		Camera:   cfg.Camera,
		Pipeline: pipeline,
		Latest:   latest.Get,
		Frame:    lastFrame.Get,
		Rearm:    runner.Rearm,
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx, time.Second); err != nil {
			log.Printf("acquisition stopped: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := cmd.Run(ctx); err != nil {
			log.Printf("command server stopped: %v", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		log.Printf("Starting web UI at http://localhost:%d", cfg.Port)
		if err := web.Run(ctx); err != nil {
			log.Printf("server stopped: %v", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := metricsSnapshot(runner, receiver)
				log.Printf("stats: acquisitions=%v shots=%v failed=%v raw=%v decode_failures=%v",
					m["acquisitions_total"], m["shots_total"], m["failed_shots_total"],
					m["raw_messages_total"], m["decode_failures_total"])
			}
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	wg.Wait()
}

func metricsSnapshot(runner *acquisition.Runner, receiver *ingest.Receiver) map[string]any {
	stats := runner.Stats()
	m := map[string]any{
		"acquisitions_total": stats.Acquisitions,
		"shots_total":        stats.Shots,
		"failed_shots_total": stats.FailedShots,
	}
	if receiver != nil {
		m["raw_messages_total"] = receiver.Received()
		m["decode_failures_total"] = receiver.DecodeFailures()
	}
	return m
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf(args[2:])
	case "conf":
		printconf(args[2:])
	case "run":
		run(args[2:])
	case "version":
		pversion()
	default:
		log.Fatalf("unknown command %q", args[1])
	}
}
