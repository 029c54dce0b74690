package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"beamspot-go/internal/acquisition"
	"beamspot-go/internal/config"
	"beamspot-go/internal/ingest"
	"beamspot-go/internal/processing"
	"beamspot-go/internal/recorder"
	"beamspot-go/internal/types"
)

// fileSource serves one file per shot in name order.
type fileSource struct {
	files []string
}

func (s fileSource) NextFrame(_ context.Context, shot int) (types.Frame, error) {
	if shot >= len(s.files) {
		return types.Frame{}, fmt.Errorf("no file for shot %d", shot)
	}
	return readFrame(s.files[shot])
}

func readFrame(path string) (types.Frame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return recorder.ReadFrame(path)
	case ".cbor":
		data, err := os.ReadFile(path)
		if err != nil {
			return types.Frame{}, err
		}
		msg, err := ingest.DecodeMessage(data)
		if err != nil {
			return types.Frame{}, err
		}
		if msg.Type != ingest.TypeImage {
			return types.Frame{}, fmt.Errorf("%s: %s message carries no image", path, msg.Type)
		}
		return msg.Image, nil
	default:
		return types.Frame{}, fmt.Errorf("%s: unsupported file type", path)
	}
}

func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".fits", ".fit", ".fts", ".cbor":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

type shotTrace struct {
	File   string           `json:"file"`
	Result types.ShotResult `json:"result"`
	Trace  processing.Trace `json:"trace"`
}

func main() {
	var (
		path     = flag.String("path", "", "FITS or CBOR file, or a directory of them")
		confPath = flag.String("config", "beamspot.yml", "configuration file for the pipeline settings")
		trace    = flag.Bool("trace", false, "Print the intermediate values of every shot")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("missing -path")
	}
	processing.SetLogger(nil)

	cfg, err := config.Load(*confPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	files, err := listFiles(*path)
	if err != nil {
		log.Fatalf("list files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no frames found in %s", *path)
	}
	cfg.Pipeline.ShotsPerMeasurement = len(files)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *trace {
		pipe, err := processing.New(cfg.Pipeline)
		if err != nil {
			log.Fatal(err)
		}
		traces := make([]shotTrace, 0, len(files))
		for shot, file := range files {
			frame, err := readFrame(file)
			if err != nil {
				log.Printf("%s: %v", file, err)
				continue
			}
			res, tr, err := pipe.ProcessTrace(shot, frame)
			if err != nil {
				log.Printf("%s: %v", file, err)
				continue
			}
			traces = append(traces, shotTrace{File: filepath.Base(file), Result: res, Trace: tr})
		}
		if err := enc.Encode(traces); err != nil {
			log.Fatal(err)
		}
		return
	}

	runner := acquisition.NewRunner(fileSource{files: files}, config.NewStore(cfg.Pipeline))
	rep, err := runner.Acquire(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	if err := enc.Encode(rep); err != nil {
		log.Fatal(err)
	}
}
