package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"beamspot-go/internal/ingest"
	"beamspot-go/internal/output"
)

func main() {
	var (
		path    = flag.String("path", "", "Path to rawlog .bin file")
		limit   = flag.Int("limit", 1, "Number of records to dump (0 for all)")
		summary = flag.Bool("summary", false, "Print one line per record instead of the full payload")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	reader, err := output.NewRawLogReader(f)
	if err != nil {
		log.Fatal(err)
	}

	for count := 0; *limit <= 0 || count < *limit; count++ {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatalf("read record: %v", err)
		}
		if len(rec.Payload) == 0 {
			log.Printf("record %d: empty payload", count)
			continue
		}

		if *summary {
			msg, err := ingest.DecodeMessage(rec.Payload)
			if err != nil {
				fmt.Printf("%d %s decode error: %v\n", count, rec.Time.Format(time.RFC3339Nano), err)
				continue
			}
			fmt.Printf("%d %s type=%s shot=%d image=%dx%d %s\n", count, rec.Time.Format(time.RFC3339Nano),
				msg.Type, msg.Shot, msg.Image.Width, msg.Image.Height, msg.Message)
			continue
		}

		var decoded any
		if err := cbor.Unmarshal(rec.Payload, &decoded); err != nil {
			log.Printf("record %d: CBOR decode error: %v", count, err)
			continue
		}

		normalized := output.NormalizeJSONValue(decoded)
		pretty, err := json.MarshalIndent(normalized, "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", count, err)
			continue
		}

		log.Printf("record %d timestamp=%s size=%d", count, rec.Time.Format(time.RFC3339Nano), len(rec.Payload))
		fmt.Println(string(pretty))
	}
}
