// Package main converts delimited ASCII point-cloud files to PCD. The
// input schema comes from -fields; the output encoding from -format.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/seabed-data/cloudio/internal/cloud"
	"github.com/seabed-data/cloudio/internal/cloud/asciireader"
	"github.com/seabed-data/cloudio/internal/cloud/format"
	"github.com/seabed-data/cloudio/internal/cloud/pcd"
)

// Config holds the conversion configuration parsed from flags.
type Config struct {
	Input   string
	Output  string
	Fields  string
	Sep     string
	Offset  int64
	Format  string
	Verbose bool
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.Input, "in", "", "input delimited text file")
	flag.StringVar(&cfg.Output, "out", "", "output PCD file (default: input with .pcd extension)")
	flag.StringVar(&cfg.Fields, "fields", "x:f32,y:f32,z:f32", "input schema, e.g. x:f32,y:f32,z:f32,intensity:u8")
	flag.StringVar(&cfg.Sep, "sep", asciireader.DefaultSepChars, "separator characters for the input")
	flag.Int64Var(&cfg.Offset, "offset", 0, "byte offset at which input content begins")
	flag.StringVar(&cfg.Format, "format", "binary", "output encoding: ascii, binary, or compressed")
	flag.BoolVar(&cfg.Verbose, "v", false, "log progress detail")
	flag.Parse()

	if cfg.Input == "" {
		flag.Usage()
		os.Exit(2)
	}
	if cfg.Output == "" {
		ext := filepath.Ext(cfg.Input)
		cfg.Output = cfg.Input[:len(cfg.Input)-len(ext)] + ".pcd"
	}

	var kind format.DataKind
	switch cfg.Format {
	case "ascii":
		kind = format.ASCII
	case "binary":
		kind = format.Binary
	case "compressed":
		kind = format.BinaryCompressed
	default:
		log.Fatalf("unknown -format %q (want ascii, binary, or compressed)", cfg.Format)
	}

	fields, err := cloud.ParseFieldSpec(cfg.Fields)
	if err != nil {
		log.Fatalf("parse -fields: %v", err)
	}

	reader := asciireader.New()
	if err := reader.SetFields(fields); err != nil {
		log.Fatalf("configure reader: %v", err)
	}
	if err := reader.SetSepChars(cfg.Sep); err != nil {
		log.Fatalf("configure reader: %v", err)
	}
	reader.SetExtension(filepath.Ext(cfg.Input))

	start := time.Now()
	c, pose, _, err := reader.Read(cfg.Input, cfg.Offset)
	if err != nil {
		log.Fatalf("read %s: %v", cfg.Input, err)
	}
	if cfg.Verbose {
		log.Printf("read %d points (%d bytes) from %s in %v",
			c.Points(), len(c.Data), cfg.Input, time.Since(start).Round(time.Millisecond))
	}

	if err := pcd.NewWriter(kind).Write(cfg.Output, c, pose); err != nil {
		log.Fatalf("write %s: %v", cfg.Output, err)
	}
	log.Printf("wrote %d points to %s (%s)", c.Points(), cfg.Output, cfg.Format)
}
