// Package main provides a metadata inspection tool for point-cloud
// files. It runs the cheap header-only scan (no point materialisation),
// prints the structural metadata, and can record the result into a
// sqlite scan catalog for later querying.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/seabed-data/cloudio/internal/cloud"
	"github.com/seabed-data/cloudio/internal/cloud/asciireader"
	"github.com/seabed-data/cloudio/internal/cloud/catalog"
	"github.com/seabed-data/cloudio/internal/cloud/format"
	"github.com/seabed-data/cloudio/internal/cloud/pcd"
)

// Config holds the tool configuration parsed from flags.
type Config struct {
	Input  string
	Fields string
	Sep    string
	Offset int64
	DBPath string
	Recent int
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.Input, "in", "", "input point-cloud file (.pcd parsed by header; anything else needs -fields)")
	flag.StringVar(&cfg.Fields, "fields", "", "schema for delimited text input, e.g. x:f32,y:f32,z:f32")
	flag.StringVar(&cfg.Sep, "sep", asciireader.DefaultSepChars, "separator characters for delimited text input")
	flag.Int64Var(&cfg.Offset, "offset", 0, "byte offset at which file content begins (e.g. 512 inside a tar archive)")
	flag.StringVar(&cfg.DBPath, "db", "", "optional scan catalog database; records this scan when set")
	flag.IntVar(&cfg.Recent, "recent", 0, "with -db: also list the N most recent catalog entries")
	flag.Parse()

	if cfg.Input == "" && cfg.Recent == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if cfg.Input != "" {
		if err := inspect(cfg); err != nil {
			log.Fatalf("inspect %s: %v", cfg.Input, err)
		}
	}

	if cfg.DBPath != "" && cfg.Recent > 0 {
		if err := listRecent(cfg.DBPath, cfg.Recent); err != nil {
			log.Fatalf("list catalog %s: %v", cfg.DBPath, err)
		}
	}
}

func inspect(cfg Config) error {
	reader, err := readerFor(cfg)
	if err != nil {
		return err
	}

	hdr, err := reader.ReadHeader(cfg.Input, cfg.Offset)
	if err != nil {
		return err
	}

	fmt.Printf("file:        %s\n", cfg.Input)
	fmt.Printf("points:      %d\n", hdr.PointCount)
	fmt.Printf("stride:      %d bytes\n", hdr.Stride)
	fmt.Printf("payload:     %d bytes\n", hdr.PointCount*hdr.Stride)
	fmt.Printf("data kind:   %s\n", hdr.DataKind)
	fmt.Printf("data offset: %d\n", hdr.DataOffset)
	fmt.Printf("version:     %d\n", hdr.Version)
	fmt.Printf("fields:      %s\n", catalog.RenderFields(hdr.Fields))
	fmt.Printf("origin:      (%g, %g, %g)\n", hdr.Pose.Origin.X, hdr.Pose.Origin.Y, hdr.Pose.Origin.Z)
	fmt.Printf("orientation: (%g, %g, %g, %g)\n", hdr.Pose.Orientation.Real,
		hdr.Pose.Orientation.Imag, hdr.Pose.Orientation.Jmag, hdr.Pose.Orientation.Kmag)

	if cfg.DBPath != "" {
		db, err := catalog.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		id, err := db.Record(cfg.Input, filepath.Ext(cfg.Input), hdr)
		if err != nil {
			return err
		}
		log.Printf("recorded scan %s in %s", id, cfg.DBPath)
	}
	return nil
}

// readerFor selects the reader by extension: .pcd files are
// self-describing, everything else is delimited text and needs -fields.
func readerFor(cfg Config) (format.Reader, error) {
	if strings.EqualFold(filepath.Ext(cfg.Input), ".pcd") {
		return pcd.NewReader(), nil
	}

	if cfg.Fields == "" {
		return nil, fmt.Errorf("delimited text input needs -fields")
	}
	fields, err := cloud.ParseFieldSpec(cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("parse -fields: %w", err)
	}

	reader := asciireader.New()
	if err := reader.SetFields(fields); err != nil {
		return nil, err
	}
	if err := reader.SetSepChars(cfg.Sep); err != nil {
		return nil, err
	}
	reader.SetExtension(filepath.Ext(cfg.Input))
	return reader, nil
}

func listRecent(dbPath string, n int) error {
	db, err := catalog.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.Recent(n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-30s %8d points  %s\n",
			e.ScannedAt.Format("2006-01-02 15:04:05"), e.Path, e.PointCount, e.Fields)
	}
	return nil
}
