package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/qass/buffercache/internal/schema"
	"github.com/qass/buffercache/internal/ui"
)

// cborMode encodes with Core Deterministic Encoding, so equal record sets
// produce equal bytes.
var cborMode = func() cbor.EncMode {
	m, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cbor encoder initialization failed: " + err.Error())
	}
	return m
}()

// formats lists the values accepted by --format.
const formats = "table, paths, json, yaml or cbor"

// writeRecords renders records in format.
func writeRecords(w io.Writer, records []*schema.Record, format string) error {
	switch format {
	case "", "table":
		rows := make([][]string, len(records))
		for i, r := range records {
			rows[i] = []string{
				r.Path,
				strconv.FormatInt(r.Process, 10),
				strconv.FormatInt(r.Channel, 10),
				time.UnixMilli(r.Timestamp).Format(time.DateTime),
				strconv.FormatInt(r.CompressionFrq, 10),
				strconv.FormatInt(r.CompressionTime, 10),
				strconv.FormatInt(r.SpecCount, 10),
				r.Codec,
			}
		}
		ui.Table(w, []string{"PATH", "PROCESS", "CH", "TIMESTAMP", "FRQ", "TIME", "SPECTRA", "CODEC"}, rows)
	case "paths":
		for _, r := range records {
			fmt.Fprintln(w, r.Path)
		}
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	case "cbor":
		return cborMode.NewEncoder(w).Encode(records)
	default:
		return fmt.Errorf("unknown format %q (want %s)", format, formats)
	}
	return nil
}

// writeFailed renders parked records with their errors.
func writeFailed(w io.Writer, records []*schema.Record, format string) error {
	if format != "" && format != "table" {
		return writeRecords(w, records, format)
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{r.Path, time.Unix(0, r.IndexedAt).Format(time.DateTime), r.Error}
	}
	ui.Table(w, []string{"PATH", "CHECKED", "ERROR"}, rows)
	return nil
}
