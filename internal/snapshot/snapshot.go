// Package snapshot persists versioned wrapper state records as
// zstd-compressed files: one JSON header line followed by the JSON record.
package snapshot

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/delayenv"
)

//go:embed state.schema.json
var schemaText string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Header is the first line of the stream so tools can peek at a record
// without decoding the body.
type Header struct {
	Version   int    `json:"version"`
	Tick      int    `json:"tick"`
	EpisodeID string `json:"episode_id,omitempty"`
}

// Record is everything needed to rebuild a wrapper and resume it.
type Record struct {
	Header          Header         `json:"header"`
	EnvID           string         `json:"env_id"`
	MaxEpisodeSteps int            `json:"max_episode_steps"`
	Delay           delay.Config   `json:"delay"`
	State           delayenv.State `json:"state"`
}

// NewRecord builds a record around st.
func NewRecord(envID string, maxEpisodeSteps int, cfg delay.Config, episodeID string, st delayenv.State) Record {
	if mode, err := delay.ParseMode(string(cfg.Mode)); err == nil {
		cfg.Mode = mode
	}
	return Record{
		Header:          Header{Version: st.Version, Tick: st.Tick, EpisodeID: episodeID},
		EnvID:           envID,
		MaxEpisodeSteps: maxEpisodeSteps,
		Delay:           cfg,
		State:           st,
	}
}

// Validate checks raw JSON against the embedded record schema.
func Validate(raw []byte) error {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("state.schema.json", schemaText)
	})
	if schemaErr != nil {
		return fmt.Errorf("compile state schema: %w", schemaErr)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode state record: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("state record: %w", err)
	}
	return nil
}

// WriteFile writes rec to path, creating parent directories.
func WriteFile(path string, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}
	if err := Validate(body); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)

	hb, _ := json.Marshal(rec.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := bw.Write(body); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadFile reads and validates a record written by WriteFile.
func ReadFile(path string) (Record, error) {
	var rec Record
	f, err := os.Open(path)
	if err != nil {
		return rec, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return rec, err
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	if _, err := br.ReadBytes('\n'); err != nil {
		return rec, fmt.Errorf("read header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return rec, err
	}
	if err := Validate(body); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return rec, fmt.Errorf("decode state record: %w", err)
	}
	return rec, nil
}

// PathFor returns the conventional location of an episode's start record.
func PathFor(dir, episodeID string) string {
	return filepath.Join(dir, "snapshots", episodeID+".state.zst")
}
