package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"surveyflat/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads submissions from a local JSON file: an array of objects, an array
// nested under dataPath, or one object per line (NDJSON). Key order is kept.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to a JSON array or NDJSON file"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Required: false, Help: "Dot-separated path to the array (e.g., 'data.items'). Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.SourceSchema, error) {
	records, err := sample(ctx, s, cfg, discoverSample)
	if err != nil {
		return nil, err
	}
	return etl.InferSchema(records), nil
}

func (s *jsonFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if err := readJSONFile(ctx, cfg, func(rec etl.Record) bool { return send(ctx, out, rec) }); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// readJSONFile decodes records one at a time; emit returns false to stop.
func readJSONFile(ctx context.Context, cfg etl.SourceConfig, emit func(etl.Record) bool) error {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return fmt.Errorf("filePath is required")
	}
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	defer f.Close()
	br := bufio.NewReader(f)

	if dataPath := cfg.String("dataPath"); dataPath != "" {
		var root etl.Value
		if err := json.NewDecoder(br).Decode(&root); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		arr, err := navigate(root, dataPath)
		if err != nil {
			return err
		}
		if arr.Kind() != etl.KindList {
			return fmt.Errorf("data path %q is not an array", dataPath)
		}
		for i, item := range arr.Items() {
			if item.Kind() != etl.KindObject {
				return fmt.Errorf("record %d is not an object", i)
			}
			if !emit(etl.NewRecord(item.Object())) {
				return nil
			}
		}
		return nil
	}

	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	}
	for i := 0; ; i++ {
		if first == '[' && !dec.More() {
			return nil
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if first != '[' && errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("parse json: record %d: %w", i, err)
		}
		rec, err := etl.ParseRecord(raw)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if ctx.Err() != nil || !emit(rec) {
			return nil
		}
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
