package sources

import (
	"context"
	"fmt"

	"surveyflat/internal/dbclient"
	"surveyflat/internal/etl"
)

// ── Database Source ────────────────────────────────────────
// Reads submissions from a SQL query (sqlite, mysql, postgres). When
// jsonColumn is set, each row's value in that column is the submission
// document; otherwise the row's columns become the record keys.

const defaultFetchSize = 500

type databaseSource struct{}

func init() { etl.RegisterSource(&databaseSource{}) }

func (s *databaseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Database Query",
		ConfigFields: []etl.ConfigField{
			{Key: "connection", Label: "Connection", Type: "connection", Required: true, Help: "driver (sqlite|mysql|postgres), host, port, database, username, passwordKey"},
			{Key: "query", Label: "Query", Type: "textarea", Required: true, Help: "SELECT returning one row per submission"},
			{Key: "jsonColumn", Label: "JSON Column", Type: "string", Required: false, Help: "Column holding the submission JSON"},
			{Key: "fetchSize", Label: "Fetch Size", Type: "string", Required: false, Default: "500"},
		},
	}
}

func (s *databaseSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.SourceSchema, error) {
	records, err := sample(ctx, s, cfg, discoverSample)
	if err != nil {
		return nil, err
	}
	return etl.InferSchema(records), nil
}

func (s *databaseSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		query := cfg.String("query")
		if query == "" {
			errCh <- fmt.Errorf("query is required")
			return
		}
		conn, pw, err := connection(cfg)
		if err != nil {
			errCh <- err
			return
		}
		db, err := dbclient.OpenSQL(conn, pw)
		if err != nil {
			errCh <- err
			return
		}
		defer db.Close()

		fetchSize := cfg.Int("fetchSize", defaultFetchSize)
		column := cfg.String("jsonColumn")

		page, err := db.Execute(ctx, query, fetchSize)
		if err != nil {
			errCh <- fmt.Errorf("execute: %w", err)
			return
		}
		col := -1
		if column != "" {
			if col = indexOf(page.Columns, column); col < 0 {
				errCh <- fmt.Errorf("column %q not in query result", column)
				return
			}
		}

		for {
			ok, err := emitPage(ctx, out, page, col)
			if err != nil {
				errCh <- err
				return
			}
			if !ok || !page.HasMore {
				return
			}
			page, err = db.FetchMore(ctx, fetchSize)
			if err != nil {
				if ctx.Err() == nil {
					errCh <- fmt.Errorf("fetch more: %w", err)
				}
				return
			}
		}
	}()

	return out, errCh
}

// emitPage sends one record per row. It returns false when ctx is done.
func emitPage(ctx context.Context, out chan<- etl.Record, page *dbclient.QueryPage, jsonCol int) (bool, error) {
	for i, row := range page.Rows {
		var rec etl.Record
		if jsonCol >= 0 {
			var err error
			if rec, err = rowDocument(row[jsonCol]); err != nil {
				return false, fmt.Errorf("row %d: %w", page.TotalFetched-len(page.Rows)+i+1, err)
			}
		} else {
			obj := etl.NewObject()
			for j, col := range page.Columns {
				if j < len(row) {
					obj.Set(col, etl.Scalar(row[j]))
				}
			}
			rec = etl.NewRecord(obj)
		}
		if !send(ctx, out, rec) {
			return false, nil
		}
	}
	return true, nil
}

func rowDocument(v any) (etl.Record, error) {
	switch doc := v.(type) {
	case string:
		return etl.ParseRecord([]byte(doc))
	case []byte:
		return etl.ParseRecord(doc)
	case nil:
		return etl.Record{}, fmt.Errorf("submission column is NULL")
	default:
		return etl.Record{}, fmt.Errorf("submission column holds %T, want JSON text", v)
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
