package sources

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"surveyflat/internal/domain"
	"surveyflat/internal/etl"
	"surveyflat/internal/secret"
)

// discoverSample bounds how many records Discover reads.
const discoverSample = 100

var (
	secretsMu sync.RWMutex
	secrets   secret.Store = secret.NewEnvStore()
)

// SetSecretStore is called at startup to resolve connection passwords.
func SetSecretStore(s secret.Store) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	secrets = s
}

// connection reads the "connection" object of a source config and resolves
// its password.
func connection(cfg etl.SourceConfig) (*domain.DatabaseConnection, string, error) {
	raw, ok := cfg["connection"].(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("connection is required")
	}
	conn, err := domain.ConnectionFromConfig(raw)
	if err != nil {
		return nil, "", fmt.Errorf("connection: %w", err)
	}
	secretsMu.RLock()
	store := secrets
	secretsMu.RUnlock()
	pw, err := secret.Password(store, conn.PasswordKey)
	if err != nil {
		return nil, "", err
	}
	return conn, pw, nil
}

// send delivers rec unless ctx is done first.
func send(ctx context.Context, out chan<- etl.Record, rec etl.Record) bool {
	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

// sample runs Read and keeps the first n records.
func sample(ctx context.Context, s etl.Source, cfg etl.SourceConfig, n int) ([]etl.Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recCh, errCh := s.Read(ctx, cfg)
	var records []etl.Record
	for rec := range recCh {
		records = append(records, rec)
		if len(records) >= n {
			cancel()
			break
		}
	}
	go func() {
		for range recCh {
		}
	}()
	if err := <-errCh; err != nil && ctx.Err() == nil {
		return records, err
	}
	return records, nil
}

// navigate follows a dot-separated path through nested objects.
func navigate(v etl.Value, dataPath string) (etl.Value, error) {
	for _, part := range strings.Split(dataPath, ".") {
		if v.Kind() != etl.KindObject {
			return etl.Value{}, fmt.Errorf("invalid data path: %q not found", part)
		}
		next, ok := v.Object().Get(part)
		if !ok {
			return etl.Value{}, fmt.Errorf("invalid data path: %q not found", part)
		}
		v = next
	}
	return v, nil
}
