package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"surveyflat/internal/dbclient"
	"surveyflat/internal/etl"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── MongoDB Source ─────────────────────────────────────────
// Reads submissions from a MongoDB collection with an optional Extended
// JSON filter and sort. Document field order is kept.

const (
	mongoEncodedDollar = "JA==" // base64 of "$", only as a key prefix
	mongoEncodedDot    = "Lg==" // base64 of "."
)

type mongoSource struct{}

func init() { etl.RegisterSource(&mongoSource{}) }

func (s *mongoSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "mongodb",
		Label: "MongoDB Collection",
		ConfigFields: []etl.ConfigField{
			{Key: "connection", Label: "Connection", Type: "connection", Required: true, Help: "driver, host, port, database, username, passwordKey"},
			{Key: "collection", Label: "Collection", Type: "string", Required: false, Default: "instances"},
			{Key: "filter", Label: "Filter", Type: "textarea", Required: false, Help: "Extended JSON filter, e.g. {\"_xform_id_string\": \"household\"}"},
			{Key: "sort", Label: "Sort", Type: "string", Required: false, Help: "Extended JSON sort, e.g. {\"_id\": 1}"},
			{Key: "query", Label: "Query", Type: "textarea", Required: false, Help: "Full query document; overrides collection, filter and sort"},
			{Key: "batchSize", Label: "Batch Size", Type: "string", Required: false, Default: "100"},
		},
	}
}

func (s *mongoSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.SourceSchema, error) {
	records, err := sample(ctx, s, cfg, discoverSample)
	if err != nil {
		return nil, err
	}
	return etl.InferSchema(records), nil
}

func (s *mongoSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		q, err := mongoQuery(cfg)
		if err != nil {
			errCh <- err
			return
		}
		conn, pw, err := connection(cfg)
		if err != nil {
			errCh <- err
			return
		}
		mc, err := dbclient.OpenMongo(conn, pw)
		if err != nil {
			errCh <- err
			return
		}
		defer mc.Close()

		err = mc.Documents(ctx, q, cfg.Int("batchSize", 100), func(doc bson.D) error {
			if !send(ctx, out, etl.NewRecord(DocumentObject(doc))) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// mongoQuery builds the query document from the source config.
func mongoQuery(cfg etl.SourceConfig) (*dbclient.Query, error) {
	if raw := cfg.String("query"); raw != "" {
		return dbclient.ParseQuery(raw)
	}
	coll := cfg.String("collection")
	if coll == "" {
		coll = "instances"
	}
	name, _ := json.Marshal(coll)

	var b strings.Builder
	fmt.Fprintf(&b, `{"collection":%s`, name)
	if f := strings.TrimSpace(cfg.String("filter")); f != "" {
		fmt.Fprintf(&b, `,"filter":%s`, f)
	}
	if srt := strings.TrimSpace(cfg.String("sort")); srt != "" {
		fmt.Fprintf(&b, `,"sort":%s`, srt)
	}
	b.WriteString("}")
	return dbclient.ParseQuery(b.String())
}

// DecodeMongoKey reverses the key encoding used when submissions were
// stored: a leading "JA==" stands for "$" and every "Lg==" for ".".
func DecodeMongoKey(key string) string {
	if strings.HasPrefix(key, mongoEncodedDollar) {
		key = "$" + key[len(mongoEncodedDollar):]
	}
	return strings.ReplaceAll(key, mongoEncodedDot, ".")
}

// DocumentObject converts a BSON document into a record object, decoding
// mongo-encoded keys.
func DocumentObject(doc bson.D) *etl.Object {
	obj := etl.NewObject()
	for _, elem := range doc {
		obj.Set(DecodeMongoKey(elem.Key), bsonValue(elem.Value))
	}
	return obj
}

func bsonValue(v any) etl.Value {
	switch x := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return etl.Null()
	case bson.D:
		return etl.ObjectValue(DocumentObject(x))
	case bson.M:
		return etl.FromAny(map[string]any(x))
	case bson.A:
		items := make([]etl.Value, len(x))
		for i, it := range x {
			items[i] = bsonValue(it)
		}
		return etl.List(items...)
	case []any:
		return bsonValue(bson.A(x))
	case bson.ObjectID:
		return etl.Scalar(x.Hex())
	case bson.DateTime:
		return etl.Scalar(x.Time().UTC())
	case bson.Decimal128:
		return etl.Scalar(json.Number(x.String()))
	case bson.Timestamp:
		return etl.Scalar(int64(x.T))
	case int32:
		return etl.Scalar(int64(x))
	default:
		return etl.Scalar(x)
	}
}
