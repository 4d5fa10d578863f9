package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"surveyflat/internal/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoConnector reads documents from a MongoDB database.
type MongoConnector struct {
	client *mongo.Client
	dbName string
	log    *slog.Logger
}

// Query is the JSON structure callers write for MongoDB reads. Filter, Sort,
// Projection and Pipeline are MongoDB Extended JSON ($oid, $date, ...).
type Query struct {
	Collection string `bson:"collection"`
	Operation  string `bson:"operation,omitempty"` // find (default) | aggregate
	Filter     bson.D `bson:"filter,omitempty"`
	Projection bson.D `bson:"projection,omitempty"`
	Sort       bson.D `bson:"sort,omitempty"`
	Pipeline   bson.A `bson:"pipeline,omitempty"`
	Limit      int64  `bson:"limit,omitempty"`
}

// ParseQuery decodes an Extended JSON query. Key order inside filter and
// sort documents is preserved.
func ParseQuery(raw string) (*Query, error) {
	var q Query
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &q); err != nil {
		return nil, fmt.Errorf("invalid query JSON: %w", err)
	}
	if q.Collection == "" {
		return nil, fmt.Errorf("query must specify 'collection'")
	}
	switch q.Operation {
	case "", "find", "aggregate":
	default:
		return nil, fmt.Errorf("unsupported operation: %s", q.Operation)
	}
	return &q, nil
}

// mongoURI builds the connection string and the database name.
func mongoURI(conn *domain.DatabaseConnection, password string) (uri, dbName string) {
	// If host is already a full connection string (Atlas mongodb+srv:// or standard mongodb://),
	// use it directly. Otherwise, build the URI from host:port.
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri = conn.Host
		// Atlas connection strings carry a <password> placeholder
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
		if conn.Database != "" && !strings.Contains(uri, "/"+conn.Database) {
			if idx := strings.Index(uri, "?"); idx != -1 {
				uri = uri[:idx] + "/" + conn.Database + uri[idx:]
			} else {
				uri = strings.TrimRight(uri, "/") + "/" + conn.Database
			}
		}
	} else {
		port := conn.Port
		if port == 0 {
			port = 27017
		}
		if conn.Username != "" {
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
		}

		// extraJson carries authSource, replicaSet, etc.
		if conn.ExtraJSON != "" && conn.ExtraJSON != "{}" {
			var extras map[string]string
			if json.Unmarshal([]byte(conn.ExtraJSON), &extras) == nil && len(extras) > 0 {
				keys := make([]string, 0, len(extras))
				for k := range extras {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				params := make([]string, len(keys))
				for i, k := range keys {
					params[i] = k + "=" + extras[k]
				}
				uri += "?" + strings.Join(params, "&")
			}
		}
	}

	dbName = conn.Database
	if dbName == "" {
		dbName = databaseFromURI(uri)
	}
	return uri, dbName
}

// databaseFromURI extracts the path of user:pass@host/DB_NAME?params.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if atIdx := strings.Index(rest, "@"); atIdx != -1 {
		rest = rest[atIdx+1:]
	}
	if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
		path := rest[slashIdx+1:]
		if qIdx := strings.Index(path, "?"); qIdx != -1 {
			path = path[:qIdx]
		}
		if path != "" {
			return path
		}
	}
	return "test"
}

// OpenMongo creates a client for conn. The driver connects lazily, so an
// unreachable server surfaces on the first operation.
func OpenMongo(conn *domain.DatabaseConnection, password string) (*MongoConnector, error) {
	uri, dbName := mongoURI(conn, password)
	log := slog.Default().With("component", "mongo")

	logURI := uri
	if password != "" {
		logURI = strings.ReplaceAll(logURI, password, "***")
	}
	log.Debug("connecting", "uri", logURI, "database", dbName)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &MongoConnector{client: client, dbName: dbName, log: log}, nil
}

func (m *MongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

// Documents runs q and hands every document to fn in cursor order. It stops
// at the first error from fn.
func (m *MongoConnector) Documents(ctx context.Context, q *Query, batchSize int, fn func(bson.D) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	coll := m.client.Database(m.dbName).Collection(q.Collection)

	var (
		cursor *mongo.Cursor
		err    error
	)
	switch q.Operation {
	case "", "find":
		opts := options.Find().SetBatchSize(int32(batchSize))
		if q.Projection != nil {
			opts.SetProjection(q.Projection)
		}
		if q.Sort != nil {
			opts.SetSort(q.Sort)
		}
		if q.Limit > 0 {
			opts.SetLimit(q.Limit)
		}
		filter := q.Filter
		if filter == nil {
			filter = bson.D{}
		}
		cursor, err = coll.Find(ctx, filter, opts)
	case "aggregate":
		pipeline := q.Pipeline
		if pipeline == nil {
			pipeline = bson.A{}
		}
		cursor, err = coll.Aggregate(ctx, pipeline, options.Aggregate().SetBatchSize(int32(batchSize)))
	default:
		return fmt.Errorf("unsupported operation: %s", q.Operation)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", firstNonEmpty(q.Operation, "find"), q.Collection, err)
	}
	defer cursor.Close(context.WithoutCancel(ctx))

	n := 0
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
		n++
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("cursor error: %w", err)
	}
	m.log.Debug("documents read", "collection", q.Collection, "count", n)
	return nil
}

func firstNonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Introspect lists collections, sampling one document of each for field names.
func (m *MongoConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db := m.client.Database(m.dbName)
	collections, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(collections)

	schema := &SchemaInfo{}
	for _, collName := range collections {
		var doc bson.D
		err := db.Collection(collName).FindOne(ctx, bson.D{}).Decode(&doc)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: collName})
			continue
		}
		cols := make([]ColumnInfo, len(doc))
		for i, elem := range doc {
			cols[i] = ColumnInfo{Name: elem.Key, Type: fmt.Sprintf("%T", elem.Value)}
		}
		schema.Tables = append(schema.Tables, TableInfo{Name: collName, Columns: cols})
	}
	return schema, nil
}

func (m *MongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
