package dbclient

import (
	"testing"

	"surveyflat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestParseQueryKeepsOrderAndExtendedTypes(t *testing.T) {
	q, err := ParseQuery(`{
		"collection": "instances",
		"filter": {"_id": {"$oid": "5f1b2c3d4e5f6a7b8c9d0e1f"}, "_xform_id_string": "household"},
		"sort": {"_submission_time": -1, "_id": 1},
		"limit": 10
	}`)
	require.NoError(t, err)
	assert.Equal(t, "instances", q.Collection)
	assert.Equal(t, int64(10), q.Limit)

	require.Len(t, q.Filter, 2)
	assert.Equal(t, "_id", q.Filter[0].Key)
	assert.IsType(t, bson.ObjectID{}, q.Filter[0].Value)

	require.Len(t, q.Sort, 2)
	assert.Equal(t, "_submission_time", q.Sort[0].Key)
	assert.Equal(t, "_id", q.Sort[1].Key)
}

func TestParseQueryErrors(t *testing.T) {
	for _, raw := range []string{
		`{`,
		`{"filter": {}}`,
		`{"collection": "x", "operation": "deleteMany"}`,
	} {
		_, err := ParseQuery(raw)
		assert.Error(t, err, raw)
	}
}

func TestMongoURI(t *testing.T) {
	tests := []struct {
		name   string
		conn   domain.DatabaseConnection
		uri    string
		dbName string
	}{
		{
			name:   "host and port",
			conn:   domain.DatabaseConnection{Host: "localhost", Username: "ona", Database: "formhub", ExtraJSON: `{"replicaSet":"rs0","authSource":"admin"}`},
			uri:    "mongodb://ona:pw@localhost:27017?authSource=admin&replicaSet=rs0",
			dbName: "formhub",
		},
		{
			name:   "atlas placeholder",
			conn:   domain.DatabaseConnection{Host: "mongodb+srv://ona:<password>@cluster0.example.net/?retryWrites=true"},
			uri:    "mongodb+srv://ona:pw@cluster0.example.net/?retryWrites=true",
			dbName: "test",
		},
		{
			name:   "database in uri",
			conn:   domain.DatabaseConnection{Host: "mongodb://h:27017/surveys?ssl=false"},
			uri:    "mongodb://h:27017/surveys?ssl=false",
			dbName: "surveys",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, db := mongoURI(&tt.conn, "pw")
			assert.Equal(t, tt.uri, uri)
			assert.Equal(t, tt.dbName, db)
		})
	}
}
