package docstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// exerciseStore runs the shared contract against any Store.
func exerciseStore(t *testing.T, s Store, coll string) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, tenant := range []string{"t1", "t1", "t2"} {
		_, err := s.InsertOne(ctx, coll, Document{
			"tenant_id": tenant,
			"n":         int64(i),
			"at":        base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	id, err := s.InsertOne(ctx, coll, Document{IDField: "fixed", "tenant_id": "t1", "n": int64(10)})
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	got, err := s.FindOne(ctx, coll, Filter{IDField: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "t1", got["tenant_id"])

	_, err = s.FindOne(ctx, coll, Filter{"tenant_id": "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)

	docs, err := s.Find(ctx, coll, Filter{"tenant_id": "t1"}, FindOptions{SortBy: "n", Desc: true})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "fixed", docs[0].ID())

	ranged, err := s.Find(ctx, coll, Filter{
		"at": map[string]any{"$gte": base, "$lt": base.Add(2 * time.Hour)},
	}, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	n, err := s.UpdateOne(ctx, coll, Filter{IDField: "fixed"}, Document{"n": int64(11), IDField: "ignored"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.UpdateMany(ctx, coll, Filter{"tenant_id": "t1"}, Document{"flag": true})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	count, err := s.Count(ctx, coll, Filter{"flag": true})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	n, err = s.DeleteMany(ctx, coll, Filter{"tenant_id": "t1"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	count, err = s.Count(ctx, coll, Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestMemoryStore_Contract(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), "records")
}

func TestMemoryStore_FindPagingAndCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		_, _ = s.InsertOne(ctx, "c", Document{"n": i})
	}

	page, err := s.Find(ctx, "c", nil, FindOptions{SortBy: "n", Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 1, page[0]["n"])

	empty, err := s.Find(ctx, "c", nil, FindOptions{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)

	page[0]["n"] = 99
	again, _ := s.Find(ctx, "c", Filter{"n": 99}, FindOptions{})
	assert.Empty(t, again)

	_, err = s.InsertOne(ctx, "c", Document{IDField: page[1].ID()})
	assert.Error(t, err)
	assert.Equal(t, []string{"c"}, s.Collections())
}

func TestMatches_Operators(t *testing.T) {
	doc := Document{"status": "paid", "amount": 10.5, "n": 3}

	assert.True(t, Matches(doc, Filter{"status": "paid"}))
	assert.False(t, Matches(doc, Filter{"status": "draft"}))
	assert.False(t, Matches(doc, Filter{"missing": "x"}))
	assert.True(t, Matches(doc, Filter{"amount": map[string]any{"$gt": 10, "$lte": 10.5}}))
	assert.True(t, Matches(doc, Filter{"n": Filter{"$ne": 4}}))
	assert.True(t, Matches(doc, Filter{"missing": map[string]any{"$ne": "x"}}))
	assert.True(t, Matches(doc, Filter{"status": map[string]any{"$in": []string{"paid", "pending"}}}))
	assert.False(t, Matches(doc, Filter{"status": map[string]any{"$in": []any{"draft"}}}))
	assert.False(t, Matches(doc, Filter{"status": map[string]any{"$regex": "p"}}))
	assert.True(t, Matches(doc, nil))
}

func TestConvertFromBSON(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	oid := primitive.NewObjectID()
	doc := fromBSON(bson.M{
		"_id":    oid,
		"at":     primitive.NewDateTimeFromTime(at),
		"nested": bson.M{"n": int32(2)},
		"list":   bson.A{"a", bson.D{{Key: "k", Value: "v"}}},
	})

	assert.Equal(t, oid.Hex(), doc["_id"])
	assert.Equal(t, at, doc["at"])
	assert.Equal(t, map[string]any{"n": int64(2)}, doc["nested"])
	assert.Equal(t, []any{"a", map[string]any{"k": "v"}}, doc["list"])
}

func TestMongoStore_Contract(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set, skipping integration test")
	}
	ctx := context.Background()
	s, err := NewMongoStore(ctx, MongoConfig{URI: uri, Database: "agentplatform_test"})
	require.NoError(t, err)
	defer func() { _ = s.Close(ctx) }()

	coll := "contract_" + time.Now().Format("150405")
	defer func() { _, _ = s.DeleteMany(ctx, coll, Filter{}) }()
	exerciseStore(t, s, coll)
}

func TestNewMongoStore_RequiresURI(t *testing.T) {
	_, err := NewMongoStore(context.Background(), MongoConfig{})
	assert.Error(t, err)
}
