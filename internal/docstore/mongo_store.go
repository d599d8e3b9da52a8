package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mbd888/agentplatform/internal/retry"
)

// MongoStore persists documents in MongoDB.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
}

// MongoConfig configures the MongoDB connection.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// NewMongoStore connects to MongoDB, retrying the initial ping a few times
// so the server can start alongside a database that is still booting.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("docstore: mongo URI is required")
	}
	if cfg.Database == "" {
		cfg.Database = "agentplatform"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetReadPreference(readpref.Primary())
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("docstore: connect mongo: %w", err)
	}

	err = retry.Do(ctx, 5, 500*time.Millisecond, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return client.Ping(pingCtx, readpref.Primary())
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("docstore: ping mongo: %w", err)
	}

	return &MongoStore{client: client, database: client.Database(cfg.Database)}, nil
}

func (s *MongoStore) collection(name string) *mongo.Collection {
	return s.database.Collection(name)
}

func (s *MongoStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	var doc bson.M
	err := s.collection(collection).FindOne(ctx, toFilter(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(doc), nil
}

func (s *MongoStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	findOpts := options.Find()
	if opts.SortBy != "" {
		order := 1
		if opts.Desc {
			order = -1
		}
		findOpts.SetSort(bson.D{{Key: opts.SortBy, Value: order}})
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(int64(opts.Skip))
	}

	cursor, err := s.collection(collection).Find(ctx, toFilter(filter), findOpts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	out := make([]Document, 0)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromBSON(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	cp := doc.Clone()
	id := cp.ID()
	if id == "" {
		id = uuid.NewString()
		cp[IDField] = id
	}
	if _, err := s.collection(collection).InsertOne(ctx, bson.M(cp)); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MongoStore) UpdateOne(ctx context.Context, collection string, filter Filter, set Document) (int64, error) {
	res, err := s.collection(collection).UpdateOne(ctx, toFilter(filter), bson.M{"$set": withoutID(set)})
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (s *MongoStore) UpdateMany(ctx context.Context, collection string, filter Filter, set Document) (int64, error) {
	res, err := s.collection(collection).UpdateMany(ctx, toFilter(filter), bson.M{"$set": withoutID(set)})
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (s *MongoStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	res, err := s.collection(collection).DeleteMany(ctx, toFilter(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	return s.collection(collection).CountDocuments(ctx, toFilter(filter))
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toFilter(f Filter) bson.M {
	if f == nil {
		return bson.M{}
	}
	return bson.M(f)
}

func withoutID(set Document) bson.M {
	out := bson.M{}
	for k, v := range set {
		if k != IDField {
			out[k] = v
		}
	}
	return out
}

func fromBSON(doc bson.M) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = convertFromBSON(v)
	}
	return out
}

// convertFromBSON maps driver types back to plain Go values so documents
// look the same regardless of backend.
func convertFromBSON(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case bson.M:
		return map[string]any(fromBSON(val))
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = convertFromBSON(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertFromBSON(item)
		}
		return out
	case int32:
		return int64(val)
	default:
		return val
	}
}
