package snapshot

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig configures the mongo snapshot backend.
type MongoConfig struct {
	// URI is the mongodb connection string.
	URI string
	// Database name, default "gridroute".
	Database string
	// Collection name, default "snapshots".
	Collection string
}

// MongoStore archives snapshots in a mongo collection, one document per
// iteration, for offline analysis of convergence behavior.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoDoc struct {
	Key  string `bson:"_id"`
	Data []byte `bson:"data"`
}

// NewMongoStore connects to mongo and verifies the connection.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := cfg.Database
	if db == "" {
		db = "gridroute"
	}
	coll := cfg.Collection
	if coll == "" {
		coll = "snapshots"
	}
	return &MongoStore{client: client, coll: client.Database(db).Collection(coll)}, nil
}

// Save upserts the document for key.
func (s *MongoStore) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": key},
		mongoDoc{Key: key, Data: data},
		options.Replace().SetUpsert(true))
	return err
}

// Load reads the document for key; a missing document is a miss.
func (s *MongoStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var doc mongoDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc.Data, true, nil
}

// Close disconnects from mongo.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
