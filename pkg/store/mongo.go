package store

import (
	"context"
	stderrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/schematic"
)

// Collection names.
const (
	CollectionSchematics = "schematics"
	CollectionRuns       = "runs"
)

// DefaultConnectTimeout bounds the initial ping in NewMongoStore.
const DefaultConnectTimeout = 10 * time.Second

// MongoStore keeps records in two MongoDB collections. Documents are stored
// with their bson tags, so a stored schematic can be queried by field.
type MongoStore struct {
	client     *mongo.Client
	schematics *mongo.Collection
	runs       *mongo.Collection
}

// NewMongoStore connects to uri and checks the connection with a ping.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "connect %s", uri)
	}

	pingCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "ping %s", uri)
	}
	return NewMongoStoreFromClient(client, database), nil
}

// NewMongoStoreFromClient wraps an existing client.
func NewMongoStoreFromClient(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:     client,
		schematics: db.Collection(CollectionSchematics),
		runs:       db.Collection(CollectionRuns),
	}
}

func (s *MongoStore) PutSchematic(ctx context.Context, doc *schematic.Document) (string, error) {
	rec, err := newSchematicRecord(doc)
	if err != nil {
		return "", err
	}
	if _, err := s.schematics.InsertOne(ctx, rec); err != nil {
		return "", errors.Wrap(errors.ErrCodeBackend, err, "insert schematic")
	}
	return rec.ID, nil
}

func (s *MongoStore) GetSchematic(ctx context.Context, id string) (*SchematicRecord, error) {
	var rec SchematicRecord
	if err := s.find(ctx, s.schematics, "schematic", id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindSchematicByHash returns the most recent record whose document has the
// given topology hash.
func (s *MongoStore) FindSchematicByHash(ctx context.Context, hash string) (*SchematicRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created", Value: -1}})
	var rec SchematicRecord
	err := s.schematics.FindOne(ctx, bson.M{"hash": hash}, opts).Decode(&rec)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("schematic with hash", hash)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "find schematic")
	}
	return &rec, nil
}

func (s *MongoStore) PutRun(ctx context.Context, rec *RunRecord) (string, error) {
	if err := prepareRun(rec); err != nil {
		return "", err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.runs.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, opts); err != nil {
		return "", errors.Wrap(errors.ErrCodeBackend, err, "store run")
	}
	return rec.ID, nil
}

func (s *MongoStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.find(ctx, s.runs, "run", id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) find(ctx context.Context, coll *mongo.Collection, kind, id string, v any) error {
	if err := checkID(id); err != nil {
		return err
	}
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(v)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return notFound(kind, id)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeBackend, err, "find %s %s", kind, id)
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
