package remote

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Backend is the slice of a document store the client needs. DialMongo
// provides the MongoDB implementation.
type Backend interface {
	InsertOne(ctx context.Context, doc any) (any, error)
	FindOne(ctx context.Context, filter bson.D, out any) error
	FindSorted(ctx context.Context, filter, sort bson.D, limit int64) ([]bson.M, error)
	ServerInfo(ctx context.Context) (bson.M, error)
	DatabaseStats(ctx context.Context) (bson.M, error)
	CollectionStats(ctx context.Context) (bson.M, error)
	Count(ctx context.Context) (int64, error)
	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer opens a Backend and verifies it is reachable.
type Dialer func(ctx context.Context, opts Options) (Backend, error)

type mongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
	coll   *mongo.Collection
}

// DialMongo connects with bounded selection/connect/socket timeouts and
// pings the primary before returning.
func DialMongo(ctx context.Context, opts Options) (Backend, error) {
	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetServerSelectionTimeout(opts.ServerSelectionTimeout).
		SetConnectTimeout(opts.ConnectTimeout).
		SetSocketTimeout(opts.SocketTimeout).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "configure mongo client")
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.ServerSelectionTimeout+opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}

	db := client.Database(opts.Database)
	return &mongoBackend{
		client: client,
		db:     db,
		coll:   db.Collection(opts.Collection),
	}, nil
}

func (m *mongoBackend) InsertOne(ctx context.Context, doc any) (any, error) {
	res, err := m.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (m *mongoBackend) FindOne(ctx context.Context, filter bson.D, out any) error {
	return m.coll.FindOne(ctx, filter).Decode(out)
}

func (m *mongoBackend) FindSorted(ctx context.Context, filter, sort bson.D, limit int64) ([]bson.M, error) {
	cursor, err := m.coll.Find(ctx, filter, options.Find().SetSort(sort).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	var out []bson.M
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *mongoBackend) ServerInfo(ctx context.Context) (bson.M, error) {
	var out bson.M
	err := m.client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&out)
	return out, err
}

func (m *mongoBackend) DatabaseStats(ctx context.Context) (bson.M, error) {
	var out bson.M
	err := m.db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&out)
	return out, err
}

func (m *mongoBackend) CollectionStats(ctx context.Context) (bson.M, error) {
	var out bson.M
	err := m.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: m.coll.Name()}}).Decode(&out)
	return out, err
}

func (m *mongoBackend) Count(ctx context.Context) (int64, error) {
	return m.coll.CountDocuments(ctx, bson.D{})
}

// EnsureIndexes makes scan_id unique so a retried insert that already
// landed surfaces as a duplicate key instead of a second copy.
func (m *mongoBackend) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: fieldScanID, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_scan_id"),
		},
		{
			Keys:    bson.D{{Key: fieldTimestamp, Value: -1}},
			Options: options.Index().SetName("timestamp_desc"),
		},
	})
	return err
}

func (m *mongoBackend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// idString renders a store-assigned identifier as plain text.
func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
