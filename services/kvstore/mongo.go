package kvstore

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB database and collection names
const (
	MongoDBName           = "chartstream"
	MongoValuesCollection = "kv_values"
	MongoSetsCollection   = "kv_sets"
	mongoOpTimeout        = 10 * time.Second
	mongoConnectTimeout   = 30 * time.Second
)

// mongoValueDoc is a single key/value record
type mongoValueDoc struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// mongoSetDoc is a membership set record
type mongoSetDoc struct {
	Key     string   `bson:"_id"`
	Members []string `bson:"members"`
}

// Mongo implements Store on MongoDB, using $addToSet/$pull for the
// set operations and a prefix regex for scans.
type Mongo struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongo connects to MongoDB and verifies the connection with a ping
func NewMongo(uri string) (*Mongo, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(mongoConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Println("MongoDB connected successfully")
	return &Mongo{
		client:   client,
		database: client.Database(MongoDBName),
	}, nil
}

// Close disconnects from MongoDB
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	var doc mongoValueDoc
	err := m.database.Collection(MongoValuesCollection).
		FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mongo get %s: %w", key, err)
	}
	return doc.Value, true, nil
}

func (m *Mongo) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	doc := mongoValueDoc{Key: key, Value: value, UpdatedAt: time.Now()}
	opts := options.Replace().SetUpsert(true)
	_, err := m.database.Collection(MongoValuesCollection).
		ReplaceOne(ctx, bson.M{"_id": key}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongo set %s: %w", key, err)
	}
	return nil
}

func (m *Mongo) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := m.database.Collection(MongoValuesCollection).
		DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("mongo delete %s: %w", key, err)
	}
	return nil
}

func (m *Mongo) AddToSet(key, member string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	opts := options.Update().SetUpsert(true)
	_, err := m.database.Collection(MongoSetsCollection).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$addToSet": bson.M{"members": member}},
		opts,
	)
	if err != nil {
		return fmt.Errorf("mongo add to set %s: %w", key, err)
	}
	return nil
}

func (m *Mongo) RemoveFromSet(key, member string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := m.database.Collection(MongoSetsCollection).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$pull": bson.M{"members": member}},
	)
	if err != nil {
		return fmt.Errorf("mongo remove from set %s: %w", key, err)
	}
	return nil
}

func (m *Mongo) SetMembers(key string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	var doc mongoSetDoc
	err := m.database.Collection(MongoSetsCollection).
		FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo set members %s: %w", key, err)
	}
	return doc.Members, nil
}

func (m *Mongo) ScanKeys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	filter := bson.M{"_id": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().SetProjection(bson.M{"_id": 1})

	cursor, err := m.database.Collection(MongoValuesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo scan %s: %w", prefix, err)
	}
	defer cursor.Close(ctx)

	keys := make([]string, 0)
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo scan decode: %w", err)
		}
		keys = append(keys, doc.Key)
	}
	return keys, cursor.Err()
}
