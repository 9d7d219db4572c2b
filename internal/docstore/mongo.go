package docstore

import (
	"context"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoDocument is the stored shape. Version counters are kept as int64
// because BSON has no unsigned integer type.
type mongoDocument struct {
	ID       string                 `bson:"_id"`
	Fields   map[string]interface{} `bson:"fields"`
	Versions map[string]int64       `bson:"versions"`
}

// MongoRepo implements Repository on a MongoDB collection, one BSON document
// per store document keyed by _id.
type MongoRepo struct {
	col *mongo.Collection
}

func NewMongoRepo(col *mongo.Collection) *MongoRepo {
	return &MongoRepo{col: col}
}

func (m *MongoRepo) Load(ctx context.Context, id string) (*Document, error) {
	var md mongoDocument
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&md)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return md.document(), nil
}

func (m *MongoRepo) Put(ctx context.Context, doc *Document) error {
	md := mongoDocument{ID: doc.ID, Fields: doc.Fields, Versions: map[string]int64{}}
	for peer, n := range doc.Versions {
		md.Versions[peer] = int64(n)
	}
	opts := options.Replace().SetUpsert(true)
	_, err := m.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, md, opts)
	return err
}

func (m *MongoRepo) Scan(ctx context.Context, prefix string) ([]*Document, error) {
	filter := bson.M{}
	if prefix != "" {
		filter["_id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}
	cur, err := m.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Document{}
	for cur.Next(ctx) {
		var md mongoDocument
		if err := cur.Decode(&md); err != nil {
			return nil, err
		}
		out = append(out, md.document())
	}
	return out, cur.Err()
}

func (m *MongoRepo) Close() error {
	return m.col.Database().Client().Disconnect(context.Background())
}

func (md *mongoDocument) document() *Document {
	d := &Document{ID: md.ID, Fields: md.Fields, Versions: VersionVector{}}
	if d.Fields == nil {
		d.Fields = map[string]interface{}{}
	}
	for peer, n := range md.Versions {
		d.Versions[peer] = uint64(n)
	}
	return d
}
