package seq

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const SegmentCollection = "seq_segment"

type segmentDoc struct {
	ConversationID string `bson:"_id"`
	MaxAllocated   int64  `bson:"max_allocated"`
}

// MongoSegmentDAO reserves sequence segments in a mongo counter document.
// FindOneAndUpdate with $inc is atomic across nodes, so two gateways never
// hand out overlapping segments.
type MongoSegmentDAO struct {
	coll *mongo.Collection
}

func NewMongoSegmentDAO(db *mongo.Database) *MongoSegmentDAO {
	return &MongoSegmentDAO{coll: db.Collection(SegmentCollection)}
}

func (d *MongoSegmentDAO) AllocSegment(ctx context.Context, conversationID string, block int64) (int64, int64, error) {
	if block <= 0 {
		block = 1
	}
	res := d.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$inc": bson.M{"max_allocated": block}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc segmentDoc
	if err := res.Decode(&doc); err != nil {
		return 0, 0, errors.Wrap(err, "alloc seq segment")
	}
	return doc.MaxAllocated - block + 1, doc.MaxAllocated, nil
}
