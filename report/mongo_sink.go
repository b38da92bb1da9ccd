package report

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoInserter 是 MongoSink 使用的集合子集，*mongo.Collection 满足该接口
type MongoInserter interface {
	InsertOne(ctx context.Context, document any, opts ...mongooptions.Lister[mongooptions.InsertOneOptions]) (*mongo.InsertOneResult, error)
}

type mongoEntry struct {
	Key   string `bson:"key"`
	Slot  int    `bson:"slot"`
	Count uint64 `bson:"count"`
	Delta uint64 `bson:"delta"`
}

type mongoReport struct {
	ID              string       `bson:"_id"`
	WindowStart     time.Time    `bson:"window_start"`
	GeneratedAt     time.Time    `bson:"generated_at"`
	SnapshotVersion uint64       `bson:"snapshot_version"`
	Registrations   int          `bson:"registrations"`
	Resolutions     uint64       `bson:"resolutions"`
	Failures        uint64       `bson:"failures"`
	Optimized       []string     `bson:"optimized,omitempty"`
	Cycles          [][]string   `bson:"cycles,omitempty"`
	Entries         []mongoEntry `bson:"entries"`
}

// MongoSink 每份报告插入一个文档，_id 为报告 ID
type MongoSink struct {
	Collection MongoInserter
}

func (s *MongoSink) Write(ctx context.Context, r *Report) error {
	doc := mongoReport{
		ID:              r.ID,
		WindowStart:     r.WindowStart,
		GeneratedAt:     r.GeneratedAt,
		SnapshotVersion: r.SnapshotVersion,
		Registrations:   r.Registrations,
		Resolutions:     r.Counters.Resolutions,
		Failures:        r.Counters.Failures,
		Optimized:       r.Optimized,
		Cycles:          r.Cycles,
		Entries:         make([]mongoEntry, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		doc.Entries = append(doc.Entries, mongoEntry{Key: e.Key, Slot: e.Slot, Count: e.Count, Delta: e.Delta})
	}
	_, err := s.Collection.InsertOne(ctx, doc)
	return err
}
