package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-chat-service/internal/models"
)

const mongoMaxAttempts = 8

var errMongoContention = errors.New("conversation changed concurrently, retries exhausted")

// conversationDocument adds the bookkeeping fields used for compare-and-swap
// and for the partial unique index on active conversations.
type conversationDocument struct {
	models.Conversation `bson:",inline"`
	Active              bool  `bson:"active"`
	Version             int64 `bson:"version"`
}

// mongoCollection is the subset of *mongo.Collection the repository uses.
type mongoCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	Indexes() mongo.IndexView
	Database() *mongo.Database
}

// MongoConversationRepo stores each conversation as one document with its
// messages embedded.
type MongoConversationRepo struct {
	coll mongoCollection
}

// NewMongoConversationRepo constructs a MongoConversationRepo over the collection.
func NewMongoConversationRepo(coll *mongo.Collection) *MongoConversationRepo {
	return &MongoConversationRepo{coll: coll}
}

// EnsureIndexes creates the one-active-per-participant index.
func (r *MongoConversationRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "participant_id", Value: 1}},
			Options: options.Index().
				SetName("one_active_per_participant").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("status_updated_at"),
		},
	})
	return err
}

func (r *MongoConversationRepo) Get(ctx context.Context, id string) (models.Conversation, error) {
	doc, err := r.findOne(ctx, bson.M{"_id": id})
	return doc.Conversation, err
}

func (r *MongoConversationRepo) FindActive(ctx context.Context, participantID string) (models.Conversation, error) {
	doc, err := r.findOne(ctx, bson.M{"participant_id": participantID, "active": true})
	return doc.Conversation, err
}

func (r *MongoConversationRepo) ListByStatus(ctx context.Context, statuses ...models.Status) ([]models.Conversation, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"status": bson.M{"$in": statuses}},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	convs := make([]models.Conversation, 0, len(docs))
	for _, d := range docs {
		convs = append(convs, d.Conversation)
	}
	return convs, nil
}

func (r *MongoConversationRepo) WithActive(ctx context.Context, participantID string, create func() models.Conversation, fn MutateFunc) (models.Conversation, error) {
	for attempt := 0; attempt < mongoMaxAttempts; attempt++ {
		doc, err := r.findOne(ctx, bson.M{"participant_id": participantID, "active": true})
		if errors.Is(err, ErrConversationNotFound) {
			conv := create()
			if err := fn(&conv); err != nil {
				return models.Conversation{}, err
			}
			_, err := r.coll.InsertOne(ctx, conversationDocument{Conversation: conv, Active: conv.Status.IsActive(), Version: 1})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return models.Conversation{}, err
			}
			return conv, nil
		}
		if err != nil {
			return models.Conversation{}, err
		}

		ok, err := r.apply(ctx, doc, fn)
		if err != nil {
			return models.Conversation{}, err
		}
		if ok {
			return doc.Conversation, nil
		}
	}
	return models.Conversation{}, errMongoContention
}

func (r *MongoConversationRepo) Update(ctx context.Context, id string, fn MutateFunc) (models.Conversation, error) {
	for attempt := 0; attempt < mongoMaxAttempts; attempt++ {
		doc, err := r.findOne(ctx, bson.M{"_id": id})
		if err != nil {
			return models.Conversation{}, err
		}
		ok, err := r.apply(ctx, doc, fn)
		if err != nil {
			return models.Conversation{}, err
		}
		if ok {
			return doc.Conversation, nil
		}
	}
	return models.Conversation{}, errMongoContention
}

func (r *MongoConversationRepo) Delete(ctx context.Context, id string, check func(models.Conversation) error) error {
	for attempt := 0; attempt < mongoMaxAttempts; attempt++ {
		doc, err := r.findOne(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if err := check(doc.Conversation); err != nil {
			return err
		}
		res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "version": doc.Version})
		if err != nil {
			return err
		}
		if res.DeletedCount == 1 {
			return nil
		}
	}
	return errMongoContention
}

func (r *MongoConversationRepo) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, nil)
}

// apply runs fn on doc and swaps it in if nobody else wrote since it was read.
// doc is updated in place; false means the caller should re-read and retry.
func (r *MongoConversationRepo) apply(ctx context.Context, doc *conversationDocument, fn MutateFunc) (bool, error) {
	if err := fn(&doc.Conversation); err != nil {
		return false, err
	}
	prev := doc.Version
	doc.Version++
	doc.Active = doc.Status.IsActive()

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": prev}, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, ErrActiveConflict
	}
	if err != nil {
		return false, fmt.Errorf("replace conversation: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (r *MongoConversationRepo) findOne(ctx context.Context, filter bson.M) (*conversationDocument, error) {
	var doc conversationDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &conversationDocument{}, ErrConversationNotFound
	}
	if err != nil {
		return &conversationDocument{}, err
	}
	return &doc, nil
}
