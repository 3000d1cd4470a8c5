package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/models"
)

type mongoRepo struct {
	convs *mongo.Collection
	msgs  *mongo.Collection
	users *mongo.Collection
}

func NewMongoRepo(db *mongo.Database) ConversationRepository {
	return &mongoRepo{
		convs: db.Collection("conversations"),
		msgs:  db.Collection("messages"),
		users: db.Collection("users"),
	}
}

// EnsureIndexes creates the indexes the queries below rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("messages").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: -1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	_, err = db.Collection("conversations").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_activity", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	return nil
}

func (r *mongoRepo) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := r.convs.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *mongoRepo) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.LastActivity.IsZero() {
		c.LastActivity = c.CreatedAt
	}
	_, err := r.convs.InsertOne(ctx, c)
	return err
}

func (r *mongoRepo) NextSeq(ctx context.Context, convID string, at time.Time) (int64, error) {
	var c models.Conversation
	err := r.convs.FindOneAndUpdate(ctx,
		bson.M{"_id": convID},
		bson.M{
			"$inc": bson.M{"last_seq": 1},
			"$set": bson.M{"last_activity": at},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, apperr.ErrConversationNotFound
	}
	if err != nil {
		return 0, err
	}
	return c.LastSeq, nil
}

func (r *mongoRepo) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := r.msgs.InsertOne(ctx, m)
	return err
}

func (r *mongoRepo) UpdateMessageStatus(ctx context.Context, messageID, status string) error {
	_, err := r.msgs.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"status": status}},
	)
	return err
}

func (r *mongoRepo) Messages(ctx context.Context, convID string, before time.Time, limit int64) ([]*models.Message, error) {
	filter := bson.M{"conversation_id": convID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	cur, err := r.msgs.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *mongoRepo) ConversationsForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	cur, err := r.convs.Find(ctx,
		bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Conversation
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (r *mongoRepo) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	raw, err := r.convs.Distinct(ctx, "_id", bson.M{"participants": userID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

func (r *mongoRepo) Profiles(ctx context.Context, userIDs []string) ([]models.ParticipantProfile, error) {
	cur, err := r.users.Find(ctx,
		bson.M{"user_id": bson.M{"$in": userIDs}},
		options.Find().SetProjection(bson.M{"user_id": 1, "display_name": 1, "role": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.ParticipantProfile
	for cur.Next(ctx) {
		var p models.ParticipantProfile
		if err := cur.Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, cur.Err()
}
