package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusmarket/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionNotifications = "notifications"

var ErrNotFound = errors.New("notification not found")

type document struct {
	ID        string                  `bson:"_id"`
	UserID    string                  `bson:"user"`
	Title     string                  `bson:"title"`
	Message   string                  `bson:"message"`
	Type      string                  `bson:"type"`
	Refs      models.NotificationRefs `bson:"refs"`
	IsRead    bool                    `bson:"isRead"`
	CreatedAt time.Time               `bson:"createdAt"`
}

func toDocument(n *models.Notification) document {
	return document{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Refs:      n.Refs,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func (d document) model() models.Notification {
	return models.Notification{
		ID:        d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		Message:   d.Message,
		Type:      d.Type,
		Refs:      d.Refs,
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt,
	}
}

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(CollectionNotifications)}
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "isRead", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

func (s *MongoStore) Insert(ctx context.Context, n *models.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.collection.InsertOne(ctx, toDocument(n)); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *MongoStore) ListForUser(ctx context.Context, userID string, unreadOnly bool, page, limit int) ([]models.Notification, int64, error) {
	filter := bson.M{"user": userID}
	if unreadOnly {
		filter["isRead"] = false
	}
	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cur, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find notifications: %w", err)
	}
	defer cur.Close(ctx)

	items := []models.Notification{}
	for cur.Next(ctx) {
		var d document
		if err := cur.Decode(&d); err != nil {
			return nil, 0, err
		}
		items = append(items, d.model())
	}
	return items, total, cur.Err()
}

// MarkRead only touches notifications owned by userID.
func (s *MongoStore) MarkRead(ctx context.Context, userID, id string) (*models.Notification, error) {
	var d document
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "user": userID},
		bson.M{"$set": bson.M{"isRead": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n := d.model()
	return &n, nil
}
