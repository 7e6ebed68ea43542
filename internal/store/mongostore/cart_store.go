// Package mongostore keeps carts as single MongoDB documents. Every mutation
// is one atomic document update, so a cart needs no lock of its own.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionName = "carts"

	// how often AddItem re-reads after losing a race on a new line
	addItemAttempts = 5
)

type CartStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ store.CartStore = (*CartStore)(nil)

// Config describes the deployment Open dials. Zero durations and pool
// sizes take the defaults below.
type Config struct {
	URI      string
	Database string

	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	MaxPoolSize            uint64
	MinPoolSize            uint64
}

func (c Config) clientOptions() *options.ClientOptions {
	connect := c.ConnectTimeout
	if connect == 0 {
		connect = 10 * time.Second
	}
	selection := c.ServerSelectionTimeout
	if selection == 0 {
		selection = 5 * time.Second
	}
	maxPool := c.MaxPoolSize
	if maxPool == 0 {
		maxPool = 100
	}
	minPool := c.MinPoolSize
	if minPool == 0 {
		minPool = 10
	}

	return options.Client().
		ApplyURI(c.URI).
		SetConnectTimeout(connect).
		SetServerSelectionTimeout(selection).
		SetMaxPoolSize(maxPool).
		SetMinPoolSize(minPool)
}

// Open connects to cfg.Database, verifies the server answers and installs
// the cart indexes. Disconnect through the returned client when done.
func Open(ctx context.Context, cfg Config) (*CartStore, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, cfg.clientOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	disconnect := func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }
	if err := client.Ping(ctx, nil); err != nil {
		disconnect()
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := NewCartStore(client.Database(cfg.Database))
	if err := s.CreateIndexes(ctx); err != nil {
		disconnect()
		return nil, nil, err
	}
	return s, client, nil
}

func NewCartStore(db *mongo.Database) *CartStore {
	return &CartStore{
		collection: db.Collection(collectionName),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateIndexes installs the unique user_id index that keeps one cart per user.
func (s *CartStore) CreateIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (s *CartStore) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := s.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &cart, nil
}

func (s *CartStore) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	now := s.now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":        uuid.NewString(),
			"items":      bson.A{},
			"created_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var cart domain.Cart
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"user_id": userID}, update, opts).Decode(&cart)
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent first call inserted the cart between our match and insert
		return s.GetCart(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cart: %w", err)
	}
	return &cart, nil
}

// AddItem increments an existing line with $inc, or pushes a new one guarded
// by a $ne filter so two concurrent first adds cannot create duplicate lines.
// The $inc filter only matches a line with room for qty more units.
func (s *CartStore) AddItem(ctx context.Context, userID string, productID int64, qty int32) (*domain.Cart, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if _, err := s.GetOrCreateCart(ctx, userID); err != nil {
		return nil, err
	}

	after := options.FindOneAndUpdate().SetReturnDocument(options.After)
	for range addItemAttempts {
		now := s.now()

		var cart domain.Cart
		err := s.collection.FindOneAndUpdate(ctx,
			bson.M{"user_id": userID, "items": bson.M{"$elemMatch": bson.M{
				"product_id": productID,
				"quantity":   bson.M{"$lte": math.MaxInt32 - qty},
			}}},
			bson.M{
				"$inc": bson.M{"items.$.quantity": qty},
				"$set": bson.M{"items.$.updated_at": now, "updated_at": now},
			},
			after,
		).Decode(&cart)
		if err == nil {
			return &cart, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to update existing item: %w", err)
		}

		item := domain.CartItem{ProductID: productID, Quantity: qty, CreatedAt: now, UpdatedAt: now}
		err = s.collection.FindOneAndUpdate(ctx,
			bson.M{"user_id": userID, "items.product_id": bson.M{"$ne": productID}},
			bson.M{
				"$push": bson.M{"items": item},
				"$set":  bson.M{"updated_at": now},
			},
			after,
		).Decode(&cart)
		if err == nil {
			return &cart, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to add new item: %w", err)
		}

		full, err := s.collection.CountDocuments(ctx, bson.M{"user_id": userID, "items": bson.M{"$elemMatch": bson.M{
			"product_id": productID,
			"quantity":   bson.M{"$gt": math.MaxInt32 - qty},
		}}})
		if err != nil {
			return nil, fmt.Errorf("failed to check item quantity: %w", err)
		}
		if full > 0 {
			return nil, domain.ErrQuantityTooLarge
		}
		// the line appeared between the two updates; go back to $inc
	}
	return nil, fmt.Errorf("add item to cart of %s: %w", userID, domain.ErrConcurrencyConflict)
}

func (s *CartStore) SetItemQuantity(ctx context.Context, userID string, productID int64, qty int32) (*domain.Cart, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := s.now()
	var cart domain.Cart
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "items.product_id": productID},
		bson.M{"$set": bson.M{
			"items.$.quantity":   qty,
			"items.$.updated_at": now,
			"updated_at":         now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.missing(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update item quantity: %w", err)
	}
	return &cart, nil
}

func (s *CartStore) RemoveItem(ctx context.Context, userID string, productID int64) (*domain.Cart, error) {
	var cart domain.Cart
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "items.product_id": productID},
		bson.M{
			"$pull": bson.M{"items": bson.M{"product_id": productID}},
			"$set":  bson.M{"updated_at": s.now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.missing(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}
	return &cart, nil
}

func (s *CartStore) ClearCart(ctx context.Context, userID string) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"items": bson.A{}, "updated_at": s.now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

// TakeItems runs as one pipeline update: the filter requires every line to
// hold at least the requested quantity, the $map subtracts, and the $filter
// drops lines left at zero.
func (s *CartStore) TakeItems(ctx context.Context, userID string, items []domain.CartItem) (*domain.Cart, error) {
	if len(items) == 0 {
		return s.GetCart(ctx, userID)
	}

	now := s.now()
	required := make(bson.A, 0, len(items))
	branches := make(bson.A, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, domain.ErrCartChanged
		}
		required = append(required, bson.M{"$elemMatch": bson.M{
			"product_id": it.ProductID,
			"quantity":   bson.M{"$gte": it.Quantity},
		}})
		branches = append(branches, bson.M{
			"case": bson.M{"$eq": bson.A{"$$it.product_id", it.ProductID}},
			"then": bson.M{"$mergeObjects": bson.A{"$$it", bson.M{
				"quantity":   bson.M{"$subtract": bson.A{"$$it.quantity", it.Quantity}},
				"updated_at": now,
			}}},
		})
	}

	taken := bson.M{"$map": bson.M{
		"input": "$items",
		"as":    "it",
		"in":    bson.M{"$switch": bson.M{"branches": branches, "default": "$$it"}},
	}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"items": bson.M{"$filter": bson.M{
				"input": taken,
				"as":    "line",
				"cond":  bson.M{"$gt": bson.A{"$$line.quantity", 0}},
			}},
			"updated_at": now,
		}}},
	}

	var cart domain.Cart
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "items": bson.M{"$all": required}},
		pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = s.missing(ctx, userID)
		if errors.Is(err, domain.ErrItemNotFound) {
			return nil, domain.ErrCartChanged
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take cart items: %w", err)
	}
	return &cart, nil
}

// missing tells an absent cart apart from an absent line after a filtered
// update matched nothing.
func (s *CartStore) missing(ctx context.Context, userID string) error {
	n, err := s.collection.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to check cart: %w", err)
	}
	if n == 0 {
		return domain.ErrCartNotFound
	}
	return domain.ErrItemNotFound
}
