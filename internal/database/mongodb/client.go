package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkuzar/pos_hub/internal/database"
	"github.com/kkuzar/pos_hub/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

const (
	connectTimeout         = 10 * time.Second
	serverSelectionTimeout = 10 * time.Second
	usersCollection        = "users"
	activityCollection     = "activity_logs"
	productsCollection     = "products"
	inventoryCollection    = "inventory_changes"
	ordersCollection       = "orders"
	staffStatusCollection  = "staff_status"
)

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongoClient creates a new MongoDB client and establishes connection.
// The driver handles connection pooling internally.
func NewMongoClient(ctx context.Context, uri, dbName string, logger *zap.Logger) (*MongoClient, error) {
	if uri == "" || dbName == "" {
		return nil, errors.New("MongoDB URI or Database Name is empty")
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(serverSelectionTimeout).
		SetWriteConcern(writeconcern.W1())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	c := &MongoClient{client: client, db: client.Database(dbName), logger: logger.Named("mongodb")}
	if err := c.createIndexes(ctx); err != nil {
		c.logger.Warn("Failed to create MongoDB indexes", zap.Error(err))
	}
	c.logger.Info("Connected to MongoDB", zap.String("db", dbName))
	return c, nil
}

func (c *MongoClient) createIndexes(ctx context.Context) error {
	if _, err := c.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	for _, coll := range []string{activityCollection, ordersCollection} {
		if _, err := c.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "createdAt", Value: -1}},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *MongoClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// Close disconnects the MongoDB client.
func (c *MongoClient) Close(ctx context.Context) error {
	if c.client != nil {
		c.logger.Info("Disconnecting MongoDB client")
		return c.client.Disconnect(ctx)
	}
	return nil
}

// --- User Methods ---

func (c *MongoClient) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := c.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, database.ErrNotFound
	} else if err != nil {
		c.logger.Error("MongoDB error getting user", zap.Any("filter", filter), zap.Error(err))
		return nil, err
	}
	return &user, nil
}

func (c *MongoClient) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return c.findUser(ctx, bson.M{"_id": userID})
}

func (c *MongoClient) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return c.findUser(ctx, bson.M{"username": username})
}

func (c *MongoClient) CreateUser(ctx context.Context, user *models.User) error {
	if user.Username == "" {
		return errors.New("username cannot be empty")
	}
	if user.ID == "" {
		user.ID = primitive.NewObjectID().Hex()
	}
	user.CreatedAt = time.Now().UTC()
	if _, err := c.db.Collection(usersCollection).InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return database.ErrDuplicateUser
		}
		c.logger.Error("MongoDB error creating user", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

// --- Activity ---

func (c *MongoClient) LogActivity(ctx context.Context, entry *models.ActivityLog) (string, error) {
	if entry.ID == "" {
		entry.ID = primitive.NewObjectID().Hex()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := c.db.Collection(activityCollection).InsertOne(ctx, entry); err != nil {
		c.logger.Error("MongoDB error logging activity", zap.Error(err))
		return "", err
	}
	return entry.ID, nil
}

func (c *MongoClient) ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	var out []models.ActivityLog
	err := c.findAll(ctx, activityCollection, bson.M{}, recentFirst(limit), &out)
	return out, err
}

// --- Inventory ---

func (c *MongoClient) RecordInventoryChange(ctx context.Context, change *models.InventoryChange) (string, error) {
	if change.ID == "" {
		change.ID = primitive.NewObjectID().Hex()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	if _, err := c.db.Collection(inventoryCollection).InsertOne(ctx, change); err != nil {
		c.logger.Error("MongoDB error recording inventory change", zap.String("productId", change.ProductID), zap.Error(err))
		return "", err
	}

	result, err := c.db.Collection(productsCollection).UpdateOne(ctx,
		bson.M{"_id": change.ProductID},
		bson.M{"$set": bson.M{"stock": change.NewStock, "updatedAt": change.CreatedAt}},
	)
	if err != nil {
		return "", fmt.Errorf("update product stock: %w", err)
	}
	if result.MatchedCount == 0 {
		c.logger.Warn("Inventory change for unknown product", zap.String("productId", change.ProductID))
	}
	return change.ID, nil
}

func (c *MongoClient) ListLowStockProducts(ctx context.Context, threshold, limit int) ([]models.Product, error) {
	opts := options.Find().
		SetLimit(int64(database.NormalizeLimit(limit, database.DefaultLimit))).
		SetSort(bson.D{{Key: "stock", Value: 1}, {Key: "name", Value: 1}})
	var out []models.Product
	err := c.findAll(ctx, productsCollection, bson.M{"stock": bson.M{"$lte": threshold}}, opts, &out)
	return out, err
}

// --- Staff ---

func (c *MongoClient) UpsertStaffStatus(ctx context.Context, status *models.StaffStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	_, err := c.db.Collection(staffStatusCollection).ReplaceOne(ctx,
		bson.M{"_id": status.StaffID}, status, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.Error("MongoDB error upserting staff status", zap.String("staffId", status.StaffID), zap.Error(err))
		return err
	}
	return nil
}

// --- Orders ---

func (c *MongoClient) ListRecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	var out []models.Order
	err := c.findAll(ctx, ordersCollection, bson.M{}, recentFirst(limit), &out)
	return out, err
}

func recentFirst(limit int) *options.FindOptions {
	return options.Find().
		SetLimit(int64(database.NormalizeLimit(limit, database.DefaultLimit))).
		SetSort(bson.D{{Key: "createdAt", Value: -1}})
}

func (c *MongoClient) findAll(ctx context.Context, collection string, filter bson.M, opts *options.FindOptions, dst interface{}) error {
	cursor, err := c.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		c.logger.Error("MongoDB find failed", zap.String("collection", collection), zap.Error(err))
		return err
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, dst); err != nil {
		c.logger.Error("MongoDB decode failed", zap.String("collection", collection), zap.Error(err))
		return err
	}
	return nil
}
