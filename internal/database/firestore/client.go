package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/kkuzar/pos_hub/internal/database"
	"github.com/kkuzar/pos_hub/internal/models"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection       = "users"
	usernamesCollection   = "usernames"
	activityCollection    = "activity_logs"
	productsCollection    = "products"
	inventoryCollection   = "inventory_changes"
	ordersCollection      = "orders"
	staffStatusCollection = "staff_status"
)

type FirestoreClient struct {
	client *firestore.Client
	logger *zap.Logger
}

// NewFirestoreClient creates a new Firestore client.
// Connection pooling is handled by the underlying gRPC layer.
func NewFirestoreClient(ctx context.Context, projectID, credentialsFile string, logger *zap.Logger) (*FirestoreClient, error) {
	if projectID == "" {
		return nil, errors.New("Firestore project ID is empty")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	logger = logger.Named("firestore")
	logger.Info("Firestore client initialized", zap.String("project", projectID))
	return &FirestoreClient{client: client, logger: logger}, nil
}

// Ping performs a single-document read to confirm connectivity and permissions.
func (c *FirestoreClient) Ping(ctx context.Context) error {
	iter := c.client.Collection(usersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return err
	}
	return nil
}

// Close closes the Firestore client.
func (c *FirestoreClient) Close(ctx context.Context) error {
	if c.client != nil {
		c.logger.Info("Closing Firestore client")
		return c.client.Close()
	}
	return nil
}

// --- User Methods ---

func (c *FirestoreClient) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	docSnap, err := c.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, database.ErrNotFound
		}
		c.logger.Error("Firestore error getting user", zap.String("userId", userID), zap.Error(err))
		return nil, err
	}

	var user models.User
	if err := docSnap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	user.ID = docSnap.Ref.ID
	return &user, nil
}

func (c *FirestoreClient) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	docSnap, err := c.client.Collection(usernamesCollection).Doc(username).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, database.ErrNotFound
		}
		c.logger.Error("Firestore error getting username", zap.String("username", username), zap.Error(err))
		return nil, err
	}
	userID, ok := docSnap.Data()["userId"].(string)
	if !ok || userID == "" {
		return nil, database.ErrNotFound
	}
	return c.GetUserByID(ctx, userID)
}

// CreateUser claims the username document and writes the user in one
// transaction. Create fails with AlreadyExists when the username is taken.
func (c *FirestoreClient) CreateUser(ctx context.Context, user *models.User) error {
	if user.Username == "" {
		return errors.New("username cannot be empty")
	}
	userRef := c.docFor(usersCollection, user.ID)
	user.ID = userRef.ID
	user.CreatedAt = time.Now().UTC()
	nameRef := c.client.Collection(usernamesCollection).Doc(user.Username)

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(nameRef, map[string]interface{}{"userId": user.ID}); err != nil {
			return err
		}
		return tx.Create(userRef, user)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return database.ErrDuplicateUser
		}
		c.logger.Error("Firestore error creating user", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

// --- Activity ---

func (c *FirestoreClient) LogActivity(ctx context.Context, entry *models.ActivityLog) (string, error) {
	docRef := c.docFor(activityCollection, entry.ID)
	entry.ID = docRef.ID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := docRef.Create(ctx, entry); err != nil {
		c.logger.Error("Firestore error logging activity", zap.Error(err))
		return "", err
	}
	return entry.ID, nil
}

func (c *FirestoreClient) ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	query := c.client.Collection(activityCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(database.NormalizeLimit(limit, database.DefaultLimit))

	var out []models.ActivityLog
	err := c.collect(ctx, query, func(doc *firestore.DocumentSnapshot) error {
		var a models.ActivityLog
		if err := doc.DataTo(&a); err != nil {
			return err
		}
		a.ID = doc.Ref.ID
		out = append(out, a)
		return nil
	})
	return out, err
}

// --- Inventory ---

func (c *FirestoreClient) RecordInventoryChange(ctx context.Context, change *models.InventoryChange) (string, error) {
	changeRef := c.docFor(inventoryCollection, change.ID)
	change.ID = changeRef.ID
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	productRef := c.client.Collection(productsCollection).Doc(change.ProductID)

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(productRef)
		productExists := err == nil
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err := tx.Create(changeRef, change); err != nil {
			return err
		}
		if !productExists {
			c.logger.Warn("Inventory change for unknown product", zap.String("productId", change.ProductID))
			return nil
		}
		return tx.Update(productRef, []firestore.Update{
			{Path: "stock", Value: change.NewStock},
			{Path: "updatedAt", Value: change.CreatedAt},
		})
	})
	if err != nil {
		c.logger.Error("Firestore error recording inventory change", zap.String("productId", change.ProductID), zap.Error(err))
		return "", err
	}
	return change.ID, nil
}

func (c *FirestoreClient) ListLowStockProducts(ctx context.Context, threshold, limit int) ([]models.Product, error) {
	query := c.client.Collection(productsCollection).
		Where("stock", "<=", threshold).
		OrderBy("stock", firestore.Asc).
		Limit(database.NormalizeLimit(limit, database.DefaultLimit))

	var out []models.Product
	err := c.collect(ctx, query, func(doc *firestore.DocumentSnapshot) error {
		var p models.Product
		if err := doc.DataTo(&p); err != nil {
			return err
		}
		p.ID = doc.Ref.ID
		out = append(out, p)
		return nil
	})
	return out, err
}

// --- Staff ---

func (c *FirestoreClient) UpsertStaffStatus(ctx context.Context, st *models.StaffStatus) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	if _, err := c.client.Collection(staffStatusCollection).Doc(st.StaffID).Set(ctx, st); err != nil {
		c.logger.Error("Firestore error upserting staff status", zap.String("staffId", st.StaffID), zap.Error(err))
		return err
	}
	return nil
}

// --- Orders ---

func (c *FirestoreClient) ListRecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	query := c.client.Collection(ordersCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(database.NormalizeLimit(limit, database.DefaultLimit))

	var out []models.Order
	err := c.collect(ctx, query, func(doc *firestore.DocumentSnapshot) error {
		var o models.Order
		if err := doc.DataTo(&o); err != nil {
			return err
		}
		o.ID = doc.Ref.ID
		out = append(out, o)
		return nil
	})
	return out, err
}

// docFor keeps a caller-assigned id and generates one otherwise.
func (c *FirestoreClient) docFor(collection, id string) *firestore.DocumentRef {
	if id == "" {
		return c.client.Collection(collection).NewDoc()
	}
	return c.client.Collection(collection).Doc(id)
}

func (c *FirestoreClient) collect(ctx context.Context, query firestore.Query, fn func(*firestore.DocumentSnapshot) error) error {
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			c.logger.Error("Firestore error iterating documents", zap.Error(err))
			return err
		}
		if err := fn(doc); err != nil {
			return fmt.Errorf("decode %s: %w", doc.Ref.ID, err)
		}
	}
}
