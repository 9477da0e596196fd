package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/kkuzar/pos_hub/internal/database"
	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/kkuzar/pos_hub/utils/pointer"
	"go.uber.org/zap"
)

const (
	// Primary key and sort key names used in the table
	pkName = "pk"
	skName = "sk"

	// Item key prefixes
	userPrefix      = "USER#"
	usernamePrefix  = "USERNAME#"
	productPrefix   = "PRODUCT#"
	inventoryPrefix = "INVENTORY#"
	staffPrefix     = "STAFF#"

	// Fixed partitions for time-ordered feeds; SK is <RFC3339Nano>#<id>
	activityPK = "ACTIVITY"
	orderPK    = "ORDER"

	userTypeSK     = "USER"
	usernameTypeSK = "USERNAME"
	productTypeSK  = "PRODUCT"
	staffTypeSK    = "STATUS"
)

type DynamoDBClient struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewDynamoDBClient creates a new DynamoDB client.
// The AWS SDK handles connection pooling internally.
func NewDynamoDBClient(ctx context.Context, region, tableName string, logger *zap.Logger) (*DynamoDBClient, error) {
	if region == "" || tableName == "" {
		return nil, errors.New("DynamoDB region or table name is empty")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	logger = logger.Named("dynamodb")
	logger.Info("DynamoDB client initialized", zap.String("table", tableName), zap.String("region", region))

	return &DynamoDBClient{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
		logger:    logger,
	}, nil
}

func (c *DynamoDBClient) Ping(ctx context.Context) error {
	_, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)})
	return err
}

// Close is a no-op for the DynamoDB client as the SDK manages connections.
func (c *DynamoDBClient) Close(ctx context.Context) error {
	return nil
}

// --- Key Generation Helpers ---
func userPK(userID string) string       { return userPrefix + userID }
func usernamePK(username string) string { return usernamePrefix + username }
func productPK(productID string) string { return productPrefix + productID }
func inventoryPK(productID string) string {
	return inventoryPrefix + productID
}
func staffPK(staffID string) string { return staffPrefix + staffID }
func feedSK(at time.Time, id string) string {
	return at.UTC().Format(time.RFC3339Nano) + "#" + id
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		pkName: &types.AttributeValueMemberS{Value: pk},
		skName: &types.AttributeValueMemberS{Value: sk},
	}
}

// item marshals v and stamps it with its table keys.
func item(v interface{}, pk, sk string) (map[string]types.AttributeValue, error) {
	m, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, err
	}
	m[pkName] = &types.AttributeValueMemberS{Value: pk}
	m[skName] = &types.AttributeValueMemberS{Value: sk}
	return m, nil
}

// --- Expressions ---

// createConditionExpression fails a put when the key is already taken.
func createConditionExpression() (expression.Expression, error) {
	return expression.NewBuilder().WithCondition(expression.AttributeNotExists(expression.Name(pkName))).Build()
}

// stockUpdateExpression patches stock on products that exist; the change
// record itself is written regardless.
func stockUpdateExpression(change *models.InventoryChange) (expression.Expression, error) {
	cond := expression.AttributeExists(expression.Name(pkName))
	update := expression.Set(expression.Name("stock"), expression.Value(change.NewStock)).
		Set(expression.Name("updatedAt"), expression.Value(change.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
}

func lowStockFilterExpression(threshold int) (expression.Expression, error) {
	filt := expression.Name(skName).Equal(expression.Value(productTypeSK)).
		And(expression.Name("stock").LessThanEqual(expression.Value(threshold)))
	return expression.NewBuilder().WithFilter(filt).Build()
}

func feedKeyExpression(pk string) (expression.Expression, error) {
	return expression.NewBuilder().WithKeyCondition(expression.Key(pkName).Equal(expression.Value(pk))).Build()
}

// --- User Methods ---

func (c *DynamoDBClient) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       keyOf(userPK(userID), userTypeSK),
	})
	if err != nil {
		c.logger.Error("DynamoDB error getting user", zap.String("userId", userID), zap.Error(err))
		return nil, err
	}
	if result.Item == nil {
		return nil, database.ErrNotFound
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", userID, err)
	}
	return &user, nil
}

// GetUserByUsername resolves the username index item, then loads the user.
func (c *DynamoDBClient) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       keyOf(usernamePK(username), usernameTypeSK),
	})
	if err != nil {
		c.logger.Error("DynamoDB error getting username", zap.String("username", username), zap.Error(err))
		return nil, err
	}
	if result.Item == nil {
		return nil, database.ErrNotFound
	}

	var ref struct {
		UserID string `dynamodbav:"userId"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &ref); err != nil {
		return nil, fmt.Errorf("unmarshal username index %s: %w", username, err)
	}
	return c.GetUserByID(ctx, ref.UserID)
}

// CreateUser writes the user and its username index item in one transaction
// so a taken username fails the whole write.
func (c *DynamoDBClient) CreateUser(ctx context.Context, user *models.User) error {
	if user.Username == "" {
		return errors.New("username cannot be empty")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = time.Now().UTC()

	userItem, err := item(user, userPK(user.ID), userTypeSK)
	if err != nil {
		return fmt.Errorf("failed to marshal user for CreateUser: %w", err)
	}
	refItem, err := item(map[string]string{"userId": user.ID}, usernamePK(user.Username), usernameTypeSK)
	if err != nil {
		return fmt.Errorf("failed to marshal username index: %w", err)
	}

	expr, err := createConditionExpression()
	if err != nil {
		return fmt.Errorf("failed to build create condition: %w", err)
	}
	put := func(itemMap map[string]types.AttributeValue) types.TransactWriteItem {
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(c.tableName),
			Item:                     itemMap,
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		}}
	}
	_, err = c.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{put(refItem), put(userItem)},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return database.ErrDuplicateUser
		}
		c.logger.Error("DynamoDB error creating user", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

// --- Activity ---

func (c *DynamoDBClient) LogActivity(ctx context.Context, entry *models.ActivityLog) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	itemMap, err := item(entry, activityPK, feedSK(entry.CreatedAt, entry.ID))
	if err != nil {
		return "", fmt.Errorf("failed to marshal activity: %w", err)
	}
	if _, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(c.tableName), Item: itemMap}); err != nil {
		c.logger.Error("DynamoDB error logging activity", zap.Error(err))
		return "", err
	}
	return entry.ID, nil
}

func (c *DynamoDBClient) ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	var out []models.ActivityLog
	err := c.queryFeed(ctx, activityPK, limit, &out)
	return out, err
}

// --- Inventory ---

func (c *DynamoDBClient) RecordInventoryChange(ctx context.Context, change *models.InventoryChange) (string, error) {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	itemMap, err := item(change, inventoryPK(change.ProductID), feedSK(change.CreatedAt, change.ID))
	if err != nil {
		return "", fmt.Errorf("failed to marshal inventory change: %w", err)
	}
	if _, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(c.tableName), Item: itemMap}); err != nil {
		c.logger.Error("DynamoDB error recording inventory change", zap.String("productId", change.ProductID), zap.Error(err))
		return "", err
	}

	expr, err := stockUpdateExpression(change)
	if err != nil {
		return "", fmt.Errorf("failed to build stock update expression: %w", err)
	}

	_, err = c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       keyOf(productPK(change.ProductID), productTypeSK),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			c.logger.Warn("Inventory change for unknown product", zap.String("productId", change.ProductID))
			return change.ID, nil
		}
		return "", fmt.Errorf("update product stock: %w", err)
	}
	return change.ID, nil
}

// ListLowStockProducts scans product items. Fine for store-sized catalogs.
func (c *DynamoDBClient) ListLowStockProducts(ctx context.Context, threshold, limit int) ([]models.Product, error) {
	limit = database.NormalizeLimit(limit, database.DefaultLimit)
	expr, err := lowStockFilterExpression(threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to build low stock filter: %w", err)
	}
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(c.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var products []models.Product
	paginator := dynamodb.NewScanPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			c.logger.Error("DynamoDB error scanning products", zap.Error(err))
			return nil, err
		}
		var pageProducts []models.Product
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageProducts); err != nil {
			return nil, fmt.Errorf("unmarshal products page: %w", err)
		}
		products = append(products, pageProducts...)
	}

	sort.Slice(products, func(i, j int) bool {
		if products[i].Stock != products[j].Stock {
			return products[i].Stock < products[j].Stock
		}
		return products[i].Name < products[j].Name
	})
	if len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

// --- Staff ---

func (c *DynamoDBClient) UpsertStaffStatus(ctx context.Context, status *models.StaffStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	itemMap, err := item(status, staffPK(status.StaffID), staffTypeSK)
	if err != nil {
		return fmt.Errorf("failed to marshal staff status: %w", err)
	}
	if _, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(c.tableName), Item: itemMap}); err != nil {
		c.logger.Error("DynamoDB error upserting staff status", zap.String("staffId", status.StaffID), zap.Error(err))
		return err
	}
	return nil
}

// --- Orders ---

func (c *DynamoDBClient) ListRecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	var out []models.Order
	err := c.queryFeed(ctx, orderPK, limit, &out)
	return out, err
}

// queryFeed reads a time-ordered partition newest first.
func (c *DynamoDBClient) queryFeed(ctx context.Context, pk string, limit int, dst interface{}) error {
	limit = database.NormalizeLimit(limit, database.DefaultLimit)
	expr, err := feedKeyExpression(pk)
	if err != nil {
		return fmt.Errorf("failed to build feed query expression: %w", err)
	}
	result, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     pointer.To(int32(limit)),
		ScanIndexForward:          pointer.To(false),
	})
	if err != nil {
		c.logger.Error("DynamoDB error querying feed", zap.String("pk", pk), zap.Error(err))
		return err
	}
	if err := attributevalue.UnmarshalListOfMaps(result.Items, dst); err != nil {
		return fmt.Errorf("unmarshal %s feed: %w", pk, err)
	}
	return nil
}
