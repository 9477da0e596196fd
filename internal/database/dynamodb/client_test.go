package dynamodb

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nameValues(names map[string]string) []string {
	out := make([]string, 0, len(names))
	for _, v := range names {
		out = append(out, v)
	}
	return out
}

func TestCreateConditionExpression(t *testing.T) {
	expr, err := createConditionExpression()
	require.NoError(t, err)

	require.NotNil(t, expr.Condition())
	assert.Contains(t, *expr.Condition(), "attribute_not_exists")
	assert.Equal(t, []string{pkName}, nameValues(expr.Names()))
}

func TestStockUpdateExpression(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)
	expr, err := stockUpdateExpression(&models.InventoryChange{ProductID: "p1", PreviousStock: 12, NewStock: 3, CreatedAt: at})
	require.NoError(t, err)

	require.NotNil(t, expr.Condition())
	require.NotNil(t, expr.Update())
	assert.Contains(t, *expr.Condition(), "attribute_exists")
	assert.Contains(t, *expr.Update(), "SET")
	assert.ElementsMatch(t, []string{pkName, "stock", "updatedAt"}, nameValues(expr.Names()))

	var sawStock, sawTime bool
	for _, v := range expr.Values() {
		switch av := v.(type) {
		case *types.AttributeValueMemberN:
			sawStock = av.Value == "3"
		case *types.AttributeValueMemberS:
			sawTime = av.Value == at.Format(time.RFC3339Nano)
		}
	}
	assert.True(t, sawStock)
	assert.True(t, sawTime)
}

func TestLowStockFilterExpression(t *testing.T) {
	expr, err := lowStockFilterExpression(5)
	require.NoError(t, err)

	require.NotNil(t, expr.Filter())
	assert.Contains(t, *expr.Filter(), "<=")
	assert.ElementsMatch(t, []string{skName, "stock"}, nameValues(expr.Names()))
	assert.Len(t, expr.Values(), 2)
}

func TestFeedKeyExpression(t *testing.T) {
	expr, err := feedKeyExpression(activityPK)
	require.NoError(t, err)

	require.NotNil(t, expr.KeyCondition())
	assert.Equal(t, []string{pkName}, nameValues(expr.Names()))
	require.Len(t, expr.Values(), 1)
	for _, v := range expr.Values() {
		assert.Equal(t, &types.AttributeValueMemberS{Value: activityPK}, v)
	}
}
