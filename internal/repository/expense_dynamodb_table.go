package repository

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// dynamoDBTableAPI is the subset of the DynamoDB client used to provision
// the expense table.
type dynamoDBTableAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// CreateExpenseTable creates the expense table and its company index if the
// table does not exist yet. It reports whether the table was created. With
// maxWait > 0 it blocks until the table is ACTIVE.
func CreateExpenseTable(ctx context.Context, cfg aws.Config, tableName string, maxWait time.Duration) (bool, error) {
	return createExpenseTable(ctx, dynamodb.NewFromConfig(cfg), tableName, maxWait)
}

func createExpenseTable(ctx context.Context, client dynamoDBTableAPI, tableName string, maxWait time.Duration) (bool, error) {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err == nil {
		return false, nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to describe table "+tableName)
	}

	_, err = client.CreateTable(ctx, expenseTableInput(tableName))
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to create table "+tableName)
	}

	if maxWait > 0 {
		waiter := dynamodb.NewTableExistsWaiter(client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, maxWait); err != nil {
			return true, errors.Wrap(err, errors.ErrCodeInternal, "table "+tableName+" did not become active")
		}
	}
	return true, nil
}

func expenseTableInput(tableName string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("company_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("submitted_at"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(GSICompany),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("company_id"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("submitted_at"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}
