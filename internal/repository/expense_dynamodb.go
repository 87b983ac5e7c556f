package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// GSICompany indexes expenses by company_id with submitted_at as sort key.
// CreateExpenseTable provisions both the table and the index.
const GSICompany = "gsi-company"

// dynamoDBAPI is the subset of the DynamoDB client used by
// DynamoDBExpenseStore.
type dynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBExpenseStore keeps expenses in a DynamoDB table keyed by id.
// Updates are conditional on the stored version attribute.
type DynamoDBExpenseStore struct {
	client    dynamoDBAPI
	tableName string
}

// NewDynamoDBExpenseStore creates a store from an AWS configuration.
func NewDynamoDBExpenseStore(cfg aws.Config, tableName string) *DynamoDBExpenseStore {
	return newDynamoDBExpenseStoreWithClient(dynamodb.NewFromConfig(cfg), tableName)
}

func newDynamoDBExpenseStoreWithClient(client dynamoDBAPI, tableName string) *DynamoDBExpenseStore {
	return &DynamoDBExpenseStore{client: client, tableName: tableName}
}

type dynamoStep struct {
	Kind           string `dynamodbav:"kind"`
	RequiredRole   string `dynamodbav:"required_role,omitempty"`
	RequiredUserID string `dynamodbav:"required_user_id,omitempty"`
	Order          int    `dynamodbav:"order"`
	Decision       string `dynamodbav:"decision"`
	DecidedBy      string `dynamodbav:"decided_by,omitempty"`
	DecidedAt      string `dynamodbav:"decided_at,omitempty"` // RFC3339Nano
	Comment        string `dynamodbav:"comment,omitempty"`
}

type dynamoExpense struct {
	ID            string       `dynamodbav:"id"`
	CompanyID     string       `dynamodbav:"company_id"`
	SubmitterID   string       `dynamodbav:"submitter_id"`
	Description   string       `dynamodbav:"description"`
	Category      string       `dynamodbav:"category"`
	Amount        string       `dynamodbav:"amount"` // decimal string
	Currency      string       `dynamodbav:"currency"`
	ExpenseDate   string       `dynamodbav:"expense_date"`
	PaymentMethod string       `dynamodbav:"payment_method"`
	Remarks       string       `dynamodbav:"remarks"`
	Steps         []dynamoStep `dynamodbav:"steps"`
	Status        string       `dynamodbav:"status"`
	Version       int          `dynamodbav:"version"`
	SubmittedAt   string       `dynamodbav:"submitted_at"`
	ResolvedAt    string       `dynamodbav:"resolved_at,omitempty"`
	UpdatedAt     string       `dynamodbav:"updated_at"`
}

func expenseToItem(e *approval.Expense) *dynamoExpense {
	item := &dynamoExpense{
		ID:            e.ID,
		CompanyID:     e.CompanyID,
		SubmitterID:   e.SubmitterID,
		Description:   e.Description,
		Category:      string(e.Category),
		Amount:        e.Amount.String(),
		Currency:      string(e.Currency),
		ExpenseDate:   e.ExpenseDate,
		PaymentMethod: string(e.PaymentMethod),
		Remarks:       e.Remarks,
		Steps:         make([]dynamoStep, 0, len(e.Steps)),
		Status:        string(e.Status),
		Version:       e.Version,
		SubmittedAt:   formatTime(e.SubmittedAt),
		UpdatedAt:     formatTime(e.UpdatedAt),
	}
	if e.ResolvedAt != nil {
		item.ResolvedAt = formatTime(*e.ResolvedAt)
	}
	for _, s := range e.Steps {
		ds := dynamoStep{
			Kind:           string(s.Kind),
			RequiredRole:   string(s.RequiredRole),
			RequiredUserID: s.RequiredUserID,
			Order:          s.Order,
			Decision:       string(s.Decision),
			DecidedBy:      s.DecidedBy,
			Comment:        s.Comment,
		}
		if s.DecidedAt != nil {
			ds.DecidedAt = formatTime(*s.DecidedAt)
		}
		item.Steps = append(item.Steps, ds)
	}
	return item
}

func itemToExpense(item *dynamoExpense) (*approval.Expense, error) {
	amount, err := decimal.NewFromString(item.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	submittedAt, err := time.Parse(time.RFC3339Nano, item.SubmittedAt)
	if err != nil {
		return nil, fmt.Errorf("parse submitted_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	resolvedAt, err := parseOptionalTime(item.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("parse resolved_at: %w", err)
	}

	e := &approval.Expense{
		ID:            item.ID,
		CompanyID:     item.CompanyID,
		SubmitterID:   item.SubmitterID,
		Description:   item.Description,
		Category:      approval.Category(item.Category),
		Amount:        amount,
		Currency:      approval.Currency(item.Currency),
		ExpenseDate:   item.ExpenseDate,
		PaymentMethod: approval.PaymentMethod(item.PaymentMethod),
		Remarks:       item.Remarks,
		Steps:         make([]approval.Step, 0, len(item.Steps)),
		Status:        approval.Status(item.Status),
		Version:       item.Version,
		SubmittedAt:   submittedAt,
		ResolvedAt:    resolvedAt,
		UpdatedAt:     updatedAt,
	}
	for i, ds := range item.Steps {
		decidedAt, err := parseOptionalTime(ds.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("parse steps[%d].decided_at: %w", i, err)
		}
		e.Steps = append(e.Steps, approval.Step{
			Kind:           approval.RequirementKind(ds.Kind),
			RequiredRole:   approval.Role(ds.RequiredRole),
			RequiredUserID: ds.RequiredUserID,
			Order:          ds.Order,
			Decision:       approval.Decision(ds.Decision),
			DecidedBy:      ds.DecidedBy,
			DecidedAt:      decidedAt,
			Comment:        ds.Comment,
		})
	}
	return e, nil
}

// Create stores a new expense at version 1.
func (s *DynamoDBExpenseStore) Create(ctx context.Context, e *approval.Expense) error {
	item := expenseToItem(e)
	item.Version = 1
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal expense")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return errors.Newf(errors.ErrCodeConflict, "expense %s already exists", e.ID)
		}
		return s.wrap(err, "PutItem")
	}
	e.Version = 1
	return nil
}

// Get retrieves an expense by id.
func (s *DynamoDBExpenseStore) Get(ctx context.Context, id string) (*approval.Expense, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.wrap(err, "GetItem")
	}
	if out.Item == nil {
		return nil, errors.NotFound("expense", id)
	}

	var item dynamoExpense
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal expense")
	}
	e, err := itemToExpense(&item)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode expense")
	}
	return e, nil
}

// Update replaces the item if its stored version equals expectedVersion.
func (s *DynamoDBExpenseStore) Update(ctx context.Context, e *approval.Expense, expectedVersion int) error {
	item := expenseToItem(e)
	item.Version = expectedVersion + 1
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal expense")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(id) AND version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprint(expectedVersion)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return s.missOrConflict(ctx, e.ID)
		}
		return s.wrap(err, "PutItem")
	}
	e.Version = item.Version
	return nil
}

// missOrConflict tells a missing item apart from a version mismatch after a
// conditional write failed.
func (s *DynamoDBExpenseStore) missOrConflict(ctx context.Context, id string) error {
	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NotFound("expense", id)
	}
	return errors.Newf(errors.ErrCodeConcurrentModification, "expense %s was modified concurrently", id)
}

// Delete removes the item if its stored version equals expectedVersion.
func (s *DynamoDBExpenseStore) Delete(ctx context.Context, id string, expectedVersion int) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(id),
		ConditionExpression: aws.String("attribute_exists(id) AND version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprint(expectedVersion)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return s.missOrConflict(ctx, id)
		}
		return s.wrap(err, "DeleteItem")
	}
	return nil
}

// ListByCompany queries the company index, following pagination, and returns
// the expenses newest first.
func (s *DynamoDBExpenseStore) ListByCompany(ctx context.Context, companyID string) ([]*approval.Expense, error) {
	expenses := make([]*approval.Expense, 0)
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(GSICompany),
			KeyConditionExpression: aws.String("company_id = :c"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c": &types.AttributeValueMemberS{Value: companyID},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, s.wrap(err, "Query:"+GSICompany)
		}

		for _, av := range out.Items {
			var item dynamoExpense
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal expense")
			}
			e, err := itemToExpense(&item)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode expense")
			}
			expenses = append(expenses, e)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].SubmittedAt.After(expenses[j].SubmittedAt)
	})
	return expenses, nil
}

func (s *DynamoDBExpenseStore) exists(ctx context.Context, id string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  s.key(id),
		ProjectionExpression: aws.String("id"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return false, s.wrap(err, "GetItem")
	}
	return out.Item != nil, nil
}

func (s *DynamoDBExpenseStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoDBExpenseStore) wrap(err error, op string) error {
	return errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("dynamodb %s on %s failed", op, s.tableName))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
