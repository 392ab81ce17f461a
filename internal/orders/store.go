package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
)

var (
	// ErrStatusMismatch is returned when a conditional status transition fails.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrDuplicateRequest means the idempotency key was already claimed.
	ErrDuplicateRequest = errors.New("idempotency key already used")
	// ErrCommitRejected means a condition inside the commit transaction failed.
	ErrCommitRejected = errors.New("commit transaction rejected")
)

// CommitRejectedError is a cancelled commit. Failed holds the positions of
// the transaction items whose condition did not hold.
type CommitRejectedError struct {
	Failed []int
	Err    error
}

func (e *CommitRejectedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCommitRejected, e.Err)
}

func (e *CommitRejectedError) Is(target error) bool { return target == ErrCommitRejected }

func (e *CommitRejectedError) Unwrap() error { return e.Err }

// Store encapsulates operations on the orders and order details tables.
type Store struct {
	client       aws.DynamoDBAPI
	tableName    string
	detailsTable string
	nowFunc      func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName, detailsTable string) *Store {
	return &Store{
		client:       client,
		tableName:    tableName,
		detailsTable: detailsTable,
		nowFunc:      time.Now,
	}
}

func (s *Store) orderPut(order Order) (*types.Put, error) {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	return &types.Put{
		TableName:           &s.tableName,
		Item:                orderMap,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	}, nil
}

// Create writes a new order. order.OrderID must be set by caller.
func (s *Store) Create(ctx context.Context, order Order) error {
	put, err := s.orderPut(order)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           put.TableName,
		Item:                put.Item,
		ConditionExpression: put.ConditionExpression,
	})
	if err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// CreateWithIdempotencyTransaction atomically writes the idempotency claim
// (which must carry its attribute_not_exists condition) and the order.
// Returns ErrDuplicateRequest when the claim lost.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, claim types.TransactWriteItem, order Order) error {
	put, err := s.orderPut(order)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{claim, {Put: put}},
	})
	if err != nil {
		// detect transaction canceled / conditional failure
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if len(tce.CancellationReasons) > 0 && reasonCode(tce.CancellationReasons[0]) == "ConditionalCheckFailed" {
				return ErrDuplicateRequest
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	return s.transition(ctx, orderID, expectedStatus, newStatus, "")
}

// MarkFailed moves a Pending order to Failed and records why.
func (s *Store) MarkFailed(ctx context.Context, orderID, reason string) error {
	return s.transition(ctx, orderID, StatusPending, StatusFailed, reason)
}

func (s *Store) transition(ctx context.Context, orderID, expectedStatus, newStatus, reason string) error {
	u := s.statusUpdate(orderID, expectedStatus, newStatus, s.nowFunc())
	if reason != "" {
		*u.UpdateExpression += ", failure_reason = :reason"
		u.ExpressionAttributeValues[":reason"] = &types.AttributeValueMemberS{Value: reason}
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 u.TableName,
		Key:                       u.Key,
		UpdateExpression:          u.UpdateExpression,
		ConditionExpression:       u.ConditionExpression,
		ExpressionAttributeNames:  u.ExpressionAttributeNames,
		ExpressionAttributeValues: u.ExpressionAttributeValues,
	})
	if err != nil {
		// detect conditional check failing
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (s *Store) statusUpdate(orderID, expectedStatus, newStatus string, at time.Time) *types.Update {
	updateExpr := "SET #s = :new, updated_at = :ua"
	return &types.Update{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         &updateExpr,
		ConditionExpression:      awsString("#s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "payment_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		},
	}
}

// CompleteTx is the Pending -> Completed transition as a transaction item.
func (s *Store) CompleteTx(orderID string, at time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{Update: s.statusUpdate(orderID, StatusPending, StatusCompleted, at)}
}

// DetailTx is the put of one order detail as a transaction item.
func (s *Store) DetailTx(d OrderDetail) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal order detail: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &s.detailsTable,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(detail_id)"),
	}}, nil
}

// Commit runs items as one transaction. token makes SDK retries of the same
// commit idempotent. A failed condition yields a *CommitRejectedError.
func (s *Store) Commit(ctx context.Context, token string, items []types.TransactWriteItem) error {
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: awsString(token),
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			rej := &CommitRejectedError{Err: err}
			for i, r := range tce.CancellationReasons {
				if reasonCode(r) == "ConditionalCheckFailed" {
					rej.Failed = append(rej.Failed, i)
				}
			}
			return rej
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Details returns the order details of orderID.
func (s *Store) Details(ctx context.Context, orderID string) ([]OrderDetail, error) {
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.detailsTable,
		IndexName:              awsString(OrderIndex),
		KeyConditionExpression: awsString("order_id = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	var details []OrderDetail
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query order details: %w", err)
		}
		var batch []OrderDetail
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal order details: %w", err)
		}
		details = append(details, batch...)
	}
	return details, nil
}

// AllDetails scans every order detail.
func (s *Store) AllDetails(ctx context.Context) ([]OrderDetail, error) {
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{TableName: &s.detailsTable})
	var details []OrderDetail
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan order details: %w", err)
		}
		var batch []OrderDetail
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal order details: %w", err)
		}
		details = append(details, batch...)
	}
	return details, nil
}

// ListByCustomer returns every order of customerID, any status.
func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(CustomerIndex),
		KeyConditionExpression: awsString("customer_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
		},
		ScanIndexForward: awsBool(false),
	})
	return collectOrders(ctx, p.HasMorePages, func(ctx context.Context) ([]map[string]types.AttributeValue, error) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		return page.Items, nil
	})
}

// ListByStatus scans for every order in status.
func (s *Store) ListByStatus(ctx context.Context, status string) ([]Order, error) {
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:                &s.tableName,
		FilterExpression:         awsString("#s = :s"),
		ExpressionAttributeNames: map[string]string{"#s": "payment_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: status},
		},
	})
	return collectOrders(ctx, p.HasMorePages, func(ctx context.Context) ([]map[string]types.AttributeValue, error) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		return page.Items, nil
	})
}

func collectOrders(ctx context.Context, more func() bool, next func(context.Context) ([]map[string]types.AttributeValue, error)) ([]Order, error) {
	var out []Order
	for more() {
		items, err := next(ctx)
		if err != nil {
			return nil, fmt.Errorf("read orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func reasonCode(r types.CancellationReason) string {
	if r.Code == nil {
		return ""
	}
	return *r.Code
}

func awsString(s string) *string { return &s }

func awsBool(v bool) *bool { return &v }
