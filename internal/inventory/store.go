package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/errs"
)

const (
	// candidateWindow is how many Available keys one reservation round looks at.
	candidateWindow = 10
	// reserveRounds bounds re-queries when every candidate was taken by a concurrent caller
	// or was already gone from the table but still listed by the index.
	reserveRounds = 8
	// batchChunk keys per transaction; each key writes two items and the limit is 100.
	batchChunk = 25
	// batchAttempts per chunk when a generated code collides with an existing one.
	batchAttempts = 3
)

// ErrConditionFailed indicates a conditional write lost (the key was not in the expected state).
var ErrConditionFailed = errors.New("conditional check failed")

// Store manages game keys in DynamoDB. Every state change is a single
// conditional write, so it is safe across processes without locks.
type Store struct {
	client      aws.DynamoDBAPI
	keysTable   string
	codesTable  string
	ownersTable string
	nowFunc     func() time.Time
	newCode     func() (string, error)
}

// NewStore returns a key inventory backed by keysTable, the per-game code
// uniqueness table codesTable and the one-claim-per-customer-and-game table
// ownersTable.
func NewStore(client aws.DynamoDBAPI, keysTable, codesTable, ownersTable string) *Store {
	return &Store{
		client:      client,
		keysTable:   keysTable,
		codesTable:  codesTable,
		ownersTable: ownersTable,
		nowFunc:     time.Now,
		newCode:     NewKeyCode,
	}
}

// ReserveOne flips one Available key of gameID to Reserved for orderID.
// Candidates come from the status index; the flip itself is a conditional
// update on business_status, so two callers can never win the same key.
// When no candidate can be won the game is reported out of stock.
func (s *Store) ReserveOne(ctx context.Context, gameID, orderID string) (string, error) {
	for round := 0; round < reserveRounds; round++ {
		candidates, err := s.availableKeyIDs(ctx, gameID)
		if err != nil {
			return "", err
		}
		if len(candidates) == 0 {
			return "", errs.New(errs.KindOutOfStock, "no available key for game %s", gameID)
		}
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		for _, keyID := range candidates {
			err := s.reserve(ctx, keyID, orderID)
			if errors.Is(err, ErrConditionFailed) {
				continue
			}
			if err != nil {
				return "", err
			}
			log.Printf("[inventory] reserved key=%s game=%s order=%s", keyID, gameID, orderID)
			return keyID, nil
		}
	}
	// every listed candidate lost its condition; the status index lags the table
	log.Printf("[inventory] game=%s order=%s: no listed key could be reserved after %d rounds", gameID, orderID, reserveRounds)
	return "", errs.New(errs.KindOutOfStock, "no reservable key for game %s", gameID)
}

func (s *Store) availableKeyIDs(ctx context.Context, gameID string) ([]string, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                &s.keysTable,
		IndexName:                awsString(StatusIndex),
		KeyConditionExpression:   awsString("game_id = :g AND #bs = :available"),
		ExpressionAttributeNames: map[string]string{"#bs": "business_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g":         &types.AttributeValueMemberS{Value: gameID},
			":available": &types.AttributeValueMemberS{Value: string(StatusAvailable)},
		},
		Limit: awsInt32(candidateWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("query available keys: %w", err)
	}
	var rows []struct {
		KeyID string `dynamodbav:"key_id"`
	}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal keys: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.KeyID)
	}
	return ids, nil
}

func (s *Store) reserve(ctx context.Context, keyID, orderID string) error {
	now := timeValue(s.nowFunc())
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.keysTable,
		Key:                      keyOf(keyID),
		UpdateExpression:         awsString("SET #bs = :reserved, reserved_order_id = :o, reserved_at = :now, updated_at = :now"),
		ConditionExpression:      awsString("#bs = :available"),
		ExpressionAttributeNames: map[string]string{"#bs": "business_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":reserved":  &types.AttributeValueMemberS{Value: string(StatusReserved)},
			":available": &types.AttributeValueMemberS{Value: string(StatusAvailable)},
			":o":         &types.AttributeValueMemberS{Value: orderID},
			":now":       now,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConditionFailed
		}
		return fmt.Errorf("reserve key %s: %w", keyID, err)
	}
	return nil
}

// ConfirmSaleTx builds the Reserved -> Sold update so callers can commit
// several sales atomically with their own writes.
func (s *Store) ConfirmSaleTx(keyID, customerID string, saleTime time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{Update: s.confirmSaleUpdate(keyID, customerID, saleTime)}
}

func (s *Store) confirmSaleUpdate(keyID, customerID string, saleTime time.Time) *types.Update {
	return &types.Update{
		TableName:                &s.keysTable,
		Key:                      keyOf(keyID),
		UpdateExpression:         awsString("SET #bs = :sold, owner_customer_id = :owner, ownership_date = :at, updated_at = :at REMOVE reserved_order_id, reserved_at"),
		ConditionExpression:      awsString("#bs = :reserved"),
		ExpressionAttributeNames: map[string]string{"#bs": "business_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sold":     &types.AttributeValueMemberS{Value: string(StatusSold)},
			":reserved": &types.AttributeValueMemberS{Value: string(StatusReserved)},
			":owner":    &types.AttributeValueMemberS{Value: customerID},
			":at":       timeValue(saleTime),
		},
	}
}

// ConfirmSale moves a Reserved key to Sold and records its owner.
func (s *Store) ConfirmSale(ctx context.Context, keyID, customerID string, saleTime time.Time) error {
	u := s.confirmSaleUpdate(keyID, customerID, saleTime)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 u.TableName,
		Key:                       u.Key,
		UpdateExpression:          u.UpdateExpression,
		ConditionExpression:       u.ConditionExpression,
		ExpressionAttributeNames:  u.ExpressionAttributeNames,
		ExpressionAttributeValues: u.ExpressionAttributeValues,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			key, gerr := s.Get(ctx, keyID)
			if gerr != nil {
				return gerr
			}
			if key == nil {
				return errs.NotFound("game key %s", keyID)
			}
			return errs.InvalidTransition("key %s is %s, cannot confirm sale", keyID, key.BusinessStatus)
		}
		return fmt.Errorf("confirm sale of key %s: %w", keyID, err)
	}
	return nil
}

// ReleaseReservation returns a Reserved key to Available. Releasing an
// Available key is a no-op; releasing a Sold key is an invalid transition.
func (s *Store) ReleaseReservation(ctx context.Context, keyID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.keysTable,
		Key:                      keyOf(keyID),
		UpdateExpression:         awsString("SET #bs = :available, updated_at = :now REMOVE reserved_order_id, reserved_at"),
		ConditionExpression:      awsString("#bs = :reserved"),
		ExpressionAttributeNames: map[string]string{"#bs": "business_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":available": &types.AttributeValueMemberS{Value: string(StatusAvailable)},
			":reserved":  &types.AttributeValueMemberS{Value: string(StatusReserved)},
			":now":       timeValue(s.nowFunc()),
		},
	})
	if err == nil {
		log.Printf("[inventory] released key=%s", keyID)
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return fmt.Errorf("release key %s: %w", keyID, err)
	}
	key, gerr := s.Get(ctx, keyID)
	if gerr != nil {
		return gerr
	}
	switch {
	case key == nil:
		return errs.NotFound("game key %s", keyID)
	case key.BusinessStatus == StatusAvailable:
		return nil
	default:
		return errs.InvalidTransition("key %s is %s, cannot release", keyID, key.BusinessStatus)
	}
}

// Get fetches a key by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, keyID string) (*GameKey, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.keysTable,
		Key:            keyOf(keyID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var k GameKey
	if err := attributevalue.UnmarshalMap(out.Item, &k); err != nil {
		return nil, fmt.Errorf("unmarshal key: %w", err)
	}
	return &k, nil
}

// CountByStatus tallies every key of gameID by business status.
func (s *Store) CountByStatus(ctx context.Context, gameID string) (Counts, error) {
	var counts Counts
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:                &s.keysTable,
		IndexName:                awsString(StatusIndex),
		KeyConditionExpression:   awsString("game_id = :g"),
		ProjectionExpression:     awsString("key_id, #bs"),
		ExpressionAttributeNames: map[string]string{"#bs": "business_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g": &types.AttributeValueMemberS{Value: gameID},
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return Counts{}, fmt.Errorf("query keys of game %s: %w", gameID, err)
		}
		var rows []struct {
			BusinessStatus BusinessStatus `dynamodbav:"business_status"`
		}
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &rows); err != nil {
			return Counts{}, fmt.Errorf("unmarshal keys: %w", err)
		}
		for _, r := range rows {
			counts.add(r.BusinessStatus)
		}
	}
	return counts, nil
}

// CreateBatch generates quantity Available keys for gameID. Codes are unique
// per game: each key is written together with a guard item in the codes
// table, and a chunk whose code collides is regenerated. On error the ids of
// chunks that were already committed are returned alongside it.
func (s *Store) CreateBatch(ctx context.Context, gameID, version string, quantity int) ([]string, error) {
	if gameID == "" {
		return nil, errs.BadRequest("game id is required")
	}
	if quantity <= 0 {
		return nil, errs.BadRequest("quantity must be positive, got %d", quantity)
	}

	ids := make([]string, 0, quantity)
	for remaining := quantity; remaining > 0; remaining -= batchChunk {
		n := min(remaining, batchChunk)
		chunk, err := s.createChunk(ctx, gameID, version, n)
		if err != nil {
			return ids, err
		}
		ids = append(ids, chunk...)
	}
	log.Printf("[inventory] created %d keys game=%s version=%s", len(ids), gameID, version)
	return ids, nil
}

func (s *Store) createChunk(ctx context.Context, gameID, version string, n int) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= batchAttempts; attempt++ {
		keys, items, err := s.buildChunk(gameID, version, n)
		if err != nil {
			return nil, err
		}
		_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			ids := make([]string, len(keys))
			for i, k := range keys {
				ids[i] = k.KeyID
			}
			return ids, nil
		}
		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return nil, fmt.Errorf("write key batch: %w", err)
		}
		log.Printf("[inventory] key code collision game=%s attempt=%d, regenerating chunk", gameID, attempt)
		lastErr = err
	}
	return nil, fmt.Errorf("write key batch after %d attempts: %w", batchAttempts, lastErr)
}

func (s *Store) buildChunk(gameID, version string, n int) ([]GameKey, []types.TransactWriteItem, error) {
	now := s.nowFunc().UTC()
	seen := make(map[string]bool, n)
	keys := make([]GameKey, 0, n)
	items := make([]types.TransactWriteItem, 0, 2*n)
	for len(keys) < n {
		code, err := s.newCode()
		if err != nil {
			return nil, nil, err
		}
		if seen[code] {
			continue
		}
		seen[code] = true

		k := GameKey{
			KeyID:            uuid.NewString(),
			GameID:           gameID,
			GameVersion:      version,
			KeyCode:          code,
			BusinessStatus:   StatusAvailable,
			ActivationStatus: NotActivated,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		keyItem, err := attributevalue.MarshalMap(k)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal key: %w", err)
		}
		guardItem, err := attributevalue.MarshalMap(keyCodeGuard{
			CodeRef: gameID + "#" + code,
			GameID:  gameID,
			KeyID:   k.KeyID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("marshal key code guard: %w", err)
		}
		items = append(items,
			types.TransactWriteItem{Put: &types.Put{
				TableName:           &s.keysTable,
				Item:                keyItem,
				ConditionExpression: awsString("attribute_not_exists(key_id)"),
			}},
			types.TransactWriteItem{Put: &types.Put{
				TableName:           &s.codesTable,
				Item:                guardItem,
				ConditionExpression: awsString("attribute_not_exists(code_ref)"),
			}},
		)
		keys = append(keys, k)
	}
	return keys, items, nil
}

// CustomerAlreadyOwns reports whether customerID owns any key of gameID. The
// ownership claim is read first; keys sold before claims existed are found
// through the owner index.
func (s *Store) CustomerAlreadyOwns(ctx context.Context, gameID, customerID string) (bool, error) {
	claim, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.ownersTable,
		Key:            ownershipKey(customerID, gameID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get ownership claim: %w", err)
	}
	if len(claim.Item) > 0 {
		return true, nil
	}

	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.keysTable,
		IndexName:              awsString(OwnerIndex),
		KeyConditionExpression: awsString("owner_customer_id = :c AND game_id = :g"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
			":g": &types.AttributeValueMemberS{Value: gameID},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return false, fmt.Errorf("query owned keys: %w", err)
	}
	return len(out.Items) > 0, nil
}

// ClaimOwnershipTx builds the put that records customerID as the owner of
// gameID. It fails its condition when a claim already exists, so a commit
// carrying it can sell a game to a customer at most once.
func (s *Store) ClaimOwnershipTx(customerID, gameID, keyID, orderID string, at time.Time) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(ownershipClaim{
		OwnershipRef: ownershipRef(customerID, gameID),
		CustomerID:   customerID,
		GameID:       gameID,
		KeyID:        keyID,
		OrderID:      orderID,
		CreatedAt:    at.UTC(),
	})
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal ownership claim: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &s.ownersTable,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(ownership_ref)"),
	}}, nil
}

// ListOwned returns every Sold key owned by customerID.
func (s *Store) ListOwned(ctx context.Context, customerID string) ([]GameKey, error) {
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.keysTable,
		IndexName:              awsString(OwnerIndex),
		KeyConditionExpression: awsString("owner_customer_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
		},
	})
	var keys []GameKey
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query owned keys: %w", err)
		}
		var batch []GameKey
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal keys: %w", err)
		}
		for _, k := range batch {
			if k.BusinessStatus == StatusSold {
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

func ownershipRef(customerID, gameID string) string {
	return customerID + "#" + gameID
}

func ownershipKey(customerID, gameID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ownership_ref": &types.AttributeValueMemberS{Value: ownershipRef(customerID, gameID)},
	}
}

func keyOf(keyID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key_id": &types.AttributeValueMemberS{Value: keyID},
	}
}

// timeValue encodes t the way attributevalue encodes time.Time fields.
func timeValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}

func awsString(s string) *string { return &s }

func awsInt32(v int32) *int32 { return &v }

func awsBool(v bool) *bool { return &v }
