// Package catalog reads game records. Catalog editing and import are not
// part of this service.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/errs"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/money"
)

type ReleaseStatus string

const (
	StatusDraft      ReleaseStatus = "Draft"
	StatusComingSoon ReleaseStatus = "ComingSoon"
	StatusReleased   ReleaseStatus = "Released"
	StatusDelisted   ReleaseStatus = "Delisted"
)

// PublisherIndex: hash publisher_id.
const PublisherIndex = "publisher_id-index"

// Game is the item stored in the games table.
type Game struct {
	GameID        string        `dynamodbav:"game_id" json:"game_id"` // PK
	Title         string        `dynamodbav:"title" json:"title"`
	PublisherID   string        `dynamodbav:"publisher_id" json:"publisher_id"`
	Price         money.Money   `dynamodbav:"price" json:"price"`
	DiscountPrice *money.Money  `dynamodbav:"discount_price,omitempty" json:"discount_price,omitempty"`
	Status        ReleaseStatus `dynamodbav:"release_status" json:"status"`
	CreatedAt     time.Time     `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `dynamodbav:"updated_at" json:"updated_at"`
}

// EffectivePrice is the discount price when one is set, else the list price.
func (g *Game) EffectivePrice() money.Money {
	if g.DiscountPrice != nil {
		return *g.DiscountPrice
	}
	return g.Price
}

func (g *Game) Released() bool { return g.Status == StatusReleased }

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// GetGame returns the game or an errs NotFound failure.
func (s *Store) GetGame(ctx context.Context, gameID string) (*Game, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"game_id": &types.AttributeValueMemberS{Value: gameID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, errs.NotFound("game %s", gameID)
	}
	var g Game
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, fmt.Errorf("unmarshal game: %w", err)
	}
	return &g, nil
}

// ListByPublisher returns every game owned by publisherID.
func (s *Store) ListByPublisher(ctx context.Context, publisherID string) ([]Game, error) {
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(PublisherIndex),
		KeyConditionExpression: awsString("publisher_id = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: publisherID},
		},
	})
	var games []Game
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query games of publisher %s: %w", publisherID, err)
		}
		var batch []Game
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal games: %w", err)
		}
		games = append(games, batch...)
	}
	return games, nil
}

func awsString(s string) *string { return &s }
