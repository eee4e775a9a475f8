// Package zilliz keeps a vector archive of past change events. The alert
// factory queries it for precedent: changes that looked like the one that
// just triggered.
package zilliz

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/insight"
	"github.com/marketpulse/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	embedder       insight.Provider
	collectionName string
	vectorDim      int
}

// ArchivedChange is one change event as stored in the archive.
type ArchivedChange struct {
	ID          string
	Embedding   []float32
	Description string
	EntityID    string
	Category    string
	ObservedAt  time.Time
}

func NewClient(endpoint, collectionName string, vectorDim int, embedder insight.Provider) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Change archive client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		embedder:       embedder,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Change event embeddings",
		Fields: []*entity.Field{
			{
				Name:       "event_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", z.vectorDim),
				},
			},
			{
				Name:     "description",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
			{
				Name:     "entity_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "category",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "observed_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))
	return nil
}

// IndexEvent embeds a change description and stores it in the archive.
func (z *Client) IndexEvent(ctx context.Context, eventID, description, entityID, category string, observedAt time.Time) error {
	embedding, err := z.embedder.GenerateEmbedding(ctx, description)
	if err != nil {
		return fmt.Errorf("failed to embed change description: %w", err)
	}

	_, err = z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar("event_id", []string{eventID}),
		entity.NewColumnFloatVector("embedding", z.vectorDim, [][]float32{embedding}),
		entity.NewColumnVarChar("description", []string{description}),
		entity.NewColumnVarChar("entity_id", []string{entityID}),
		entity.NewColumnVarChar("category", []string{category}),
		entity.NewColumnInt64("observed_at", []int64{observedAt.Unix()}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert change event: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Change event archived", zap.String("event_id", eventID))
	return nil
}

// SimilarChanges returns descriptions of past changes closest to the given
// text. Satisfies the alert factory's archive dependency.
func (z *Client) SimilarChanges(ctx context.Context, text string, limit int) ([]string, error) {
	embedding, err := z.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		[]string{"description"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.L2,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search archive: %w", err)
	}

	var descriptions []string
	for _, sr := range searchResult {
		descCol := sr.Fields.GetColumn("description")
		for i := 0; i < sr.ResultCount; i++ {
			desc, err := descCol.Get(i)
			if err != nil {
				continue
			}
			if s, ok := desc.(string); ok {
				descriptions = append(descriptions, s)
			}
		}
	}

	logger.Debug("Archive search completed",
		zap.Int("limit", limit),
		zap.Int("results", len(descriptions)),
	)
	return descriptions, nil
}
