// Package neo4j backs the entity catalog: the graph of competitors, products,
// and keywords the pipeline monitors. The pipeline reads the catalog and
// records observed-change edges; catalog curation happens elsewhere.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/pkg/circuitbreaker"
	"github.com/marketpulse/backend/pkg/logger"
	"github.com/marketpulse/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// CatalogEntity is a monitored entity as the catalog knows it.
type CatalogEntity struct {
	ID         string
	Name       string
	Kind       string
	Properties map[string]interface{}
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Entity catalog client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// GetEntity looks up one catalog entity by id.
func (c *Client) GetEntity(ctx context.Context, entityID string) (*CatalogEntity, error) {
	var entity *CatalogEntity

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (e:Entity {id: $id})
			RETURN e.id AS id, e.name AS name, e.kind AS kind, properties(e) AS props
		`
		result, err := session.Run(ctx, query, map[string]interface{}{"id": entityID})
		if err != nil {
			return fmt.Errorf("failed to query entity: %w", err)
		}

		record, err := result.Single(ctx)
		if err != nil {
			return fmt.Errorf("entity %s not found: %w", entityID, err)
		}

		entity = &CatalogEntity{
			ID:   asString(record, "id"),
			Name: asString(record, "name"),
			Kind: asString(record, "kind"),
		}
		if props, ok := record.Get("props"); ok {
			if m, ok := props.(map[string]interface{}); ok {
				entity.Properties = m
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// RelatedEntities returns the entities directly connected to the given one,
// used to widen alert context with peers of the changed entity.
func (c *Client) RelatedEntities(ctx context.Context, entityID string, limit int) ([]CatalogEntity, error) {
	if limit <= 0 {
		limit = 10
	}

	var related []CatalogEntity
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (e:Entity {id: $id})-[]-(peer:Entity)
			RETURN DISTINCT peer.id AS id, peer.name AS name, peer.kind AS kind
			LIMIT $limit
		`
		result, err := session.Run(ctx, query, map[string]interface{}{
			"id":    entityID,
			"limit": limit,
		})
		if err != nil {
			return fmt.Errorf("failed to query related entities: %w", err)
		}

		records, err := result.Collect(ctx)
		if err != nil {
			return fmt.Errorf("failed to collect results: %w", err)
		}

		related = related[:0]
		for _, record := range records {
			related = append(related, CatalogEntity{
				ID:   asString(record, "id"),
				Name: asString(record, "name"),
				Kind: asString(record, "kind"),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return related, nil
}

// PeerNames returns the display names of related entities. Satisfies the
// alert factory's catalog dependency.
func (c *Client) PeerNames(ctx context.Context, entityID string, limit int) ([]string, error) {
	related, err := c.RelatedEntities(ctx, entityID, limit)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(related))
	for _, peer := range related {
		if peer.Name != "" {
			names = append(names, peer.Name)
		}
	}
	return names, nil
}

// RecordChange links a change event to its entity in the graph so analysts
// can walk from an entity to its observed history.
func (c *Client) RecordChange(ctx context.Context, entityID, eventID, category string, when time.Time) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MERGE (e:Entity {id: $entity_id})
			MERGE (c:Change {id: $event_id})
			SET c.category = $category, c.observed_at = $observed_at
			MERGE (e)-[:CHANGED]->(c)
		`
		_, err := session.Run(ctx, query, map[string]interface{}{
			"entity_id":   entityID,
			"event_id":    eventID,
			"category":    category,
			"observed_at": when.Unix(),
		})
		if err != nil {
			return fmt.Errorf("failed to record change: %w", err)
		}
		return nil
	})
}

func asString(record *neo4j.Record, key string) string {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return ""
	}
	s, _ := value.(string)
	return s
}
