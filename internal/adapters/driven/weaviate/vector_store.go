package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorStore = (*VectorStore)(nil)

const storeName = "vector"

// objectNamespace scopes deterministic object ids derived from chunk ids
var objectNamespace = uuid.MustParse("6f1c3d0e-8a4b-5e2f-9c7d-2b1a0e3f4d5c")

// textProperties and intProperties make up the chunk class schema
var (
	textProperties = []string{
		domain.PayloadChunkID, domain.PayloadOriginalID, domain.PayloadAssetID,
		domain.PayloadKnowledgeType, domain.PayloadProjectID, domain.PayloadSourceID,
		domain.PayloadTitle, domain.PayloadFileID, domain.PayloadCollectionID,
		domain.PayloadCollectionName, domain.PayloadDomain, domain.PayloadContent,
	}
	intProperties = []string{domain.PayloadSequenceNumber, domain.PayloadTokenCount}
)

// Config holds Weaviate connection configuration
type Config struct {
	Host   string
	Scheme string
	APIKey string
	Logger *slog.Logger
}

// VectorStore implements driven.VectorStore using Weaviate
type VectorStore struct {
	client   *weaviate.Client
	embedder driven.EmbeddingService
	logger   *slog.Logger
}

// NewClient creates a Weaviate client from cfg
func NewClient(cfg Config) (*weaviate.Client, error) {
	wcfg := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if wcfg.Scheme == "" {
		wcfg.Scheme = "http"
	}
	if cfg.APIKey != "" {
		wcfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// NewVectorStore creates a VectorStore. The embedder is only used by
// SearchByText and may be nil.
func NewVectorStore(client *weaviate.Client, embedder driven.EmbeddingService, logger *slog.Logger) *VectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{client: client, embedder: embedder, logger: logger}
}

// ObjectID derives the Weaviate object id from a canonical chunk id
func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(chunkID)).String())
}

// Search runs a nearVector query. Cosine distance maps to similarity as
// 1 - distance, so the threshold becomes a maximum distance.
func (s *VectorStore) Search(ctx context.Context, q domain.VectorQuery) ([]domain.SearchHit, error) {
	if len(q.Vector) == 0 {
		return nil, domain.ClassifyStoreError(storeName, "search", errors.New("empty query vector"))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(q.Vector)
	if q.ScoreThreshold > 0 {
		nearVector = nearVector.WithDistance(float32(1 - q.ScoreThreshold))
	}

	get := s.client.GraphQL().Get().
		WithClassName(q.Collection).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(resultFields()...)
	if where := whereFilter(q.Filter); where != nil {
		get = get.WithWhere(where)
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "search", err)
	}
	if len(res.Errors) > 0 {
		return nil, domain.ClassifyStoreError(storeName, "search", fmt.Errorf("graphql error: %s", res.Errors[0].Message))
	}
	return parseHits(res.Data, q.Collection), nil
}

// SearchByText embeds text with the query model and searches with it
func (s *VectorStore) SearchByText(ctx context.Context, text string, q domain.VectorQuery) ([]domain.SearchHit, error) {
	if s.embedder == nil {
		return nil, domain.ClassifyStoreError(storeName, "search_by_text", domain.ErrServiceUnavailable)
	}
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "search_by_text", err)
	}
	q.Vector = vec
	return s.Search(ctx, q)
}

// Store upserts records in one batch and returns their object ids
func (s *VectorStore) Store(ctx context.Context, collection string, records []domain.VectorRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	objects := make([]*models.Object, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		props := make(map[string]any, len(r.Payload)+2)
		for k, v := range r.Payload {
			props[k] = v
		}
		props[domain.PayloadChunkID] = r.ID
		if _, ok := props[domain.PayloadOriginalID]; !ok {
			props[domain.PayloadOriginalID] = r.ID
		}
		id := ObjectID(r.ID)
		objects = append(objects, &models.Object{
			Class:      collection,
			ID:         id,
			Properties: props,
			Vector:     r.Vector,
		})
		ids = append(ids, id.String())
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "store", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return nil, domain.ClassifyStoreError(storeName, "store",
				fmt.Errorf("object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message))
		}
	}
	return ids, nil
}

// EnsureCollection creates the chunk class with an external vectorizer
func (s *VectorStore) EnsureCollection(ctx context.Context, collection string, dimensions int, metric domain.DistanceMetric) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(collection).Do(ctx)
	if err != nil {
		return domain.ClassifyStoreError(storeName, "ensure_collection", err)
	}
	if exists {
		return nil
	}
	if metric == "" {
		metric = domain.DistanceCosine
	}

	properties := make([]*models.Property, 0, len(textProperties)+len(intProperties))
	for _, name := range textProperties {
		properties = append(properties, &models.Property{Name: name, DataType: []string{"text"}})
	}
	for _, name := range intProperties {
		properties = append(properties, &models.Property{Name: name, DataType: []string{"int"}})
	}

	class := &models.Class{
		Class:             collection,
		Description:       "A chunk of a knowledge asset",
		Vectorizer:        "none",
		VectorIndexConfig: map[string]any{"distance": string(metric)},
		Properties:        properties,
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return domain.ClassifyStoreError(storeName, "ensure_collection", err)
	}
	s.logger.Info("vector collection created", "collection", collection, "dimensions", dimensions, "metric", metric)
	return nil
}

// Delete removes records by canonical chunk id
func (s *VectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	where := filters.Where().
		WithPath([]string{domain.PayloadChunkID}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(collection).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return domain.ClassifyStoreError(storeName, "delete", err)
	}
	return nil
}

// Info returns the collection object count and distance metric
func (s *VectorStore) Info(ctx context.Context, collection string) (*domain.CollectionInfo, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(collection).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "info", err)
	}
	if len(res.Errors) > 0 {
		return nil, domain.ClassifyStoreError(storeName, "info", fmt.Errorf("graphql error: %s", res.Errors[0].Message))
	}

	info := &domain.CollectionInfo{Name: collection, Metric: domain.DistanceCosine}
	if agg, ok := res.Data["Aggregate"].(map[string]any); ok {
		if rows, ok := agg[collection].([]any); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]any); ok {
				if meta, ok := row["meta"].(map[string]any); ok {
					info.Count = int64(toFloat(meta["count"]))
				}
			}
		}
	}
	return info, nil
}

func resultFields() []graphql.Field {
	fields := make([]graphql.Field, 0, len(textProperties)+len(intProperties)+1)
	for _, name := range textProperties {
		fields = append(fields, graphql.Field{Name: name})
	}
	for _, name := range intProperties {
		fields = append(fields, graphql.Field{Name: name})
	}
	return append(fields, graphql.Field{
		Name:   "_additional",
		Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}},
	})
}

func whereFilter(filter map[string]string) *filters.WhereBuilder {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		operands = append(operands, filters.Where().
			WithPath([]string{k}).
			WithOperator(filters.Equal).
			WithValueText(filter[k]))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func parseHits(data map[string]models.JSONObject, collection string) []domain.SearchHit {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	rows, ok := get[collection].([]any)
	if !ok {
		return nil
	}

	hits := make([]domain.SearchHit, 0, len(rows))
	for _, row := range rows {
		props, ok := row.(map[string]any)
		if !ok {
			continue
		}
		hit := domain.SearchHit{Payload: make(map[string]any, len(props))}
		for k, v := range props {
			if k == "_additional" || v == nil {
				continue
			}
			hit.Payload[k] = v
		}
		if additional, ok := props["_additional"].(map[string]any); ok {
			if id, ok := additional["id"].(string); ok {
				hit.ID = id
			}
			hit.Score = 1 - toFloat(additional["distance"])
		}
		hits = append(hits, hit)
	}
	return hits
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
