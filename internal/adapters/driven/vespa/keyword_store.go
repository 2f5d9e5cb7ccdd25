package vespa

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.KeywordStore = (*KeywordStore)(nil)

const storeName = "keyword"

// Config holds Vespa connection configuration
type Config struct {
	// BaseURL is the Vespa container endpoint (e.g., http://localhost:8080)
	BaseURL string

	// Namespace used in document ids
	Namespace string

	// Timeout for HTTP requests
	Timeout time.Duration

	// BulkWorkers bounds concurrent document writes in BulkIndex
	BulkWorkers int

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Namespace:   "sercha",
		Timeout:     30 * time.Second,
		BulkWorkers: 8,
	}
}

// KeywordStore implements driven.KeywordStore using Vespa BM25 ranking.
// The index name is the Vespa document type.
type KeywordStore struct {
	baseURL    string
	namespace  string
	httpClient *http.Client
	pool       *ants.Pool
	logger     *slog.Logger
}

// NewKeywordStore creates a new Vespa-backed KeywordStore
func NewKeywordStore(cfg Config) (*KeywordStore, error) {
	baseURL, err := validateEndpoint(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "sercha"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BulkWorkers <= 0 {
		cfg.BulkWorkers = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	pool, err := ants.NewPool(cfg.BulkWorkers)
	if err != nil {
		return nil, fmt.Errorf("create bulk pool: %w", err)
	}
	return &KeywordStore{
		baseURL:    baseURL,
		namespace:  cfg.Namespace,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pool:       pool,
		logger:     cfg.Logger,
	}, nil
}

// Close releases the bulk worker pool
func (s *KeywordStore) Close() {
	s.pool.Release()
}

// NativeID derives the Vespa document id from a canonical chunk id.
// Canonical ids may contain characters Vespa rejects in ids, so the
// original is kept in the original_id field.
func NativeID(chunkID string) string {
	sum := blake2b.Sum256([]byte(chunkID))
	return hex.EncodeToString(sum[:16])
}

type vespaDocument struct {
	Fields map[string]any `json:"fields"`
}

type vespaSearchResponse struct {
	Root struct {
		Fields struct {
			TotalCount int64 `json:"totalCount"`
		} `json:"fields"`
		Children []struct {
			ID        string         `json:"id"`
			Relevance float64        `json:"relevance"`
			Fields    map[string]any `json:"fields"`
		} `json:"children"`
		Errors []struct {
			Code    int    `json:"code"`
			Summary string `json:"summary"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"root"`
}

// Search runs a BM25 query. Structured identifiers (REQ-SYS-042, ABC123)
// are matched as a phrase and ranked with the identifier profile.
func (s *KeywordStore) Search(ctx context.Context, q domain.KeywordQuery) ([]domain.SearchHit, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	profile := "default"
	var where string
	if IsIdentifier(text) {
		profile = "identifier"
		where = identifierClause(text, q.Fields)
	} else {
		where = userInputClause(q.Fields)
	}
	where += filterClause(q.Filter)

	body := map[string]any{
		"yql":             fmt.Sprintf("select * from %s where %s", q.Index, where),
		"query":           text,
		"hits":            limit,
		"ranking.profile": profile,
	}

	resp, err := s.search(ctx, body)
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "search", err)
	}

	hits := make([]domain.SearchHit, 0, len(resp.Root.Children))
	for _, child := range resp.Root.Children {
		hits = append(hits, domain.SearchHit{
			ID:      child.ID,
			Score:   child.Relevance,
			Payload: child.Fields,
		})
	}
	return hits, nil
}

// IsIdentifier reports whether a query looks like a structured identifier:
// a single token that contains a hyphen or mixes letters and digits. A lone
// word without digits is not an identifier; it goes through fuzzy matching.
func IsIdentifier(text string) bool {
	if strings.ContainsAny(text, " \t\n") {
		return false
	}
	if strings.Contains(strings.Trim(text, "-"), "-") {
		return len(identifierTokens(text)) > 0
	}
	var letters, digits bool
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			letters = true
		case unicode.IsDigit(r):
			digits = true
		default:
			return false
		}
	}
	return letters && digits
}

func identifierTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func identifierClause(text string, fields []string) string {
	tokens := identifierTokens(text)
	if len(tokens) == 0 {
		return userInputClause(fields)
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = quote(t)
	}
	term := quoted[0]
	if len(quoted) > 1 {
		term = "phrase(" + strings.Join(quoted, ", ") + ")"
	}

	if len(fields) == 0 {
		fields = []string{domain.PayloadContent, domain.PayloadTitle}
	}
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s contains %s", f, term))
	}
	// Loose match so partial identifiers still return something
	parts = append(parts, `{grammar: "weakAnd"}userInput(@query)`)
	return "(" + strings.Join(parts, " or ") + ")"
}

func userInputClause(fields []string) string {
	if len(fields) == 0 {
		return `({grammar: "weakAnd"}userInput(@query))`
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf(`({defaultIndex: %s, grammar: "weakAnd"}userInput(@query))`, quote(f))
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

func filterClause(filter map[string]string) string {
	if len(filter) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " and %s contains %s", k, quote(filter[k]))
	}
	return b.String()
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// IndexDocument upserts one document keyed by canonical chunk id
func (s *KeywordStore) IndexDocument(ctx context.Context, index, id string, doc map[string]any) error {
	if err := s.put(ctx, index, id, doc); err != nil {
		return domain.ClassifyStoreError(storeName, "index", err)
	}
	return nil
}

// BulkIndex writes documents concurrently on the bulk pool. Per-document
// failures are reported in the result; the call only errors if the store
// is unreachable for every document.
func (s *KeywordStore) BulkIndex(ctx context.Context, index string, docs []domain.KeywordDocument) (*domain.BulkResult, error) {
	result := &domain.BulkResult{Errors: make(map[string]string)}
	if len(docs) == 0 {
		return result, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		lastErr error
	)
	for _, doc := range docs {
		doc := doc
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			err := s.put(ctx, index, doc.ID, doc.Fields)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors[doc.ID] = err.Error()
				lastErr = err
				return
			}
			result.Indexed++
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			result.Failed++
			result.Errors[doc.ID] = submitErr.Error()
			lastErr = submitErr
			mu.Unlock()
		}
	}
	wg.Wait()

	if result.Indexed == 0 && lastErr != nil {
		return result, domain.ClassifyStoreError(storeName, "bulk_index", lastErr)
	}
	if result.Failed > 0 {
		s.logger.Warn("keyword bulk index partially failed",
			"index", index,
			"indexed", result.Indexed,
			"failed", result.Failed)
	}
	return result, nil
}

func (s *KeywordStore) put(ctx context.Context, index, id string, fields map[string]any) error {
	if id == "" {
		return errors.New("empty document id")
	}
	withID := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		withID[k] = v
	}
	if _, ok := withID[domain.PayloadChunkID]; !ok {
		withID[domain.PayloadChunkID] = id
	}
	if _, ok := withID[domain.PayloadOriginalID]; !ok {
		withID[domain.PayloadOriginalID] = id
	}

	body, err := json.Marshal(vespaDocument{Fields: withID})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.documentURL(index, id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vespa document write failed: %s - %s", resp.Status, string(respBody))
	}
	return nil
}

// EnsureIndex verifies the store is healthy and the document type is
// deployed. Schema deployment is done by the Deployer.
func (s *KeywordStore) EnsureIndex(ctx context.Context, index string, settings map[string]any) error {
	if err := s.HealthCheck(ctx); err != nil {
		return err
	}

	probe := fmt.Sprintf("%s/document/v1/%s/%s/docid?wantedDocumentCount=1", s.baseURL, s.namespace, url.PathEscape(index))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return domain.ClassifyStoreError(storeName, "ensure_index", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.ClassifyStoreError(storeName, "ensure_index", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return domain.ClassifyStoreError(storeName, "ensure_index",
			fmt.Errorf("document type %q not available: %s - %s", index, resp.Status, string(respBody)))
	}
	return nil
}

// DeleteDocument removes a document by canonical chunk id. Missing
// documents are not an error.
func (s *KeywordStore) DeleteDocument(ctx context.Context, index, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.documentURL(index, id), nil)
	if err != nil {
		return domain.ClassifyStoreError(storeName, "delete", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.ClassifyStoreError(storeName, "delete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		respBody, _ := io.ReadAll(resp.Body)
		return domain.ClassifyStoreError(storeName, "delete",
			fmt.Errorf("vespa delete failed: %s - %s", resp.Status, string(respBody)))
	}
	return nil
}

// Count returns the number of documents matching filter
func (s *KeywordStore) Count(ctx context.Context, index string, filter map[string]string) (int64, error) {
	body := map[string]any{
		"yql":  fmt.Sprintf("select * from %s where true%s", index, filterClause(filter)),
		"hits": 0,
	}
	resp, err := s.search(ctx, body)
	if err != nil {
		return 0, domain.ClassifyStoreError(storeName, "count", err)
	}
	return resp.Root.Fields.TotalCount, nil
}

// HealthCheck verifies Vespa is available
func (s *KeywordStore) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/state/v1/health", nil)
	if err != nil {
		return domain.ClassifyStoreError(storeName, "health", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.ClassifyStoreError(storeName, "health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ClassifyStoreError(storeName, "health", fmt.Errorf("unhealthy: %s", resp.Status))
	}
	return nil
}

func (s *KeywordStore) documentURL(index, id string) string {
	return fmt.Sprintf("%s/document/v1/%s/%s/docid/%s", s.baseURL, s.namespace, url.PathEscape(index), NativeID(id))
}

func (s *KeywordStore) search(ctx context.Context, body map[string]any) (*vespaSearchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vespa search failed: %s - %s", resp.Status, string(respBody))
	}

	var out vespaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(out.Root.Errors) > 0 {
		e := out.Root.Errors[0]
		return nil, fmt.Errorf("vespa query error %d: %s", e.Code, e.Message)
	}
	return &out, nil
}
