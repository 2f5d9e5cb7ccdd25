package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// retrievalFeature holds the state of one scenario
type retrievalFeature struct {
	t       *testing.T
	c       *corpus
	records map[string]domain.ChunkRecord

	vector  *RetrieveResult
	keyword []domain.SearchHit
	hybrid  *RetrieveResult
	result  domain.Context
	reindex *domain.ReindexResult
}

func (f *retrievalFeature) reset() {
	f.c = newCorpus(f.t)
	f.records = make(map[string]domain.ChunkRecord)
	f.vector, f.keyword, f.hybrid, f.reindex = nil, nil, nil, nil
	f.result = domain.Context{}
}

func (f *retrievalFeature) trainingChunk(id, content string) error {
	rec := training(id, "asset-"+id, content)
	f.records[id] = rec
	f.c.add(f.t, rec)
	return nil
}

func (f *retrievalFeature) projectChunk(id, projectID, content string) error {
	rec := project(id, projectID, "asset-"+id, content)
	f.records[id] = rec
	f.c.add(f.t, rec)
	return nil
}

func (f *retrievalFeature) projectWithMember(id, name, user string) error {
	f.c.knowledge.AddProject(domain.Project{ID: id, Name: name})
	f.c.knowledge.AddMember(id, user)
	return nil
}

// embeddingsRank replaces similarity with fixed scores so the literal
// identifier loses against unrelated prose
func (f *retrievalFeature) embeddingsRank(winner, loser string) error {
	w, ok := f.records[winner]
	if !ok {
		return fmt.Errorf("unknown chunk %q", winner)
	}
	l, ok := f.records[loser]
	if !ok {
		return fmt.Errorf("unknown chunk %q", loser)
	}
	f.c.vector.SearchFn = func(q domain.VectorQuery) ([]domain.SearchHit, error) {
		hits := []domain.SearchHit{
			{ID: "vec-" + winner, Score: 0.62, Payload: w.IndexFields()},
			{ID: "vec-" + loser, Score: 0.05, Payload: l.IndexFields()},
		}
		var out []domain.SearchHit
		for _, h := range hits {
			if q.ScoreThreshold == 0 || h.Score >= q.ScoreThreshold {
				out = append(out, h)
			}
		}
		return out, nil
	}
	return nil
}

func (f *retrievalFeature) retrieve(text string, threshold float64) error {
	ctx := context.Background()
	req := RetrieveRequest{Query: text, Limit: 5, Threshold: threshold}

	var err error
	if f.vector, err = f.c.vectorRetriever().Retrieve(ctx, req); err != nil {
		return err
	}
	if f.keyword, err = f.c.keyword.Search(ctx, domain.KeywordQuery{Index: testIndex, Text: text, Limit: 5}); err != nil {
		return err
	}
	f.hybrid, err = f.c.hybridRetriever(nil).Retrieve(ctx, req)
	return err
}

func (f *retrievalFeature) topKeywordHitIs(id string) error {
	if len(f.keyword) == 0 {
		return errors.New("no keyword hits")
	}
	if got := domain.CandidateFromHit(f.keyword[0], domain.SearchTypeKeyword).CanonicalID(); got != id {
		return fmt.Errorf("top keyword hit is %q, want %q", got, id)
	}
	return nil
}

func (f *retrievalFeature) keywordOutscoresVector() error {
	if len(f.keyword) == 0 || len(f.vector.Candidates) == 0 {
		return errors.New("missing hits to compare")
	}
	if f.keyword[0].Score <= f.vector.Candidates[0].Score {
		return fmt.Errorf("keyword score %v does not beat vector score %v", f.keyword[0].Score, f.vector.Candidates[0].Score)
	}
	return nil
}

func (f *retrievalFeature) hybridTopContains(n int, id string) error {
	top := f.hybrid.Candidates[:min(n, len(f.hybrid.Candidates))]
	if !slices.Contains(ids(top), id) {
		return fmt.Errorf("hybrid top %d is %v, missing %q", n, ids(top), id)
	}
	return nil
}

func (f *retrievalFeature) query(user, text, projectID string, threshold float64) error {
	s := f.c.service(domain.DefaultRetrievalConfig(), f.c.hybridRetriever(nil))
	f.result = s.Query(context.Background(), text, domain.QueryScope{
		ProjectID:           projectID,
		UserID:              user,
		SimilarityThreshold: threshold,
	})
	return nil
}

func (f *retrievalFeature) effectiveThreshold(want float64) error {
	if got := f.result.QueryMetadata[domain.MetaSimilarityThreshold]; got != want {
		return fmt.Errorf("effective threshold is %v, want %v", got, want)
	}
	return nil
}

func (f *retrievalFeature) storeThreshold(want float64) error {
	if got := f.c.vector.LastQuery().ScoreThreshold; got != want {
		return fmt.Errorf("vector store threshold is %v, want %v", got, want)
	}
	return nil
}

func (f *retrievalFeature) resultContains(id string) error {
	if !slices.Contains(chunkIDs(f.result.Chunks), id) {
		return fmt.Errorf("result %v does not contain %q", chunkIDs(f.result.Chunks), id)
	}
	return nil
}

func (f *retrievalFeature) resultHasNoError() error {
	if msg := f.result.Err(); msg != "" {
		return fmt.Errorf("unexpected error %q", msg)
	}
	return nil
}

func (f *retrievalFeature) resultDegradedBy(source string) error {
	if !f.result.IsDegraded() {
		return errors.New("result is not degraded")
	}
	got, _ := f.result.QueryMetadata[domain.MetaDegraded].([]string)
	if !slices.Contains(got, source) {
		return fmt.Errorf("degraded sources %v, missing %q", got, source)
	}
	return nil
}

func (f *retrievalFeature) keywordUnavailable() error {
	f.c.keyword.SearchErr = errors.New("vespa unavailable")
	return nil
}

func (f *retrievalFeature) relationalChunks(n int) error {
	seedRelational(f.c.knowledge, n, "p1", time.Now())
	return nil
}

func (f *retrievalFeature) fullReindex() error {
	var err error
	f.reindex, err = newSync(f.c, nil).Reindex(context.Background(), domain.ReindexRequest{})
	return err
}

func (f *retrievalFeature) batchesWritten(n, size int) error {
	if len(f.reindex.Batches) != n {
		return fmt.Errorf("wrote %d batches, want %d", len(f.reindex.Batches), n)
	}
	for _, b := range f.reindex.Batches {
		if b.Size > size {
			return fmt.Errorf("batch %d has %d chunks", b.Batch, b.Size)
		}
	}
	return nil
}

func (f *retrievalFeature) driftReports(relational, indexed, drift int64) error {
	rec, err := newSync(f.c, nil).DriftStatus(context.Background(), "")
	if err != nil {
		return err
	}
	if rec.RelationalCount != relational || rec.IndexCount != indexed || rec.Drift != drift {
		return fmt.Errorf("drift status %+v, want %d/%d/%d", rec, relational, indexed, drift)
	}
	return nil
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			f := &retrievalFeature{t: t}
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				f.reset()
				return ctx, nil
			})

			sc.Step(`^a training chunk "([^"]*)" with content "([^"]*)"$`, f.trainingChunk)
			sc.Step(`^a project chunk "([^"]*)" in "([^"]*)" with content "([^"]*)"$`, f.projectChunk)
			sc.Step(`^a project "([^"]*)" named "([^"]*)" with member "([^"]*)"$`, f.projectWithMember)
			sc.Step(`^embeddings rank "([^"]*)" above "([^"]*)"$`, f.embeddingsRank)
			sc.Step(`^the keyword store is unavailable$`, f.keywordUnavailable)
			sc.Step(`^(\d+) project chunks in the relational store$`, f.relationalChunks)

			sc.Step(`^I retrieve "([^"]*)" with threshold ([\d.]+)$`, f.retrieve)
			sc.Step(`^user "([^"]*)" queries "([^"]*)" in project "([^"]*)" with threshold ([\d.]+)$`, f.query)
			sc.Step(`^a full reindex runs$`, f.fullReindex)

			sc.Step(`^the top keyword hit is "([^"]*)"$`, f.topKeywordHitIs)
			sc.Step(`^the top keyword hit outscores the top vector hit$`, f.keywordOutscoresVector)
			sc.Step(`^the hybrid top (\d+) contain "([^"]*)"$`, f.hybridTopContains)
			sc.Step(`^the effective similarity threshold is ([\d.]+)$`, f.effectiveThreshold)
			sc.Step(`^the vector store was searched with threshold ([\d.]+)$`, f.storeThreshold)
			sc.Step(`^the result contains "([^"]*)"$`, f.resultContains)
			sc.Step(`^the result has no error$`, f.resultHasNoError)
			sc.Step(`^the result is degraded by "([^"]*)"$`, f.resultDegradedBy)
			sc.Step(`^(\d+) batches of at most (\d+) chunks were written$`, f.batchesWritten)
			sc.Step(`^drift status reports (\d+) relational, (\d+) indexed and (\d+) drift$`, f.driftReports)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
