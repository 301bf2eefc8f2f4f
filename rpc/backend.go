package rpc

import (
	"context"
	"sync"

	"github.com/visq/visq/model"
)

// Backend is the set of operations the orchestration layer needs from a
// backend engine. *Client implements it; tests substitute fakes.
type Backend interface {
	SelfTest(ctx context.Context) bool
	GetQueryID(ctx context.Context, dataset string) (int, error)
	ReleaseQueryID(ctx context.Context, queryID int) error
	AddPosTrs(ctx context.Context, queryID int, impath, featpath string, fromDataset bool, extraParams map[string]string) error
	AddNegTrs(ctx context.Context, queryID int, impath, featpath string, fromDataset bool, extraParams map[string]string) error
	Train(ctx context.Context, queryID int, annoPath string) error
	LoadClassifier(ctx context.Context, queryID int, path string) error
	SaveClassifier(ctx context.Context, queryID int, path string) error
	LoadAnnotationsAndTrs(ctx context.Context, queryID int, path string) error
	SaveAnnotations(ctx context.Context, queryID int, path string) error
	GetAnnotations(ctx context.Context, queryID int, path string) ([]model.Annotation, error)
	Rank(ctx context.Context, queryID int, subsetIDs []string) error
	GetRanking(ctx context.Context, queryID int) ([]model.RankItem, error)
	GetRankingSubset(ctx context.Context, queryID, startIdx, endIdx int) ([]model.RankItem, int, error)
	GetRankedFeatures(ctx context.Context, queryID, topN int) ([]model.RankedFeature, error)
}

// Client is a concurrency-safe Backend over a single Session. The wire
// protocol is strictly request/response on a fresh socket per call, so one
// serialized Session per engine is enough; concurrent callers queue on the
// mutex.
type Client struct {
	mu      sync.Mutex
	session *Session
}

var _ Backend = (*Client)(nil)

// NewClient creates a Client for the backend at cfg.Host:cfg.Port.
func NewClient(cfg Config) *Client {
	return &Client{session: NewSession(cfg)}
}

func (c *Client) SelfTest(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.SelfTest(ctx)
}

func (c *Client) GetQueryID(ctx context.Context, dataset string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.GetQueryID(ctx, dataset)
}

func (c *Client) ReleaseQueryID(ctx context.Context, queryID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ReleaseQueryID(ctx, queryID)
}

func (c *Client) AddPosTrs(ctx context.Context, queryID int, impath, featpath string, fromDataset bool, extraParams map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.AddPosTrs(ctx, queryID, impath, featpath, fromDataset, extraParams)
}

func (c *Client) AddNegTrs(ctx context.Context, queryID int, impath, featpath string, fromDataset bool, extraParams map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.AddNegTrs(ctx, queryID, impath, featpath, fromDataset, extraParams)
}

func (c *Client) Train(ctx context.Context, queryID int, annoPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Train(ctx, queryID, annoPath)
}

func (c *Client) LoadClassifier(ctx context.Context, queryID int, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.LoadClassifier(ctx, queryID, path)
}

func (c *Client) SaveClassifier(ctx context.Context, queryID int, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.SaveClassifier(ctx, queryID, path)
}

func (c *Client) LoadAnnotationsAndTrs(ctx context.Context, queryID int, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.LoadAnnotationsAndTrs(ctx, queryID, path)
}

func (c *Client) SaveAnnotations(ctx context.Context, queryID int, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.SaveAnnotations(ctx, queryID, path)
}

func (c *Client) GetAnnotations(ctx context.Context, queryID int, path string) ([]model.Annotation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.GetAnnotations(ctx, queryID, path)
}

func (c *Client) Rank(ctx context.Context, queryID int, subsetIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Rank(ctx, queryID, subsetIDs)
}

func (c *Client) GetRanking(ctx context.Context, queryID int) ([]model.RankItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.GetRanking(ctx, queryID)
}

func (c *Client) GetRankingSubset(ctx context.Context, queryID, startIdx, endIdx int) ([]model.RankItem, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.GetRankingSubset(ctx, queryID, startIdx, endIdx)
}

func (c *Client) GetRankedFeatures(ctx context.Context, queryID, topN int) ([]model.RankedFeature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.GetRankedFeatures(ctx, queryID, topN)
}
