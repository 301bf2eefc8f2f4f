package rpc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/visq/visq/model"
)

// response covers the union of all backend reply fields. Absent fields
// decode to their zero values; Success is authoritative.
type response struct {
	Success  bool                  `json:"success"`
	QueryID  int                   `json:"query_id"`
	ErrMsg   string                `json:"err_msg"`
	Annos    []model.Annotation    `json:"annos"`
	Ranklist []model.RankItem      `json:"ranklist"`
	RFeats   []model.RankedFeature `json:"rfeats"`
	TotalLen int                   `json:"total_len"`
}

// BackendError reports a backend-level failure: either an explicit err_msg
// from the engine or a generic transport failure.
type BackendError struct {
	Op  string
	Msg string
}

func (e *BackendError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("rpc: %s failed: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("rpc: %s failed", e.Op)
}

// opError converts a failed response into a BackendError carrying the raw
// backend message when one was reported.
func opError(op string, resp response) error {
	return &BackendError{Op: op, Msg: resp.ErrMsg}
}

// SelfTest pings the backend. True means the engine answered and reported
// success.
func (s *Session) SelfTest(ctx context.Context) bool {
	resp := s.call(ctx, map[string]any{"func": "selfTest"})
	return resp.Success
}

// GetQueryID requests a new backend query id for a query over the given
// dataset. Valid ids are positive.
func (s *Session) GetQueryID(ctx context.Context, dataset string) (int, error) {
	resp := s.call(ctx, map[string]any{
		"func":    "getQueryId",
		"dataset": dataset,
	})
	if !resp.Success || resp.QueryID <= 0 {
		return 0, opError("getQueryId", resp)
	}
	return resp.QueryID, nil
}

// ReleaseQueryID tells the backend it may reuse the given query id.
func (s *Session) ReleaseQueryID(ctx context.Context, queryID int) error {
	resp := s.call(ctx, map[string]any{
		"func":     "releaseQueryId",
		"query_id": queryID,
	})
	if !resp.Success {
		return opError("releaseQueryId", resp)
	}
	return nil
}

// unquoteImagePath undoes up to two layers of URL encoding on image names
// coming from the web layer.
func unquoteImagePath(impath string) string {
	for i := 0; i < 2; i++ {
		u, err := url.QueryUnescape(impath)
		if err != nil {
			break
		}
		impath = u
	}
	return impath
}

func (s *Session) addTrs(ctx context.Context, fn string, queryID int, impath, featpath string, fromDataset bool, extraParams map[string]string) error {
	fromDS := 0
	if fromDataset {
		fromDS = 1
	}
	req := map[string]any{
		"func":         fn,
		"query_id":     queryID,
		"impath":       unquoteImagePath(impath),
		"featpath":     featpath,
		"from_dataset": fromDS,
	}
	if len(extraParams) > 0 {
		req["extra_params"] = extraParams
	}
	resp := s.call(ctx, req)
	if !resp.Success {
		return opError(fn, resp)
	}
	return nil
}

// AddPosTrs registers a positive training image with the backend and
// triggers feature computation for it.
func (s *Session) AddPosTrs(ctx context.Context, queryID int, impath, featpath string, fromDataset bool, extraParams map[string]string) error {
	return s.addTrs(ctx, "addPosTrs", queryID, impath, featpath, fromDataset, extraParams)
}

// AddNegTrs registers a negative training image with the backend.
func (s *Session) AddNegTrs(ctx context.Context, queryID int, impath, featpath string, fromDataset bool, extraParams map[string]string) error {
	return s.addTrs(ctx, "addNegTrs", queryID, impath, featpath, fromDataset, extraParams)
}

// Train runs classifier training in the backend. annoPath, when non-empty,
// points the backend at a stored annotation file to train from. A nil
// return means training succeeded.
func (s *Session) Train(ctx context.Context, queryID int, annoPath string) error {
	req := map[string]any{
		"func":     "train",
		"query_id": queryID,
	}
	if annoPath != "" {
		req["anno_path"] = annoPath
	}
	resp := s.call(ctx, req)
	if !resp.Success {
		return opError("train", resp)
	}
	return nil
}

func (s *Session) classifierOp(ctx context.Context, fn string, queryID int, path string) error {
	resp := s.call(ctx, map[string]any{
		"func":     fn,
		"query_id": queryID,
		"filepath": path,
	})
	if !resp.Success {
		return opError(fn, resp)
	}
	return nil
}

// LoadClassifier instructs the backend to load a saved classifier file.
func (s *Session) LoadClassifier(ctx context.Context, queryID int, path string) error {
	return s.classifierOp(ctx, "loadClassifier", queryID, path)
}

// SaveClassifier instructs the backend to save the trained classifier to a
// file.
func (s *Session) SaveClassifier(ctx context.Context, queryID int, path string) error {
	return s.classifierOp(ctx, "saveClassifier", queryID, path)
}

// LoadAnnotationsAndTrs instructs the backend to load an annotation file
// and the training state derived from it.
func (s *Session) LoadAnnotationsAndTrs(ctx context.Context, queryID int, path string) error {
	return s.classifierOp(ctx, "loadAnnotationsAndTrs", queryID, path)
}

// SaveAnnotations instructs the backend to write the annotation file for a
// query.
func (s *Session) SaveAnnotations(ctx context.Context, queryID int, path string) error {
	return s.classifierOp(ctx, "saveAnnotations", queryID, path)
}

// GetAnnotations retrieves the parsed contents of an annotation file.
func (s *Session) GetAnnotations(ctx context.Context, queryID int, path string) ([]model.Annotation, error) {
	resp := s.call(ctx, map[string]any{
		"func":     "getAnnotations",
		"query_id": queryID,
		"filepath": path,
	})
	if !resp.Success {
		return nil, opError("getAnnotations", resp)
	}
	return resp.Annos, nil
}

// Rank computes the ranking for a query. A non-empty subsetIDs restricts
// ranking to the given dataset items.
func (s *Session) Rank(ctx context.Context, queryID int, subsetIDs []string) error {
	req := map[string]any{
		"func":     "rank",
		"query_id": queryID,
	}
	if len(subsetIDs) > 0 {
		req["subset_ids"] = subsetIDs
	}
	resp := s.call(ctx, req)
	if !resp.Success {
		return opError("rank", resp)
	}
	return nil
}

// GetRanking fetches the full ranked result list, in backend order.
func (s *Session) GetRanking(ctx context.Context, queryID int) ([]model.RankItem, error) {
	resp := s.call(ctx, map[string]any{
		"func":     "getRanking",
		"query_id": queryID,
	})
	if !resp.Success {
		return nil, opError("getRanking", resp)
	}
	return resp.Ranklist, nil
}

// GetRankingSubset fetches one window of the ranked list together with the
// total length of the full list.
func (s *Session) GetRankingSubset(ctx context.Context, queryID, startIdx, endIdx int) ([]model.RankItem, int, error) {
	resp := s.call(ctx, map[string]any{
		"func":      "getRankingSubset",
		"query_id":  queryID,
		"start_idx": startIdx,
		"end_idx":   endIdx,
	})
	if !resp.Success {
		return nil, 0, opError("getRankingSubset", resp)
	}
	return resp.Ranklist, resp.TotalLen, nil
}

// GetRankedFeatures fetches the feature vectors of the topN ranked results.
func (s *Session) GetRankedFeatures(ctx context.Context, queryID, topN int) ([]model.RankedFeature, error) {
	resp := s.call(ctx, map[string]any{
		"func":     "getRankedFeatures",
		"query_id": queryID,
		"top_n":    topN,
	})
	if !resp.Success {
		return nil, opError("getRankedFeatures", resp)
	}
	return resp.RFeats, nil
}
