package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// payloadRecordID holds the original record ID; Qdrant point IDs must be UUIDs or integers.
const payloadRecordID = "record_id"

// QdrantConfig configures a QdrantIndex.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimensions int
	Timeout    time.Duration
}

// QdrantIndex is a minimal REST client to a Qdrant collection using cosine distance.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	dimensions int
	client     *http.Client
}

// NewQdrantIndex creates a client for the given collection. No request is made until use.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant: url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant: collection is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("qdrant: dimensions must be positive")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantIndex{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// PointID maps a record ID to the deterministic UUID used as the Qdrant point ID.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(recordID)).String()
}

// Exists reports whether the collection exists.
func (q *QdrantIndex) Exists(ctx context.Context) (bool, error) {
	status, err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, nil)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create creates the collection and a keyword payload index on reference_set_id.
func (q *QdrantIndex) Create(ctx context.Context) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.dimensions,
			"distance": "Cosine",
		},
	}
	if _, err := q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil); err != nil {
		return err
	}
	index := map[string]interface{}{
		"field_name":   MetaReferenceSetID,
		"field_schema": "keyword",
	}
	if _, err := q.do(ctx, http.MethodPut, q.collectionURL("/index?wait=true"), index, nil); err != nil {
		return fmt.Errorf("create payload index: %w", err)
	}
	return nil
}

// Upsert writes records as points, replacing points with the same ID.
func (q *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	points := make([]map[string]interface{}, len(records))
	for i, r := range records {
		if len(r.Values) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Values), q.dimensions)
		}
		payload := copyMetadata(r.Metadata)
		payload[payloadRecordID] = r.ID
		points[i] = map[string]interface{}{
			"id":      PointID(r.ID),
			"vector":  r.Values,
			"payload": payload,
		}
	}
	body := map[string]interface{}{"points": points}
	_, err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), body, nil)
	return err
}

// Query searches the collection, restricting to the filter's reference sets with a match-any condition.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]*Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	req := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if !filter.Empty() {
		req["filter"] = map[string]interface{}{
			"must": []map[string]interface{}{{
				"key":   MetaReferenceSetID,
				"match": map[string]interface{}{"any": filter.ReferenceSetIDs},
			}},
		}
	}
	var resp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	matches := make([]*Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := MetaString(r.Payload, payloadRecordID)
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		delete(r.Payload, payloadRecordID)
		matches = append(matches, &Match{ID: id, Score: r.Score, Metadata: r.Payload})
	}
	return matches, nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	body := map[string]interface{}{"exact": true}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/count"), body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Close releases idle connections.
func (q *QdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

func (q *QdrantIndex) collectionURL(suffix string) string {
	return q.url + "/collections/" + url.PathEscape(q.collection) + suffix
}

// do sends a JSON request and decodes the JSON response into out when non-nil.
// It returns the HTTP status (0 if the request failed before a response).
func (q *QdrantIndex) do(ctx context.Context, method, target string, body, out interface{}) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s", method, req.URL.Path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
