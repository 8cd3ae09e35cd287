// internal/reconciliation/source/elasticsearch.go
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/models"
)

// ElasticsearchSource reads records indexed one document per row under <prefix><source id>.
// Documents carry a row_number and either a "fields" object or flat fields.
type ElasticsearchSource struct {
	client *elasticsearch.Client
	prefix string
}

func NewElasticsearchSource(client *elasticsearch.Client, indexPrefix string) *ElasticsearchSource {
	return &ElasticsearchSource{client: client, prefix: indexPrefix}
}

func (s *ElasticsearchSource) index(sourceID uuid.UUID) string {
	return s.prefix + sourceID.String()
}

func (s *ElasticsearchSource) Count(ctx context.Context, sourceID uuid.UUID) (int, error) {
	req := esapi.CountRequest{Index: []string{s.index(sourceID)}}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return 0, apperrors.NewDatabaseError("es_count", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return 0, apperrors.NewNotFoundError("data source", sourceID.String())
	}
	if res.IsError() {
		return 0, apperrors.NewDatabaseError("es_count", fmt.Errorf("elasticsearch returned %s", res.Status()))
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, apperrors.NewDatabaseError("es_count", err)
	}
	return body.Count, nil
}

func (s *ElasticsearchSource) Load(ctx context.Context, sourceID uuid.UUID, offset, limit int) ([]models.Record, error) {
	query, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort":  []interface{}{map[string]interface{}{"row_number": "asc"}},
	})

	req := esapi.SearchRequest{
		Index: []string{s.index(sourceID)},
		Body:  strings.NewReader(string(query)),
		From:  &offset,
		Size:  &limit,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, apperrors.NewDatabaseError("es_search", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, apperrors.NewNotFoundError("data source", sourceID.String())
	}
	if res.IsError() {
		return nil, apperrors.NewDatabaseError("es_search", fmt.Errorf("elasticsearch returned %s", res.Status()))
	}

	var body struct {
		Hits struct {
			Hits []struct {
				ID     string                 `json:"_id"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, apperrors.NewDatabaseError("es_search", err)
	}

	out := make([]models.Record, 0, len(body.Hits.Hits))
	for _, hit := range body.Hits.Hits {
		out = append(out, models.Record{ID: hit.ID, Fields: documentFields(hit.Source)})
	}
	return out, nil
}

func documentFields(src map[string]interface{}) map[string]string {
	if nested, ok := src["fields"].(map[string]interface{}); ok {
		return stringifyFields(nested)
	}
	flat := make(map[string]interface{}, len(src))
	for k, v := range src {
		if k == "row_number" {
			continue
		}
		flat[k] = v
	}
	return stringifyFields(flat)
}
