// internal/notify/history.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"

	"commerce-workers/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// HistoryRecord is one dispatched notification, indexed for admin search.
type HistoryRecord struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenantId"`
	Template   string                 `json:"template"`
	Recipients []string               `json:"recipients"`
	Data       map[string]interface{} `json:"data,omitempty"`
	SentAt     string                 `json:"sentAt"`
}

// HistoryIndexer writes dispatched notifications into Elasticsearch.
// Indexing is best-effort: a failure is logged and never blocks delivery.
type HistoryIndexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewHistoryIndexer(client *elasticsearch.Client, index string, log logger.Logger) *HistoryIndexer {
	return &HistoryIndexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "notify-history"}),
	}
}

func (h *HistoryIndexer) Index(ctx context.Context, rec HistoryRecord) {
	body, err := json.Marshal(rec)
	if err != nil {
		h.logger.Error("marshal history record failed", map[string]interface{}{
			"error":          err.Error(),
			"notificationId": rec.ID,
		})
		return
	}

	req := esapi.IndexRequest{
		Index:      h.index,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, h.client)
	if err != nil {
		h.logger.Error("index history record failed", map[string]interface{}{
			"error":          err.Error(),
			"notificationId": rec.ID,
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		h.logger.Error("index history record rejected", map[string]interface{}{
			"status":         res.Status(),
			"notificationId": rec.ID,
		})
	}
}
