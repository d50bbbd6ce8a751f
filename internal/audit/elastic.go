package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
)

// ElasticSink mirrors audit events into a search index. The relational
// ledger stays authoritative.
type ElasticSink struct {
	client *elasticsearch.Client
	index  string
}

type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
}

func NewElasticSink(cfg ElasticConfig) (*ElasticSink, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	index := cfg.Index
	if index == "" {
		index = "edms-audit"
	}
	return &ElasticSink{client: client, index: index}, nil
}

func (s *ElasticSink) RecordEvent(ctx context.Context, event Event) error {
	event = Seal(event)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(event.ID.String()),
	)
	if err != nil {
		return fmt.Errorf("failed to index audit event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch returned %s: %s", res.Status(), string(msg))
	}
	return nil
}
