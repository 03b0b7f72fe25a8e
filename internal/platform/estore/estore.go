// Package estore loads generated documents into an Elasticsearch index. It
// covers the three store interactions the loader needs: connect and verify
// reachability, materialize the index with its field mapping, and bulk-write
// documents while surfacing item-level rejections instead of swallowing
// them.
package estore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog"

	"github.com/anonymousminh/chf-patient-automation/internal/platform/logging"
	"github.com/anonymousminh/chf-patient-automation/internal/platform/retry"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

// ErrConnection marks the store as unreachable or the credentials as
// rejected. It aborts the run; there is no partial-resume protocol.
var ErrConnection = errors.New("store connection failed")

// PartialWriteError reports documents the store rejected item by item while
// the bulk requests themselves succeeded. Failed counts are never silently
// dropped: a demo index missing its risk-triggering records would defeat
// the downstream dashboard.
type PartialWriteError struct {
	Indexed int
	Failed  int
	// Reasons holds up to maxFailureReasons sampled rejection reasons.
	Reasons []string
}

func (e *PartialWriteError) Error() string {
	msg := fmt.Sprintf("store rejected %d of %d documents", e.Failed, e.Indexed+e.Failed)
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	return msg
}

// maxFailureReasons caps how many per-document rejection reasons are kept.
const maxFailureReasons = 5

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// DefaultIndex is the index the demo dashboard queries.
const DefaultIndex = "patients"

// DefaultBatchSize is the number of documents per bulk request.
const DefaultBatchSize = 500

// Config carries the store connection parameters.
type Config struct {
	// Endpoint is the cluster URL.
	Endpoint string
	// APIKey is the base64 API key credential. Empty disables auth, for
	// local clusters with security off.
	APIKey string
	// Index is the target index. Empty selects DefaultIndex.
	Index string
	// BatchSize is the number of documents per bulk request. Zero or
	// negative selects DefaultBatchSize.
	BatchSize int
	// Recreate drops any existing index before creating it, giving the
	// demo a clean slate on every run.
	Recreate bool
	// Transport overrides the HTTP transport. Tests inject one.
	Transport http.RoundTripper
	// Retry overrides the single best-effort retry policy.
	Retry *retry.Config
}

// ---------------------------------------------------------------------------
// Index mapping
// ---------------------------------------------------------------------------

// indexMapping types every field the generated documents carry so the
// downstream numeric and time-range queries work. Patient and observation
// documents share the index, discriminated by doc_type.
const indexMapping = `{
  "mappings": {
    "properties": {
      "doc_type":              {"type": "keyword"},
      "patient_id":            {"type": "keyword"},
      "name":                  {"type": "keyword"},
      "age":                   {"type": "integer"},
      "gender":                {"type": "keyword"},
      "comorbidities":         {"type": "keyword"},
      "previous_readmissions": {"type": "integer"},
      "discharge_date":        {"type": "date"},
      "risk_profile":          {"type": "keyword"},
      "high_risk":             {"type": "boolean"},
      "baseline_weight_kg":    {"type": "float"},
      "medications":           {"type": "keyword"},
      "timestamp":             {"type": "date"},
      "metric":                {"type": "keyword"},
      "value":                 {"type": "float"},
      "unit":                  {"type": "keyword"},
      "days_since_discharge":  {"type": "integer"}
    }
  }
}`

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client wraps the Elasticsearch client for the loader's batch workflow.
type Client struct {
	es        *elasticsearch.Client
	index     string
	batchSize int
	recreate  bool
	retry     *retry.Config
	log       zerolog.Logger
}

// LoadResult counts the outcome of a bulk load.
type LoadResult struct {
	Indexed int
	Failed  int

	reasons []string
}

// NewClient connects to the store and verifies it is reachable, failing
// fast with ErrConnection otherwise. The client's own retry loop is
// disabled; the loader applies a single best-effort retry to transient
// failures instead.
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("store endpoint is required")
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.Endpoint},
		APIKey:       cfg.APIKey,
		Transport:    cfg.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnection, logging.SanitizeError(err))
	}

	c := &Client{
		es:        es,
		index:     cfg.Index,
		batchSize: cfg.BatchSize,
		recreate:  cfg.Recreate,
		retry:     cfg.Retry,
		log:       log,
	}

	if err := retry.DoIfTransient(ctx, c.retry, func() error { return c.ping(ctx) }); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnection, logging.SanitizeError(err))
	}

	c.log.Info().
		Str("endpoint", logging.SanitizeEndpoint(cfg.Endpoint)).
		Str("index", c.index).
		Msg("connected to document store")

	return c, nil
}

func (c *Client) ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ping returned %s", res.Status())
	}
	return nil
}

// Index returns the index name the client writes to.
func (c *Client) Index() string {
	return c.index
}

// ---------------------------------------------------------------------------
// Index materialization
// ---------------------------------------------------------------------------

// EnsureIndex makes sure the target index exists with the expected field
// mapping, creating it when absent. With Recreate set, any existing index
// is deleted first so every run starts from a clean slate.
func (c *Client) EnsureIndex(ctx context.Context) error {
	if c.recreate {
		if err := c.deleteIndex(ctx); err != nil {
			return err
		}
	} else {
		exists, err := c.indexExists(ctx)
		if err != nil {
			return err
		}
		if exists {
			c.log.Info().Str("index", c.index).Msg("index already exists")
			return nil
		}
	}

	err := retry.DoIfTransient(ctx, c.retry, func() error {
		res, err := c.es.Indices.Create(c.index,
			c.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
			c.es.Indices.Create.WithContext(ctx),
		)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("create index returned %s", res.Status())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: create index %q: %s", ErrConnection, c.index, logging.SanitizeError(err))
	}

	c.log.Info().Str("index", c.index).Msg("created index with field mapping")
	return nil
}

func (c *Client) indexExists(ctx context.Context) (bool, error) {
	var exists bool
	err := retry.DoIfTransient(ctx, c.retry, func() error {
		res, err := c.es.Indices.Exists([]string{c.index},
			c.es.Indices.Exists.WithContext(ctx),
		)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		switch res.StatusCode {
		case http.StatusOK:
			exists = true
			return nil
		case http.StatusNotFound:
			exists = false
			return nil
		default:
			return fmt.Errorf("check index returned %s", res.Status())
		}
	})
	if err != nil {
		return false, fmt.Errorf("%w: check index %q: %s", ErrConnection, c.index, logging.SanitizeError(err))
	}
	return exists, nil
}

func (c *Client) deleteIndex(ctx context.Context) error {
	err := retry.DoIfTransient(ctx, c.retry, func() error {
		res, err := c.es.Indices.Delete([]string{c.index},
			c.es.Indices.Delete.WithContext(ctx),
			c.es.Indices.Delete.WithIgnoreUnavailable(true),
		)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("delete index returned %s", res.Status())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete index %q: %s", ErrConnection, c.index, logging.SanitizeError(err))
	}

	c.log.Info().Str("index", c.index).Msg("deleted existing index")
	return nil
}

// ---------------------------------------------------------------------------
// Bulk loading
// ---------------------------------------------------------------------------

// BulkLoad writes documents to the index in batches. A transport-level
// failure aborts the load with ErrConnection; item-level rejections are
// collected across batches and surfaced as a PartialWriteError once every
// batch has been attempted. The returned LoadResult is valid either way.
func (c *Client) BulkLoad(ctx context.Context, docs []map[string]interface{}) (*LoadResult, error) {
	result := &LoadResult{}
	if len(docs) == 0 {
		return result, nil
	}

	batches := 0
	for start := 0; start < len(docs); start += c.batchSize {
		end := start + c.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := c.sendBulk(ctx, docs[start:end], result); err != nil {
			return result, err
		}
		batches++
		c.log.Debug().
			Int("batch", batches).
			Int("indexed", result.Indexed).
			Int("failed", result.Failed).
			Msg("bulk batch written")
	}

	if result.Failed > 0 {
		return result, &PartialWriteError{
			Indexed: result.Indexed,
			Failed:  result.Failed,
			Reasons: result.reasons,
		}
	}
	return result, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index bulkItem `json:"index"`
	} `json:"items"`
}

type bulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (c *Client) sendBulk(ctx context.Context, docs []map[string]interface{}, result *LoadResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		buf.WriteString(`{"index":{}}` + "\n")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding bulk document: %w", err)
		}
	}

	var parsed bulkResponse
	err := retry.DoIfTransient(ctx, c.retry, func() error {
		parsed = bulkResponse{}
		res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()),
			c.es.Bulk.WithIndex(c.index),
			c.es.Bulk.WithContext(ctx),
		)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("bulk returned %s", res.Status())
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode bulk response: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: bulk write: %s", ErrConnection, logging.SanitizeError(err))
	}

	for _, item := range parsed.Items {
		if item.Index.Status >= 200 && item.Index.Status < 300 {
			result.Indexed++
			continue
		}
		result.Failed++
		reason := fmt.Sprintf("status %d", item.Index.Status)
		if item.Index.Error != nil {
			reason = fmt.Sprintf("%s: %s", item.Index.Error.Type,
				logging.TruncateString(item.Index.Error.Reason, logging.MaxReasonLength))
		}
		c.log.Warn().Str("doc_id", item.Index.ID).Str("reason", reason).Msg("document rejected")
		if len(result.reasons) < maxFailureReasons {
			result.reasons = append(result.reasons, reason)
		}
	}
	return nil
}

// Refresh makes loaded documents immediately visible to searches. Failures
// are reported but are not fatal: the store refreshes on its own interval.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithIndex(c.index),
		c.es.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("refresh index %q: %s", c.index, logging.SanitizeError(err))
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh index %q returned %s", c.index, res.Status())
	}
	return nil
}
