package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/engine"
	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/pattern"
	"github.com/Veraticus/statement-spice/internal/service"
)

// ErrNoSnapshot is returned when a batch arrives for an owner whose
// categories were never loaded with Refresh.
var ErrNoSnapshot = errors.New("category snapshot not loaded")

// CategoryLister loads the categories a categorizer may assign.
type CategoryLister interface {
	GetCategories(ctx context.Context, ownerID string) ([]model.Category, error)
}

// categorySnapshot is the set of categories an owner had at Refresh time.
type categorySnapshot struct {
	byName     map[string]model.Category
	categories []model.Category
}

func newCategorySnapshot(categories []model.Category) *categorySnapshot {
	byName := make(map[string]model.Category, len(categories))
	for _, cat := range categories {
		byName[strings.ToLower(strings.TrimSpace(cat.Name))] = cat
	}
	return &categorySnapshot{
		byName:     byName,
		categories: categories,
	}
}

func (s *categorySnapshot) resolve(name string) (model.Category, bool) {
	cat, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	return cat, ok
}

// Categorizer implements engine.Categorizer with a language model.
type Categorizer struct {
	client      Client
	categories  CategoryLister
	cache       *answerCache
	rateLimiter *rateLimiter
	logger      *slog.Logger
	snapshots   map[string]*categorySnapshot
	retryOpts   service.RetryOptions
	mu          sync.RWMutex
}

var _ engine.Categorizer = (*Categorizer)(nil)

// NewCategorizer wires a provider client to a category source.
func NewCategorizer(client Client, categories CategoryLister, cfg Config, logger *slog.Logger) *Categorizer {
	if logger == nil {
		logger = slog.Default()
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Categorizer{
		client:      client,
		categories:  categories,
		cache:       newAnswerCache(cfg.CacheTTL),
		rateLimiter: newRateLimiter(cfg.RateLimit),
		logger:      logger,
		snapshots:   make(map[string]*categorySnapshot),
		retryOpts:   retryOpts,
	}
}

// Close releases the rate limiter.
func (c *Categorizer) Close() {
	c.rateLimiter.Close()
}

// Refresh replaces the owner's category snapshot with the current store
// contents. Batches only ever see the snapshot from the latest Refresh.
func (c *Categorizer) Refresh(ctx context.Context, ownerID string) error {
	categories, err := c.categories.GetCategories(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to load categories for owner %s: %w", ownerID, err)
	}

	snapshot := newCategorySnapshot(categories)

	c.mu.Lock()
	c.snapshots[ownerID] = snapshot
	c.mu.Unlock()

	if pruned := c.cache.prune(); pruned > 0 {
		c.logger.Debug("Pruned expired categorizer cache entries", "count", pruned)
	}
	c.logger.Debug("Refreshed category snapshot",
		"owner_id", ownerID,
		"category_count", len(categories))
	return nil
}

func (c *Categorizer) snapshot(ownerID string) (*categorySnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[ownerID]
	return s, ok
}

// CategorizeBatch asks the model about each unique description once and
// returns one result per transaction in input order. Transactions whose
// description the model skipped get no result. Answers the model invented
// for descriptions it was not asked about are passed through so the caller
// can count them.
func (c *Categorizer) CategorizeBatch(ctx context.Context, ownerID string, transactions []model.Transaction) ([]engine.CategorizationResult, error) {
	if len(transactions) == 0 {
		return nil, nil
	}

	snapshot, ok := c.snapshot(ownerID)
	if !ok {
		return nil, fmt.Errorf("%w for owner %s", ErrNoSnapshot, ownerID)
	}

	keys := make([]string, len(transactions))
	raw := make(map[string]string, len(transactions))
	var unique []string
	for i := range transactions {
		key := pattern.NormalizeDescription(transactions[i].Description)
		keys[i] = key
		if _, seen := raw[key]; !seen {
			raw[key] = transactions[i].Description
			unique = append(unique, key)
		}
	}

	answers := make(map[string]engine.CategorizationResult, len(unique))
	var pending []string
	for _, key := range unique {
		if cached, hit := c.cache.get(ownerID, key); hit {
			if cat, found := snapshot.resolve(cached.categoryName); found {
				answers[key] = categorized(raw[key], cat, cached.reason)
				continue
			}
		}
		pending = append(pending, key)
	}

	var orphans []engine.CategorizationResult
	if len(pending) > 0 {
		if len(snapshot.categories) == 0 {
			for _, key := range pending {
				answers[key] = failed(raw[key], "no categories defined")
			}
		} else {
			var err error
			orphans, err = c.askModel(ctx, ownerID, snapshot, pending, raw, answers)
			if err != nil {
				return nil, err
			}
		}
	}

	results := make([]engine.CategorizationResult, 0, len(transactions)+len(orphans))
	for i := range transactions {
		r, ok := answers[keys[i]]
		if !ok {
			continue
		}
		r.Description = transactions[i].Description
		results = append(results, r)
	}
	results = append(results, orphans...)

	c.logger.Debug("Categorized batch",
		"owner_id", ownerID,
		"transaction_count", len(transactions),
		"unique_descriptions", len(unique),
		"model_requests", len(pending),
		"result_count", len(results))
	return results, nil
}

// askModel sends the pending descriptions in one request and records the
// resolved answers. It returns results for answers that match nothing asked.
func (c *Categorizer) askModel(
	ctx context.Context,
	ownerID string,
	snapshot *categorySnapshot,
	pending []string,
	raw map[string]string,
	answers map[string]engine.CategorizationResult,
) ([]engine.CategorizationResult, error) {
	descriptions := make([]string, len(pending))
	for i, key := range pending {
		descriptions[i] = raw[key]
	}

	req := CompletionRequest{
		System: systemPrompt,
		Prompt: buildBatchPrompt(snapshot.categories, descriptions),
	}

	var parsed []batchAnswer
	err := common.WithRetry(ctx, func() error {
		if err := c.rateLimiter.wait(ctx); err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		content, err := c.client.Complete(ctx, req)
		if err != nil {
			return err
		}
		batch, err := parseBatchResponse(content)
		if err != nil {
			return err
		}
		parsed = batch
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, fmt.Errorf("categorization request failed: %w", err)
	}

	asked := make(map[string]bool, len(pending))
	for _, key := range pending {
		asked[key] = true
	}

	var orphans []engine.CategorizationResult
	for _, a := range parsed {
		var key string
		switch normalized := pattern.NormalizeDescription(a.Description); {
		case a.ID >= 1 && a.ID <= len(pending):
			key = pending[a.ID-1]
		case asked[normalized]:
			key = normalized
		default:
			orphans = append(orphans, failed(a.Description, "unexpected description in response"))
			continue
		}
		if _, done := answers[key]; done {
			continue
		}

		cat, found := snapshot.resolve(a.Category)
		if !found {
			c.logger.Debug("Model chose an unknown category",
				"description", raw[key],
				"category", a.Category)
			answers[key] = failed(raw[key], "unknown category "+a.Category)
			continue
		}

		c.cache.set(ownerID, key, cat.Name, a.Reason)
		answers[key] = categorized(raw[key], cat, a.Reason)
	}

	if missing := len(pending) - countAnswered(pending, answers); missing > 0 {
		c.logger.Warn("Model skipped descriptions", "owner_id", ownerID, "count", missing)
	}
	return orphans, nil
}

func countAnswered(keys []string, answers map[string]engine.CategorizationResult) int {
	n := 0
	for _, key := range keys {
		if _, ok := answers[key]; ok {
			n++
		}
	}
	return n
}

func categorized(description string, cat model.Category, reason string) engine.CategorizationResult {
	id := cat.ID
	return engine.CategorizationResult{
		CategoryID:   &id,
		Description:  description,
		CategoryName: cat.Name,
		Reason:       reason,
		Status:       model.CategorizationCategorized,
	}
}

func failed(description, reason string) engine.CategorizationResult {
	return engine.CategorizationResult{
		Description: description,
		Reason:      reason,
		Status:      model.CategorizationFailure,
	}
}
