// Package harvester polls configured RSS/Atom feeds and enqueues one task
// per new item. It is the built-in source for the news collection; other
// collections are fed by external harvesters writing to the same queue.
package harvester

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/platform/config"
	"github.com/signalworks/intelgraph/internal/platform/observability"
	"github.com/signalworks/intelgraph/internal/storage"
)

var _ Repository = (*storage.DB)(nil)

const (
	userAgent       = "intelgraph-harvester/1.0"
	headerUserAgent = "User-Agent"

	statusEnqueued = "enqueued"
	statusSkipped  = "skipped"
	statusError    = "error"

	maxSummaryLength = 2000
)

// Repository is the queue surface the harvester needs.
type Repository interface {
	EnqueueTask(ctx context.Context, task *domain.Task) error
}

// FeedSpec is one configured feed: a source URL plus the task type its
// items are enqueued under.
type FeedSpec struct {
	TaskType domain.TaskType
	URL      string
}

// ParseFeedSpecs parses "type|url" feed entries. A bare URL defaults to the
// news collection; entries with an unknown type are rejected.
func ParseFeedSpecs(entries []string) ([]FeedSpec, error) {
	specs := make([]FeedSpec, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		spec := FeedSpec{TaskType: domain.TaskTypeNews, URL: entry}

		if kind, rest, ok := strings.Cut(entry, "|"); ok {
			taskType := domain.TaskType(strings.TrimSpace(kind))
			if !knownTaskType(taskType) {
				return nil, fmt.Errorf("unknown task type %q in feed entry %q", kind, entry)
			}

			spec.TaskType = taskType
			spec.URL = strings.TrimSpace(rest)
		}

		if _, err := url.ParseRequestURI(spec.URL); err != nil {
			return nil, fmt.Errorf("invalid feed url %q: %w", spec.URL, err)
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

func knownTaskType(t domain.TaskType) bool {
	for _, known := range domain.AllTaskTypes {
		if known == t {
			return true
		}
	}

	return false
}

// Harvester fetches feeds and enqueues tasks.
type Harvester struct {
	cfg        *config.Config
	repo       Repository
	feeds      []FeedSpec
	httpClient *http.Client
	parser     *gofeed.Parser
	logger     *zerolog.Logger
}

func New(cfg *config.Config, repo Repository, logger *zerolog.Logger) (*Harvester, error) {
	feeds, err := ParseFeedSpecs(cfg.HarvestFeeds)
	if err != nil {
		return nil, err
	}

	return &Harvester{
		cfg:        cfg,
		repo:       repo,
		feeds:      feeds,
		httpClient: &http.Client{Timeout: cfg.HarvestFetchTimeout},
		parser:     gofeed.NewParser(),
		logger:     logger,
	}, nil
}

// Run harvests every configured feed once. Per-feed failures are logged and
// skipped so one dead feed never starves the rest.
func (h *Harvester) Run(ctx context.Context) error {
	if len(h.feeds) == 0 {
		h.logger.Info().Msg("no feeds configured, nothing to harvest")

		return nil
	}

	for _, spec := range h.feeds {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck
		}

		enqueued, err := h.harvestFeed(ctx, spec)
		if err != nil {
			observability.TasksHarvested.WithLabelValues(string(spec.TaskType), statusError).Inc()
			h.logger.Error().Err(err).Str("feed", spec.URL).Msg("feed harvest failed")

			continue
		}

		h.logger.Info().
			Str("feed", spec.URL).
			Str("task_type", string(spec.TaskType)).
			Int("enqueued", enqueued).
			Msg("feed harvested")
	}

	return nil
}

func (h *Harvester) harvestFeed(ctx context.Context, spec FeedSpec) (int, error) {
	feed, err := h.fetchFeed(ctx, spec.URL)
	if err != nil {
		return 0, err
	}

	enqueued := 0

	for i, item := range feed.Items {
		if i >= h.cfg.HarvestMaxPerFeed {
			break
		}

		task, ok := h.itemToTask(ctx, spec, item)
		if !ok {
			observability.TasksHarvested.WithLabelValues(string(spec.TaskType), statusSkipped).Inc()

			continue
		}

		if err := h.repo.EnqueueTask(ctx, task); err != nil {
			return enqueued, fmt.Errorf("enqueue task: %w", err)
		}

		observability.TasksHarvested.WithLabelValues(string(spec.TaskType), statusEnqueued).Inc()

		enqueued++
	}

	return enqueued, nil
}

func (h *Harvester) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set(headerUserAgent, userAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}

	feed, err := h.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	return feed, nil
}

// itemToTask converts one feed item into a queue task. Items without a link
// or title carry nothing the analyzer can use and are skipped.
func (h *Harvester) itemToTask(ctx context.Context, spec FeedSpec, item *gofeed.Item) (*domain.Task, bool) {
	title := strings.TrimSpace(item.Title)
	if title == "" || item.Link == "" {
		return nil, false
	}

	summary := cleanSummary(item.Description)
	if summary == "" {
		summary = cleanSummary(item.Content)
	}

	if summary == "" && h.cfg.HarvestFetchBody {
		summary = h.fetchArticleSummary(ctx, item.Link)
	}

	return &domain.Task{
		ID:       uuid.NewString(),
		TaskType: spec.TaskType,
		Payload: domain.TaskPayload{
			Title:           title,
			Summary:         summary,
			URL:             item.Link,
			PublicationDate: itemPublished(item),
			SourceID:        spec.URL,
		},
	}, true
}

// fetchArticleSummary pulls the linked page through readability as a
// fallback when the feed entry carries no description. Failures are not
// fatal, the task just goes out with the title alone.
func (h *Harvester) fetchArticleSummary(ctx context.Context, link string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return ""
	}

	req.Header.Set(headerUserAgent, userAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		h.logger.Debug().Err(err).Str("url", link).Msg("readability extraction failed")

		return ""
	}

	if article.Excerpt != "" {
		return cleanSummary(article.Excerpt)
	}

	return cleanSummary(article.TextContent)
}

// itemPublished resolves the item timestamp: the parsed feed date first,
// then a lenient parse of the raw string, then now.
func itemPublished(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}

	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}

	if item.Published != "" {
		if t, err := dateparse.ParseAny(item.Published); err == nil {
			return t.UTC()
		}
	}

	return time.Now().UTC()
}

func cleanSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxSummaryLength {
		s = string([]rune(s)[:maxSummaryLength])
	}

	return strings.TrimSpace(s)
}
