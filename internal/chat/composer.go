package chat

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pazarglobal/assistant/internal/session"
	"github.com/pazarglobal/assistant/internal/store"
	"github.com/pazarglobal/assistant/internal/telemetry"
)

const maxTitleLen = 100

// Composer fans out one extraction task per draft field, waits at the fan-in
// barrier, and applies all proposals as a single version-checked write.
type Composer struct {
	drafts    DraftStore
	extractor FieldExtractor
	timeout   time.Duration
	maxTasks  int
	logger    *log.Logger
	tele      *telemetry.Telemetry
}

func NewComposer(drafts DraftStore, extractor FieldExtractor, timeout time.Duration, maxTasks int, logger *log.Logger, tele *telemetry.Telemetry) *Composer {
	if maxTasks <= 0 {
		maxTasks = len(Fields)
	}
	return &Composer{drafts: drafts, extractor: extractor, timeout: timeout, maxTasks: maxTasks, logger: logger, tele: tele}
}

// Compose runs the per-field extractors concurrently against the given draft
// snapshot and merges their proposals. A timed-out or failing extractor is a
// no-op for its field. On a version conflict the merge is re-applied once
// against the freshly read draft; a second conflict returns ErrDraftConflict.
func (c *Composer) Compose(ctx context.Context, draft store.Draft, message string, history []session.Message, mediaRef string) (store.Draft, error) {
	results := make([]FieldUpdate, len(Fields))
	var timeouts int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxTasks)
	for i, field := range Fields {
		i, field := i, field
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()
			upd, err := c.extractor.ExtractField(fctx, field, message, history, currentValue(draft, field))
			switch {
			case err == nil:
				results[i] = upd
			case errors.Is(err, context.DeadlineExceeded):
				atomic.AddInt32(&timeouts, 1)
				if c.tele != nil {
					c.tele.ExtractionTimeouts.WithLabelValues(string(field)).Inc()
				}
				c.logger.Printf("field %s extraction timed out, treating as no-op", field)
			default:
				c.logger.Printf("field %s extraction failed, treating as no-op: %v", field, err)
			}
			// Failures are contained at the fan-in boundary.
			return nil
		})
	}
	_ = g.Wait()

	if int(timeouts) == len(Fields) {
		return store.Draft{}, ErrExtractionUnavailable
	}

	upd := buildUpdate(draft, results, mediaRef)
	if upd.Empty() {
		return draft, nil
	}

	merged, err := c.drafts.UpdateDraftFields(ctx, draft.ID, draft.Version, upd)
	if !errors.Is(err, store.ErrVersionConflict) {
		return merged, err
	}

	// Lost the conditional write. Re-read and re-apply against the fresh
	// base: our extracted values still win per field (last writer wins), but
	// image appends merge with whatever landed concurrently.
	fresh, err := c.drafts.GetDraft(ctx, draft.ID)
	if err != nil {
		return store.Draft{}, err
	}
	upd = buildUpdate(fresh, results, mediaRef)
	if upd.Empty() {
		return fresh, nil
	}
	merged, err = c.drafts.UpdateDraftFields(ctx, fresh.ID, fresh.Version, upd)
	if errors.Is(err, store.ErrVersionConflict) {
		if c.tele != nil {
			c.tele.DraftConflicts.Inc()
		}
		return store.Draft{}, ErrDraftConflict
	}
	return merged, err
}

func currentValue(d store.Draft, field Field) string {
	switch field {
	case FieldTitle:
		return d.Title
	case FieldDescription:
		return d.Description
	case FieldPrice:
		if d.Price > 0 {
			return strconv.FormatInt(d.Price, 10)
		}
		return ""
	case FieldCategory:
		return d.Category
	case FieldImages:
		return strings.Join(d.Images, ", ")
	}
	return ""
}

// buildUpdate turns the extraction proposals into one conditional write
// against the given base draft. Malformed prices and unusable values degrade
// to no-ops; images append and deduplicate rather than replace.
func buildUpdate(base store.Draft, results []FieldUpdate, mediaRef string) store.DraftUpdate {
	var upd store.DraftUpdate
	proposedImages := []string(nil)

	for i, field := range Fields {
		res := results[i]
		if !res.Updated {
			continue
		}
		switch field {
		case FieldTitle:
			v := strings.TrimSpace(res.Value)
			if len(v) > maxTitleLen {
				v = v[:maxTitleLen]
			}
			if v != "" && v != base.Title {
				upd.Title = &v
			}
		case FieldDescription:
			v := strings.TrimSpace(res.Value)
			if v != "" && v != base.Description {
				upd.Description = &v
			}
		case FieldPrice:
			if n, ok := NormalizePrice(res.Value); ok && n > 0 && n != base.Price {
				upd.Price = &n
			}
		case FieldCategory:
			if v := NormalizeCategory(res.Value); v != "" && v != base.Category {
				upd.Category = &v
			}
		case FieldImages:
			proposedImages = res.Values
		}
	}

	if merged, changed := mergeImages(base.Images, proposedImages, mediaRef); changed {
		upd.Images = merged
	}
	return upd
}

// mergeImages appends new refs to the existing list, deduplicated by ref.
func mergeImages(current, proposed []string, mediaRef string) ([]string, bool) {
	seen := make(map[string]struct{}, len(current))
	merged := make([]string, 0, len(current)+len(proposed)+1)
	for _, ref := range current {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		merged = append(merged, ref)
	}
	changed := false
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		merged = append(merged, ref)
		changed = true
	}
	for _, ref := range proposed {
		add(ref)
	}
	add(mediaRef)
	return merged, changed
}
