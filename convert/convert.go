// Copyright 2025 Cloudlint Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package convert turns raw candidate items into structured recommendations
// through a generative backend, with rate limiting, bounded retries, and
// derivation-based backfill of fields the model leaves empty.
package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudlint/harvest/ai"
	"github.com/cloudlint/harvest/core"
)

const maxRetries = 3

var retryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Converter converts raw items into recommendations.
type Converter struct {
	gen        ai.Generator
	schemaText string
	limiter    *RateLimiter
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the converter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = logger.With("component", "convert")
	}
}

// WithRateLimiter replaces the default limiter.
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(c *Converter) {
		c.limiter = limiter
	}
}

// NewConverter creates a converter using the given backend. schemaText is the
// raw schema document embedded into the conversion prompt.
func NewConverter(gen ai.Generator, schemaText string, opts ...Option) *Converter {
	c := &Converter{
		gen:        gen,
		schemaText: schemaText,
		limiter:    NewRateLimiter(),
		logger:     slog.Default().With("component", "convert"),
		now:        time.Now,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type skipProbe struct {
	Skip   bool   `json:"skip"`
	Reason string `json:"reason"`
}

// Convert produces a recommendation for one raw item. A (nil, nil) return
// means the backend deliberately skipped the item as off-topic. Malformed
// JSON is retried with the parse error fed back into the prompt; transport
// failures back off exponentially. Both share the attempt budget.
func (c *Converter) Convert(ctx context.Context, item core.RawItem) (*core.Recommendation, error) {
	system := buildSystemPrompt(c.schemaText, c.now(), item.SourceName)
	user := buildUserPrompt(item)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.limiter.Wait(ctx)

		response, err := c.gen.Generate(ctx, system, user)
		if err != nil {
			lastErr = err
			if attempt < maxRetries-1 {
				delay := retryDelays[min(attempt, len(retryDelays)-1)]
				c.logger.Warn("generation failed, retrying", "attempt", attempt+1, "delay", delay, "err", err)
				c.sleep(ctx, delay)
				continue
			}
			break
		}

		text := repairJSON(stripCodeFences(response))

		var probe skipProbe
		if err := json.Unmarshal([]byte(text), &probe); err == nil && probe.Skip {
			c.logger.Info("backend skipped item", "title", item.Title, "reason", probe.Reason)
			return nil, nil
		}

		var rec core.Recommendation
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			lastErr = fmt.Errorf("decode response: %w", err)
			if attempt < maxRetries-1 {
				c.logger.Warn("invalid JSON from backend, retrying with repair prompt", "attempt", attempt+1, "err", err)
				user = fmt.Sprintf("Your previous response was not valid JSON. Error: %v\nPlease output ONLY valid JSON.\n\n%s", err, buildUserPrompt(item))
				c.sleep(ctx, retryDelays[min(attempt, len(retryDelays)-1)])
				continue
			}
			break
		}

		Backfill(&rec, item.SourceName, c.now())
		return &rec, nil
	}

	return nil, fmt.Errorf("conversion failed after %d attempts for %q: %w", maxRetries, item.Title, lastErr)
}
