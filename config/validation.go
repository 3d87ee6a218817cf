package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err folds the validation errors into a single error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateWatch(&c.Watch)...)
	errors = append(errors, validateActivity(&c.Activity)...)
	errors = append(errors, validateWhaleMemory(&c.WhaleMemory)...)
	errors = append(errors, validateProfileCache(&c.ProfileCache)...)
	errors = append(errors, validateEnrichment(&c.Enrichment)...)
	errors = append(errors, validateStore(&c.Store)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateWatch(w *WatchConfig) []ValidationError {
	var errors []ValidationError

	if w.Threshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "watch.threshold",
			Message: "must be non-negative",
		})
	}

	if w.TickInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "watch.tick_interval",
			Message: "must be at least 1 second",
		})
	}

	if w.QuietMultiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "watch.quiet_multiplier",
			Message: "must be at least 1",
		})
	}

	if w.PruneEveryTicks < 1 {
		errors = append(errors, ValidationError{
			Field:   "watch.prune_every_ticks",
			Message: "must be at least 1",
		})
	}

	if len(w.Platforms) == 0 {
		errors = append(errors, ValidationError{
			Field:   "watch.platforms",
			Message: "at least one platform is required",
		})
	}
	for _, p := range w.Platforms {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case PlatformAll, PlatformPolymarket, PlatformKalshi:
		default:
			errors = append(errors, ValidationError{
				Field:   "watch.platforms",
				Message: fmt.Sprintf("unknown platform %q", p),
			})
		}
	}

	if w.StreamQueueSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "watch.stream_queue_size",
			Message: "must be at least 1",
		})
	}

	if w.RecentIDCapacity < 0 {
		errors = append(errors, ValidationError{
			Field:   "watch.recent_id_capacity",
			Message: "must be non-negative",
		})
	}

	if w.PollLimit < 1 || w.PollLimit > 1000 {
		errors = append(errors, ValidationError{
			Field:   "watch.poll_limit",
			Message: "must be between 1 and 1000",
		})
	}

	if w.MaxOdds <= 0 || w.MaxOdds > 1 {
		errors = append(errors, ValidationError{
			Field:   "watch.max_odds",
			Message: "must be in (0, 1]",
		})
	}

	if w.MinSpread < 0 || w.MinSpread >= 1 {
		errors = append(errors, ValidationError{
			Field:   "watch.min_spread",
			Message: "must be in [0, 1)",
		})
	}

	return errors
}

func validateActivity(a *ActivityConfig) []ValidationError {
	var errors []ValidationError

	if a.RepeatWindow <= 0 {
		errors = append(errors, ValidationError{
			Field:   "activity.repeat_window",
			Message: "must be positive",
		})
	}

	if a.HeavyWindow < a.RepeatWindow {
		errors = append(errors, ValidationError{
			Field:   "activity.heavy_window",
			Message: "must not be shorter than repeat_window",
		})
	}

	if a.RepeatMinCount < 1 {
		errors = append(errors, ValidationError{
			Field:   "activity.repeat_min_count",
			Message: "must be at least 1",
		})
	}

	if a.HeavyMinCount < 1 {
		errors = append(errors, ValidationError{
			Field:   "activity.heavy_min_count",
			Message: "must be at least 1",
		})
	}

	if a.MaxEntries < a.HeavyMinCount {
		errors = append(errors, ValidationError{
			Field:   "activity.max_entries",
			Message: "must be at least heavy_min_count",
		})
	}

	return errors
}

func validateWhaleMemory(m *WhaleMemoryConfig) []ValidationError {
	var errors []ValidationError

	if m.Horizon < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "whale_memory.horizon",
			Message: "must be at least 1 minute",
		})
	}

	return errors
}

func validateProfileCache(p *ProfileCacheConfig) []ValidationError {
	var errors []ValidationError

	if p.Enabled && p.TTL < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "profile_cache.ttl",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateEnrichment(e *EnrichmentConfig) []ValidationError {
	var errors []ValidationError

	if e.TopHolders < 0 || e.TopHolders > 50 {
		errors = append(errors, ValidationError{
			Field:   "enrichment.top_holders",
			Message: "must be between 0 and 50",
		})
	}

	if e.TopHolders > 0 && e.HolderTTL < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "enrichment.holder_ttl",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	var errors []ValidationError

	switch s.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if s.DSN == "" {
			errors = append(errors, ValidationError{
				Field:   "store.dsn",
				Message: "is required for the postgres driver",
			})
		}
		if s.MaxConns < 1 || s.MinConns < 0 || s.MinConns > s.MaxConns {
			errors = append(errors, ValidationError{
				Field:   "store.max_conns",
				Message: "must be at least 1 and not below min_conns",
			})
		}
	case StoreDriverRedis:
		if s.RedisAddr == "" {
			errors = append(errors, ValidationError{
				Field:   "store.redis_addr",
				Message: "is required for the redis driver",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Message: fmt.Sprintf("unknown driver %q", s.Driver),
		})
	}

	if s.RetentionDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.retention_days",
			Message: "must be non-negative (0 keeps history forever)",
		})
	}

	return errors
}

func validateHealthServer(h *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if h.Enabled && (h.Port < 1 || h.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}
