// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config controls when and how much the engine pulls
type Config struct {
	Enabled          bool          `json:"enabled"`
	MaxPages         int           `json:"maxPages"`
	MaxDuration      time.Duration `json:"-"`
	PageLimit        int           `json:"pageLimit"`
	StalenessMinutes int           `json:"stalenessMinutes"`
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MaxPages:         10,
		MaxDuration:      20 * time.Second,
		PageLimit:        200,
		StalenessMinutes: 5,
	}
}

// Validate checks that every budget is a positive hard cap
func (c Config) Validate() error {
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive, got %d", c.MaxPages)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("max duration must be positive, got %s", c.MaxDuration)
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("page limit must be positive, got %d", c.PageLimit)
	}
	if c.StalenessMinutes < 0 {
		return fmt.Errorf("staleness minutes cannot be negative, got %d", c.StalenessMinutes)
	}
	return nil
}

// Staleness returns the staleness threshold as a duration
func (c Config) Staleness() time.Duration {
	return time.Duration(c.StalenessMinutes) * time.Minute
}

// Pull returns the puller budget carried by c
func (c Config) Pull() PullConfig {
	return PullConfig{MaxPages: c.MaxPages, MaxDuration: c.MaxDuration, PageLimit: c.PageLimit}
}

// ConfigPatch is a partial configuration update; nil fields are left unchanged
type ConfigPatch struct {
	Enabled          *bool          `json:"enabled,omitempty"`
	MaxPages         *int           `json:"maxPages,omitempty"`
	MaxDuration      *time.Duration `json:"-"`
	PageLimit        *int           `json:"pageLimit,omitempty"`
	StalenessMinutes *int           `json:"stalenessMinutes,omitempty"`
}

// Apply returns c with the non-nil fields of p applied
func (p ConfigPatch) Apply(c Config) Config {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.MaxPages != nil {
		c.MaxPages = *p.MaxPages
	}
	if p.MaxDuration != nil {
		c.MaxDuration = *p.MaxDuration
	}
	if p.PageLimit != nil {
		c.PageLimit = *p.PageLimit
	}
	if p.StalenessMinutes != nil {
		c.StalenessMinutes = *p.StalenessMinutes
	}
	return c
}

// IsEmpty reports whether the patch changes nothing
func (p ConfigPatch) IsEmpty() bool {
	return p.Enabled == nil && p.MaxPages == nil && p.MaxDuration == nil &&
		p.PageLimit == nil && p.StalenessMinutes == nil
}

// JSON carries durations as milliseconds.

type configJSON struct {
	Enabled          bool  `json:"enabled"`
	MaxPages         int   `json:"maxPages"`
	MaxDurationMs    int64 `json:"maxDurationMs"`
	PageLimit        int   `json:"pageLimit"`
	StalenessMinutes int   `json:"stalenessMinutes"`
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		Enabled:          c.Enabled,
		MaxPages:         c.MaxPages,
		MaxDurationMs:    c.MaxDuration.Milliseconds(),
		PageLimit:        c.PageLimit,
		StalenessMinutes: c.StalenessMinutes,
	})
}

func (c *Config) UnmarshalJSON(b []byte) error {
	w := configJSON{
		Enabled:          c.Enabled,
		MaxPages:         c.MaxPages,
		MaxDurationMs:    c.MaxDuration.Milliseconds(),
		PageLimit:        c.PageLimit,
		StalenessMinutes: c.StalenessMinutes,
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*c = Config{
		Enabled:          w.Enabled,
		MaxPages:         w.MaxPages,
		MaxDuration:      time.Duration(w.MaxDurationMs) * time.Millisecond,
		PageLimit:        w.PageLimit,
		StalenessMinutes: w.StalenessMinutes,
	}
	return nil
}

type configPatchJSON struct {
	Enabled          *bool  `json:"enabled,omitempty"`
	MaxPages         *int   `json:"maxPages,omitempty"`
	MaxDurationMs    *int64 `json:"maxDurationMs,omitempty"`
	PageLimit        *int   `json:"pageLimit,omitempty"`
	StalenessMinutes *int   `json:"stalenessMinutes,omitempty"`
}

func (p ConfigPatch) MarshalJSON() ([]byte, error) {
	w := configPatchJSON{
		Enabled:          p.Enabled,
		MaxPages:         p.MaxPages,
		PageLimit:        p.PageLimit,
		StalenessMinutes: p.StalenessMinutes,
	}
	if p.MaxDuration != nil {
		ms := p.MaxDuration.Milliseconds()
		w.MaxDurationMs = &ms
	}
	return json.Marshal(w)
}

func (p *ConfigPatch) UnmarshalJSON(b []byte) error {
	var w configPatchJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = ConfigPatch{
		Enabled:          w.Enabled,
		MaxPages:         w.MaxPages,
		PageLimit:        w.PageLimit,
		StalenessMinutes: w.StalenessMinutes,
	}
	if w.MaxDurationMs != nil {
		d := time.Duration(*w.MaxDurationMs) * time.Millisecond
		p.MaxDuration = &d
	}
	return nil
}
