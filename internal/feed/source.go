// Package feed supplies price ticks to the engine: a seeded synthetic random
// walk for development, a scripted replay for tests and demos, and a Manager
// that fans ticks out to consumers.
package feed

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/credo/carbon-engine/internal/model"
)

// Source emits ticks for each requested asset until ctx is done or the
// source is exhausted.
type Source interface {
	Run(ctx context.Context, assets []string, handler func(model.Tick)) error
}

var defaultMinPrice = decimal.New(1, -2)

// SyntheticSource produces deterministic pseudo-random ticks for offline
// development. Each step moves the price by up to ±Volatility (a fraction of
// the current price), rounded to cents and floored at MinPrice.
type SyntheticSource struct {
	Interval   time.Duration
	Seed       int64
	Volatility decimal.Decimal
	MinPrice   decimal.Decimal
	Start      map[string]decimal.Decimal // initial price per asset
}

// Run emits one tick per asset every Interval until ctx is cancelled.
func (s *SyntheticSource) Run(ctx context.Context, assets []string, handler func(model.Tick)) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	w := s.walker(assets)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			for _, id := range assets {
				handler(w.step(id, t.UTC()))
			}
		}
	}
}

// Generate returns rounds×len(assets) ticks without waiting, stamped one
// Interval apart starting at from. Same seed, same output.
func (s *SyntheticSource) Generate(assets []string, rounds int, from time.Time) []model.Tick {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	w := s.walker(assets)

	out := make([]model.Tick, 0, rounds*len(assets))
	for i := 0; i < rounds; i++ {
		at := from.Add(time.Duration(i) * interval).UTC()
		for _, id := range assets {
			out = append(out, w.step(id, at))
		}
	}
	return out
}

func (s *SyntheticSource) walker(assets []string) *walker {
	vol := s.Volatility
	if !vol.IsPositive() {
		vol = decimal.New(2, -2)
	}
	floor := s.MinPrice
	if !floor.IsPositive() {
		floor = defaultMinPrice
	}
	w := &walker{
		rng:    rand.New(rand.NewSource(s.Seed)),
		vol:    vol,
		floor:  floor,
		prices: make(map[string]decimal.Decimal, len(assets)),
	}
	for _, id := range assets {
		p, ok := s.Start[id]
		if !ok || !p.IsPositive() {
			p = decimal.NewFromInt(10)
		}
		w.prices[id] = p
	}
	return w
}

type walker struct {
	rng    *rand.Rand
	vol    decimal.Decimal
	floor  decimal.Decimal
	prices map[string]decimal.Decimal
}

func (w *walker) step(id string, at time.Time) model.Tick {
	p := w.prices[id]
	shock := decimal.NewFromFloat(w.rng.Float64()*2 - 1).Mul(w.vol)
	p = p.Add(p.Mul(shock)).Round(2)
	if p.LessThan(w.floor) {
		p = w.floor
	}
	w.prices[id] = p
	return model.Tick{AssetID: id, Price: p, Timestamp: at}
}

// ReplaySource emits a fixed tick sequence, Interval apart, then returns nil.
// Ticks for assets not requested are skipped; an empty asset list means all.
type ReplaySource struct {
	Ticks    []model.Tick
	Interval time.Duration
}

func (s *ReplaySource) Run(ctx context.Context, assets []string, handler func(model.Tick)) error {
	want := make(map[string]bool, len(assets))
	for _, id := range assets {
		want[id] = true
	}
	for i, t := range s.Ticks {
		if len(want) > 0 && !want[t.AssetID] {
			continue
		}
		if i > 0 && s.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.Interval):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		handler(t)
	}
	return nil
}

type tickFile struct {
	Ticks []model.Tick `yaml:"ticks"`
}

// LoadTicks reads a YAML document with a top-level `ticks:` list.
func LoadTicks(r io.Reader) ([]model.Tick, error) {
	var f tickFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode ticks: %w", err)
	}
	for i, t := range f.Ticks {
		if t.AssetID == "" || !t.Price.IsPositive() {
			return nil, fmt.Errorf("tick %d: asset_id and a positive price are required", i)
		}
	}
	return f.Ticks, nil
}
