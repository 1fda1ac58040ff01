// Package abtest provides the variant-selection contract the router consumes
// and a weighted store-backed implementation.
package abtest

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"leadpulse/models"
	"leadpulse/store"
)

// Selection is the outcome of picking a variant for a send.
type Selection struct {
	TestID    uint
	VariantID uint
	ScriptID  uint
}

// Selector resolves an A/B-tested script for a (campaign, channel) pair.
// A nil, nil return means no active test exists.
type Selector interface {
	Select(ctx context.Context, campaignID uint, ch models.Channel) (*Selection, error)
}

// WeightedSelector picks among a test's variants proportionally to weight.
type WeightedSelector struct {
	store store.Store

	mu  sync.Mutex
	rng *rand.Rand
}

func NewWeightedSelector(st store.Store, seed int64) *WeightedSelector {
	return &WeightedSelector{store: st, rng: rand.New(rand.NewSource(seed))}
}

func (s *WeightedSelector) Select(ctx context.Context, campaignID uint, ch models.Channel) (*Selection, error) {
	test, err := s.store.GetActiveTest(ctx, campaignID, ch)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(test.Variants) == 0 {
		return nil, nil
	}

	total := 0
	for _, v := range test.Variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total == 0 {
		return nil, nil
	}

	s.mu.Lock()
	pick := s.rng.Intn(total)
	s.mu.Unlock()

	for _, v := range test.Variants {
		if v.Weight <= 0 {
			continue
		}
		if pick < v.Weight {
			if err := s.store.IncrementVariantSent(ctx, v.ID); err != nil {
				return nil, err
			}
			return &Selection{TestID: test.ID, VariantID: v.ID, ScriptID: v.ScriptID}, nil
		}
		pick -= v.Weight
	}
	return nil, nil
}
