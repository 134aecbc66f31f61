package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/campa/internal/live"
)

// Snapshot returns the current state of a live topic, as sent to a new
// subscriber before any change arrives.
func (s *Service) Snapshot(ctx context.Context, topic string) (any, error) {
	switch {
	case topic == live.TopicVehicles:
		return s.ListVehicles(ctx)
	case topic == live.TopicActive:
		return s.ListActive(ctx)
	case topic == live.TopicActiveCount:
		return s.CountActive(ctx)
	case topic == live.TopicBrands:
		return s.ListBrands(ctx)
	case strings.HasPrefix(topic, live.TopicModelsPfx):
		return s.ListModels(ctx, strings.TrimPrefix(topic, live.TopicModelsPfx))
	default:
		return nil, fmt.Errorf("unknown topic %q: %w", topic, ErrNotFound)
	}
}

// publishVehicles refreshes the vehicle topics and the active gauge after a
// vehicle mutation. Topics without subscribers are not queried.
func (s *Service) publishVehicles(ctx context.Context) {
	if count, err := s.store.CountActive(ctx); err == nil {
		s.metrics.SetActiveVehicles(count)
		s.publish(live.TopicActiveCount, count)
	} else {
		s.log(ctx).Warn("count active vehicles failed", "error", err)
	}

	s.publishQuery(ctx, live.TopicVehicles)
	s.publishQuery(ctx, live.TopicActive)
}

func (s *Service) publishBrands(ctx context.Context) {
	s.publishQuery(ctx, live.TopicBrands)
}

func (s *Service) publishModels(ctx context.Context, brandID string) {
	s.publishQuery(ctx, live.ModelsTopic(brandID))
}

func (s *Service) publishQuery(ctx context.Context, topic string) {
	if s.pub == nil || !s.pub.Subscribed(topic) {
		return
	}
	payload, err := s.Snapshot(ctx, topic)
	if err != nil {
		s.log(ctx).Warn("live snapshot failed", "topic", topic, "error", err)
		return
	}
	s.pub.Publish(topic, payload)
}

func (s *Service) publish(topic string, payload any) {
	if s.pub == nil || !s.pub.Subscribed(topic) {
		return
	}
	s.pub.Publish(topic, payload)
}
