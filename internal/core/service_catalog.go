package core

import (
	"context"
	"fmt"
)

// FindOrCreateBrand returns the catalog brand named name (upper-cased and
// trimmed), creating it when absent.
func (s *Service) FindOrCreateBrand(ctx context.Context, name string) (Brand, error) {
	name = NormalizeBrandName(name)
	if name == "" {
		return Brand{}, fmt.Errorf("brand: %w", ErrEmptyName)
	}

	b, err := s.store.FindOrCreateBrand(ctx, name)
	if err != nil {
		return Brand{}, fmt.Errorf("find or create brand %q: %w", name, err)
	}
	s.publishBrands(ctx)
	return b, nil
}

// FindOrCreateModel returns the model named name under brandID, creating it
// when absent. The name is trimmed and its first letter capitalised.
func (s *Service) FindOrCreateModel(ctx context.Context, name, brandID string) (Model, error) {
	name = NormalizeModelName(name)
	if name == "" {
		return Model{}, fmt.Errorf("model: %w", ErrEmptyName)
	}
	if brandID == "" {
		return Model{}, fmt.Errorf("model %q: %w", name, ErrEmptyID)
	}

	m, err := s.store.FindOrCreateModel(ctx, name, brandID)
	if err != nil {
		return Model{}, fmt.Errorf("find or create model %q: %w", name, err)
	}
	s.publishModels(ctx, brandID)
	return m, nil
}

// ListBrands returns the catalog brands ordered by name.
func (s *Service) ListBrands(ctx context.Context) ([]Brand, error) {
	return s.store.Brands(ctx)
}

// ListModels returns the models of one brand ordered by name.
func (s *Service) ListModels(ctx context.Context, brandID string) ([]Model, error) {
	if brandID == "" {
		return nil, ErrEmptyID
	}
	return s.store.Models(ctx, brandID)
}

// DeleteBrand removes a brand and its models. Admin only.
func (s *Service) DeleteBrand(ctx context.Context, id Identity, brandID string) error {
	if !id.IsAdmin() {
		return ErrForbidden
	}
	if brandID == "" {
		return ErrEmptyID
	}
	if err := s.store.DeleteBrand(ctx, brandID); err != nil {
		return fmt.Errorf("delete brand %s: %w", brandID, err)
	}
	s.publishBrands(ctx)
	s.publishModels(ctx, brandID)
	return nil
}

// DeleteModel removes one model. Admin only.
func (s *Service) DeleteModel(ctx context.Context, id Identity, brandID, modelID string) error {
	if !id.IsAdmin() {
		return ErrForbidden
	}
	if modelID == "" {
		return ErrEmptyID
	}
	if err := s.store.DeleteModel(ctx, modelID); err != nil {
		return fmt.Errorf("delete model %s: %w", modelID, err)
	}
	if brandID != "" {
		s.publishModels(ctx, brandID)
	}
	return nil
}
