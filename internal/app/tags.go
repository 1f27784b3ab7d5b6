package app

import (
	"context"
	"fmt"
	"strings"

	"fieldscope/internal/util"
	"fieldscope/pkg/domain"
	"fieldscope/pkg/store"
)

func (a *App) CreateTag(ctx context.Context, name string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, ErrTagNameRequired
	}
	if _, ok, err := a.store.GetTagByName(name); err != nil {
		return domain.Tag{}, fmt.Errorf("get tag by name: %w", err)
	} else if ok {
		return domain.Tag{}, ErrTagAlreadyExists
	}
	tag := domain.Tag{ID: util.NewID(), Name: name}
	if err := a.store.SaveTag(tag); err != nil {
		return domain.Tag{}, fmt.Errorf("save tag: %w", err)
	}
	return tag, nil
}

func (a *App) GetTag(ctx context.Context, id string) (domain.Tag, error) {
	tag, ok, err := a.store.GetTag(id)
	if err != nil {
		return domain.Tag{}, fmt.Errorf("get tag: %w", err)
	}
	if !ok {
		return domain.Tag{}, ErrNotFound
	}
	return tag, nil
}

func (a *App) ListTags(ctx context.Context, filter store.TagFilter) (domain.Page[domain.Tag], error) {
	items, total, err := a.store.ListTags(filter)
	if err != nil {
		return domain.Page[domain.Tag]{}, fmt.Errorf("list tags: %w", err)
	}
	return domain.NewPage(items, filter.PageIndex, filter.PageSize, total), nil
}

// RenameTag changes a tag's name; observations referencing it pick up the
// new name since the join is by id.
func (a *App) RenameTag(ctx context.Context, id, name string) (domain.Tag, error) {
	tag, err := a.GetTag(ctx, id)
	if err != nil {
		return domain.Tag{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, ErrTagNameRequired
	}
	if existing, ok, err := a.store.GetTagByName(name); err != nil {
		return domain.Tag{}, fmt.Errorf("get tag by name: %w", err)
	} else if ok && existing.ID != id {
		return domain.Tag{}, ErrTagAlreadyExists
	}
	tag.Name = name
	if err := a.store.SaveTag(tag); err != nil {
		return domain.Tag{}, fmt.Errorf("save tag: %w", err)
	}
	return tag, nil
}

func (a *App) DeleteTag(ctx context.Context, id string) error {
	if _, err := a.GetTag(ctx, id); err != nil {
		return err
	}
	if err := a.store.DeleteTag(id); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}
