package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fieldscope/internal/authz"
	"fieldscope/internal/util"
	"fieldscope/pkg/domain"
	"fieldscope/pkg/queue"
	"fieldscope/pkg/store"
)

// ConfirmationInput is the write payload for creating or replacing a
// confirmation. ObservationID is optional; when set the observation must
// exist.
type ConfirmationInput struct {
	OwnerID       string
	ObservationID string
	Confirmed     bool
	Description   string
}

func (a *App) CreateConfirmation(ctx context.Context, caller domain.User, in ConfirmationInput) (domain.Confirmation, error) {
	if in.OwnerID != "" && in.OwnerID != caller.ID {
		return domain.Confirmation{}, ErrOwnerMismatch
	}
	if err := a.checkObservationRef(ctx, in.ObservationID); err != nil {
		return domain.Confirmation{}, err
	}

	now := time.Now().UTC()
	conf := domain.Confirmation{
		ID:            util.NewID(),
		ObservationID: in.ObservationID,
		OwnerID:       caller.ID,
		Confirmed:     in.Confirmed,
		Description:   strings.TrimSpace(in.Description),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.SaveConfirmation(conf); err != nil {
		return domain.Confirmation{}, fmt.Errorf("save confirmation: %w", err)
	}
	a.publish(ctx, queue.RouteConfirmationCreated, queue.ConfirmationEvent{
		ConfirmationID: conf.ID,
		ObservationID:  conf.ObservationID,
		OwnerID:        conf.OwnerID,
		Confirmed:      conf.Confirmed,
		OccurredAt:     now,
	})
	return conf, nil
}

func (a *App) GetConfirmation(ctx context.Context, id string) (domain.Confirmation, error) {
	conf, ok, err := a.store.GetConfirmation(id)
	if err != nil {
		return domain.Confirmation{}, fmt.Errorf("get confirmation: %w", err)
	}
	if !ok {
		return domain.Confirmation{}, ErrNotFound
	}
	return conf, nil
}

func (a *App) ListConfirmations(ctx context.Context, filter store.ConfirmationFilter) (domain.Page[domain.Confirmation], error) {
	items, total, err := a.store.ListConfirmations(filter)
	if err != nil {
		return domain.Page[domain.Confirmation]{}, fmt.Errorf("list confirmations: %w", err)
	}
	return domain.NewPage(items, filter.PageIndex, filter.PageSize, total), nil
}

func (a *App) UpdateConfirmation(ctx context.Context, caller authz.Caller, id string, in ConfirmationInput) (domain.Confirmation, error) {
	conf, err := a.GetConfirmation(ctx, id)
	if err != nil {
		return domain.Confirmation{}, err
	}
	if err := a.authorize(caller, conf.OwnerID); err != nil {
		return domain.Confirmation{}, err
	}
	if err := a.checkObservationRef(ctx, in.ObservationID); err != nil {
		return domain.Confirmation{}, err
	}

	conf.ObservationID = in.ObservationID
	conf.Confirmed = in.Confirmed
	conf.Description = strings.TrimSpace(in.Description)
	conf.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveConfirmation(conf); err != nil {
		return domain.Confirmation{}, fmt.Errorf("save confirmation: %w", err)
	}
	return conf, nil
}

func (a *App) DeleteConfirmation(ctx context.Context, caller authz.Caller, id string) error {
	conf, err := a.GetConfirmation(ctx, id)
	if err != nil {
		return err
	}
	if err := a.authorize(caller, conf.OwnerID); err != nil {
		return err
	}
	pictures, err := a.store.ListPicturesByConfirmation(id)
	if err != nil {
		return fmt.Errorf("list confirmation pictures: %w", err)
	}
	if err := a.store.DeleteConfirmation(id); err != nil {
		return fmt.Errorf("delete confirmation: %w", err)
	}
	a.removeBlobs(ctx, pictures)
	return nil
}

func (a *App) checkObservationRef(ctx context.Context, observationID string) error {
	if observationID == "" {
		return nil
	}
	_, ok, err := a.store.GetObservation(observationID)
	if err != nil {
		return fmt.Errorf("get observation: %w", err)
	}
	if !ok {
		return ErrObservationGone
	}
	return nil
}
