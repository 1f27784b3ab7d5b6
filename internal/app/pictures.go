package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fieldscope/internal/authz"
	"fieldscope/internal/util"
	"fieldscope/pkg/domain"
)

const uploadConcurrency = 4

// Upload is one file from a multipart picture batch.
type Upload struct {
	Filename string
	Data     []byte
}

// AttachPictures stores a batch of pictures on a confirmation. The batch is
// all-or-nothing: every file is validated before any byte is written, and a
// mid-batch failure rolls back what was already stored.
func (a *App) AttachPictures(ctx context.Context, caller authz.Caller, confirmationID string, uploads []Upload) ([]domain.Picture, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFilesInUpload
	}
	conf, ok, err := a.store.GetConfirmation(confirmationID)
	if err != nil {
		return nil, fmt.Errorf("get confirmation: %w", err)
	}
	if !ok {
		return nil, ErrConfirmationGone
	}
	if err := a.authorize(caller, conf.OwnerID); err != nil {
		return nil, err
	}
	for _, up := range uploads {
		if err := a.validateUpload(up); err != nil {
			return nil, err
		}
	}

	// Files are written first, concurrently; rows are inserted only once
	// every blob landed. A mid-batch failure leaves at worst orphaned
	// files, never rows pointing at missing files.
	pictures := make([]domain.Picture, len(uploads))
	now := time.Now().UTC()
	for i, up := range uploads {
		ext := strings.ToLower(filepath.Ext(up.Filename))
		pictures[i] = domain.Picture{
			ID:               util.NewID(),
			ConfirmationID:   confirmationID,
			OriginalFilename: filepath.Base(up.Filename),
			StorageKey:       uuid.NewString() + ext,
			SizeBytes:        int64(len(up.Data)),
			CreatedAt:        now,
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i := range uploads {
		up, pic := uploads[i], pictures[i]
		g.Go(func() error {
			return a.blobs.Save(gctx, pic.StorageKey, bytes.NewReader(up.Data), int64(len(up.Data)))
		})
	}
	if err := g.Wait(); err != nil {
		a.removeBlobs(ctx, pictures)
		return nil, fmt.Errorf("store picture files: %w", err)
	}
	saved := make([]domain.Picture, 0, len(pictures))
	for _, pic := range pictures {
		if err := a.store.SavePicture(pic); err != nil {
			a.rollbackPictures(ctx, saved)
			a.removeBlobs(ctx, pictures[len(saved):])
			return nil, fmt.Errorf("save picture: %w", err)
		}
		saved = append(saved, pic)
	}
	return saved, nil
}

func (a *App) PictureDetails(ctx context.Context, id string) (domain.Picture, error) {
	pic, ok, err := a.store.GetPicture(id)
	if err != nil {
		return domain.Picture{}, fmt.Errorf("get picture: %w", err)
	}
	if !ok {
		return domain.Picture{}, ErrNotFound
	}
	return pic, nil
}

// OpenPicture returns the picture row and a reader over its bytes. The
// caller must close the reader.
func (a *App) OpenPicture(ctx context.Context, id string) (domain.Picture, io.ReadCloser, error) {
	pic, err := a.PictureDetails(ctx, id)
	if err != nil {
		return domain.Picture{}, nil, err
	}
	rc, err := a.blobs.Open(ctx, pic.StorageKey)
	if err != nil {
		return domain.Picture{}, nil, fmt.Errorf("open picture file: %w", err)
	}
	return pic, rc, nil
}

func (a *App) DeletePicture(ctx context.Context, caller authz.Caller, id string) error {
	pic, err := a.PictureDetails(ctx, id)
	if err != nil {
		return err
	}
	ownerID := ""
	if conf, ok, err := a.store.GetConfirmation(pic.ConfirmationID); err != nil {
		return fmt.Errorf("get confirmation: %w", err)
	} else if ok {
		ownerID = conf.OwnerID
	}
	if err := a.authorize(caller, ownerID); err != nil {
		return err
	}
	if err := a.store.DeletePicture(id); err != nil {
		return fmt.Errorf("delete picture: %w", err)
	}
	a.removeBlobs(ctx, []domain.Picture{pic})
	return nil
}

func (a *App) validateUpload(up Upload) error {
	if int64(len(up.Data)) > a.maxUploadBytes {
		return &UploadError{
			Filename: up.Filename,
			Reason:   fmt.Sprintf("size %d exceeds the %d byte limit", len(up.Data), a.maxUploadBytes),
		}
	}
	ext := strings.ToLower(filepath.Ext(up.Filename))
	if _, ok := a.allowedExts[ext]; !ok {
		return &UploadError{
			Filename: up.Filename,
			Reason:   fmt.Sprintf("extension %q is not an allowed picture type", ext),
		}
	}
	return nil
}

// rollbackPictures undoes a partially stored batch, best effort. Blobs are
// removed only for rows that were actually deleted; a surviving row must
// keep its bytes.
func (a *App) rollbackPictures(ctx context.Context, saved []domain.Picture) {
	deleted := make([]domain.Picture, 0, len(saved))
	for _, pic := range saved {
		if err := a.store.DeletePicture(pic.ID); err != nil {
			util.LoggerFromContext(ctx).Warn("picture rollback failed",
				slog.String("picture_id", pic.ID),
				slog.String("error", err.Error()))
			continue
		}
		deleted = append(deleted, pic)
	}
	a.removeBlobs(ctx, deleted)
}
