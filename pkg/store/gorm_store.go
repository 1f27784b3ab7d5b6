package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"fieldscope/pkg/domain"
)

const migrateLockID int64 = 52905290

// Great-circle distance of an observation row from a query point, in meters.
const haversineSQL = `2 * 6371000 * asin(sqrt(` +
	`pow(sin(radians(lat - ?) / 2), 2) + ` +
	`cos(radians(?)) * cos(radians(lat)) * pow(sin(radians(lng - ?) / 2), 2)))`

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ObservationModel{},
			&ConfirmationModel{},
			&PictureModel{},
			&TagModel{},
			&ObservationTagModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "password_hash", "role", "permanently_banned", "banned_until", "updated_at"}),
	}).Create(&model).Error
}

// HasUsername checks if a username exists.
func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasUserEmail checks if an email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	return s.getUser("id = ?", id)
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	return s.getUser("username = ?", username)
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.getUser("email = ?", email)
}

func (s *GormStore) getUser(cond string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where(cond, arg).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns a filtered page of users ordered by id.
func (s *GormStore) ListUsers(f UserFilter) ([]domain.User, int64, error) {
	base := s.db.Model(&UserModel{})
	if f.Username != "" {
		base = base.Where("username ILIKE ?", "%"+f.Username+"%")
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := f.Offset()
	if offset < 0 {
		return []domain.User{}, total, nil
	}
	var models []UserModel
	if err := base.Order("id ASC").Offset(offset).Limit(f.PageSize).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, total, nil
}

// SaveObservation stores or updates an observation and replaces its tag set.
func (s *GormStore) SaveObservation(o domain.Observation) error {
	model, err := observationToModel(o)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "owner_id", "lat", "lng", "boundary", "updated_at"}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ObservationTagModel{}, "observation_id = ?", o.ID).Error; err != nil {
			return err
		}
		if len(o.Tags) == 0 {
			return nil
		}
		joins := make([]ObservationTagModel, 0, len(o.Tags))
		for _, tag := range o.Tags {
			joins = append(joins, ObservationTagModel{ObservationID: o.ID, TagID: tag.ID})
		}
		return tx.Create(&joins).Error
	})
}

// GetObservation retrieves an observation with tags and confirmations.
func (s *GormStore) GetObservation(id string) (domain.Observation, bool, error) {
	var model ObservationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Observation{}, false, nil
		}
		return domain.Observation{}, false, err
	}
	obs, err := observationFromModel(model)
	if err != nil {
		return domain.Observation{}, false, err
	}
	tagsByObs, err := s.tagsForObservations([]string{id})
	if err != nil {
		return domain.Observation{}, false, err
	}
	obs.Tags = tagsByObs[id]
	confirmations, err := s.allConfirmationsFor(id)
	if err != nil {
		return domain.Observation{}, false, err
	}
	obs.Confirmations = confirmations
	return obs, true, nil
}

// allConfirmationsFor pages through every confirmation of an observation so
// the embedded list is never truncated.
func (s *GormStore) allConfirmationsFor(observationID string) ([]domain.Confirmation, error) {
	const batchSize = 500
	out := []domain.Confirmation{}
	for page := 1; ; page++ {
		batch, total, err := s.ListConfirmations(ConfirmationFilter{
			PageRequest:   domain.PageRequest{PageIndex: page, PageSize: batchSize},
			ObservationID: observationID,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < batchSize || int64(len(out)) >= total {
			return out, nil
		}
	}
}

// ListObservations returns a filtered page of observations ordered by id.
func (s *GormStore) ListObservations(f ObservationFilter) ([]domain.Observation, int64, error) {
	base := s.db.Model(&ObservationModel{})
	if f.Title != "" {
		base = base.Where("title ILIKE ?", "%"+f.Title+"%")
	}
	if f.OwnerID != "" {
		base = base.Where("owner_id = ?", f.OwnerID)
	}
	if f.BBox != nil {
		base = base.Where("lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?",
			f.BBox.MinLat, f.BBox.MaxLat, f.BBox.MinLng, f.BBox.MaxLng)
	}
	if f.Near != nil {
		base = base.Where(haversineSQL+" <= ?",
			f.Near.Center.Lat, f.Near.Center.Lat, f.Near.Center.Lng, f.Near.RadiusMeters)
	}
	if len(f.TagNames) > 0 {
		base = base.Where(
			"id IN (SELECT ot.observation_id FROM observation_tag_models ot JOIN tag_models t ON t.id = ot.tag_id WHERE t.name IN ?)",
			f.TagNames)
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := f.Offset()
	if offset < 0 {
		return []domain.Observation{}, total, nil
	}
	var models []ObservationModel
	if err := base.Order("id ASC").Offset(offset).Limit(f.PageSize).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	tagsByObs, err := s.tagsForObservations(ids)
	if err != nil {
		return nil, 0, err
	}
	res := make([]domain.Observation, 0, len(models))
	for _, m := range models {
		obs, err := observationFromModel(m)
		if err != nil {
			return nil, 0, err
		}
		obs.Tags = tagsByObs[m.ID]
		res = append(res, obs)
	}
	return res, total, nil
}

func (s *GormStore) tagsForObservations(ids []string) (map[string][]domain.Tag, error) {
	out := make(map[string][]domain.Tag, len(ids))
	for _, id := range ids {
		out[id] = []domain.Tag{}
	}
	if len(ids) == 0 {
		return out, nil
	}
	type joined struct {
		ObservationID string
		TagID         string
		Name          string
	}
	var rows []joined
	if err := s.db.Table("observation_tag_models ot").
		Select("ot.observation_id, t.id AS tag_id, t.name").
		Joins("JOIN tag_models t ON t.id = ot.tag_id").
		Where("ot.observation_id IN ?", ids).
		Order("t.name ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ObservationID] = append(out[row.ObservationID], domain.Tag{ID: row.TagID, Name: row.Name})
	}
	return out, nil
}

// DeleteObservation hard-deletes an observation with its confirmations,
// their pictures, and the tag joins. Stored picture files are the caller's
// concern; collect them via ListPicturesByObservation first.
func (s *GormStore) DeleteObservation(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"DELETE FROM picture_models WHERE confirmation_id IN (SELECT id FROM confirmation_models WHERE observation_id = ?)",
			id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ConfirmationModel{}, "observation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ObservationTagModel{}, "observation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ObservationModel{}, "id = ?", id).Error
	})
}

// SaveConfirmation stores or updates a confirmation.
func (s *GormStore) SaveConfirmation(c domain.Confirmation) error {
	model := confirmationToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"observation_id", "owner_id", "confirmed", "description", "updated_at"}),
	}).Create(&model).Error
}

// GetConfirmation retrieves a confirmation with its pictures.
func (s *GormStore) GetConfirmation(id string) (domain.Confirmation, bool, error) {
	var model ConfirmationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Confirmation{}, false, nil
		}
		return domain.Confirmation{}, false, err
	}
	c := confirmationFromModel(model)
	pictures, err := s.ListPicturesByConfirmation(id)
	if err != nil {
		return domain.Confirmation{}, false, err
	}
	c.Pictures = pictures
	return c, true, nil
}

// ListConfirmations returns a filtered page of confirmations ordered by id.
func (s *GormStore) ListConfirmations(f ConfirmationFilter) ([]domain.Confirmation, int64, error) {
	base := s.db.Model(&ConfirmationModel{})
	if f.ObservationID != "" {
		base = base.Where("observation_id = ?", f.ObservationID)
	}
	if f.OwnerID != "" {
		base = base.Where("owner_id = ?", f.OwnerID)
	}
	if f.Confirmed != nil {
		base = base.Where("confirmed = ?", *f.Confirmed)
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := f.Offset()
	if offset < 0 {
		return []domain.Confirmation{}, total, nil
	}
	var models []ConfirmationModel
	if err := base.Order("id ASC").Offset(offset).Limit(f.PageSize).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Confirmation, 0, len(models))
	for _, m := range models {
		c := confirmationFromModel(m)
		pictures, err := s.ListPicturesByConfirmation(m.ID)
		if err != nil {
			return nil, 0, err
		}
		c.Pictures = pictures
		res = append(res, c)
	}
	return res, total, nil
}

// DeleteConfirmation removes a confirmation and its picture rows.
func (s *GormStore) DeleteConfirmation(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&PictureModel{}, "confirmation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ConfirmationModel{}, "id = ?", id).Error
	})
}

// SavePicture stores a picture record.
func (s *GormStore) SavePicture(p domain.Picture) error {
	model := pictureToModel(p)
	return s.db.Create(&model).Error
}

// GetPicture retrieves a picture by ID.
func (s *GormStore) GetPicture(id string) (domain.Picture, bool, error) {
	var model PictureModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Picture{}, false, nil
		}
		return domain.Picture{}, false, err
	}
	return pictureFromModel(model), true, nil
}

// ListPicturesByConfirmation returns pictures for a confirmation ordered by id.
func (s *GormStore) ListPicturesByConfirmation(confirmationID string) ([]domain.Picture, error) {
	var models []PictureModel
	if err := s.db.Where("confirmation_id = ?", confirmationID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Picture, 0, len(models))
	for _, m := range models {
		res = append(res, pictureFromModel(m))
	}
	return res, nil
}

// ListPicturesByObservation returns every picture attached to any
// confirmation of the observation.
func (s *GormStore) ListPicturesByObservation(observationID string) ([]domain.Picture, error) {
	var models []PictureModel
	if err := s.db.
		Where("confirmation_id IN (SELECT id FROM confirmation_models WHERE observation_id = ?)", observationID).
		Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Picture, 0, len(models))
	for _, m := range models {
		res = append(res, pictureFromModel(m))
	}
	return res, nil
}

// DeletePicture removes a picture record.
func (s *GormStore) DeletePicture(id string) error {
	return s.db.Delete(&PictureModel{}, "id = ?", id).Error
}

// EnsureTags resolves tag names to tags, creating missing ones. Names are
// matched exactly (case-sensitive); the result preserves input order with
// duplicates already removed by the caller.
func (s *GormStore) EnsureTags(names []string) ([]domain.Tag, error) {
	res := make([]domain.Tag, 0, len(names))
	for _, name := range names {
		tag, ok, err := s.GetTagByName(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			model := TagModel{ID: newTagID(), Name: name}
			// DoNothing tolerates a concurrent insert of the same name;
			// the re-select below picks up whichever row won.
			if err := s.db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(&model).Error; err != nil {
				return nil, err
			}
			tag, ok, err = s.GetTagByName(name)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("tag %q not found after create", name)
			}
		}
		res = append(res, tag)
	}
	return res, nil
}

// SaveTag stores or renames a tag.
func (s *GormStore) SaveTag(t domain.Tag) error {
	model := TagModel{ID: t.ID, Name: t.Name}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&model).Error
}

// GetTag retrieves a tag by ID.
func (s *GormStore) GetTag(id string) (domain.Tag, bool, error) {
	var model TagModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Tag{}, false, nil
		}
		return domain.Tag{}, false, err
	}
	return domain.Tag{ID: model.ID, Name: model.Name}, true, nil
}

// GetTagByName retrieves a tag by exact name.
func (s *GormStore) GetTagByName(name string) (domain.Tag, bool, error) {
	var model TagModel
	if err := s.db.First(&model, "name = ?", name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Tag{}, false, nil
		}
		return domain.Tag{}, false, err
	}
	return domain.Tag{ID: model.ID, Name: model.Name}, true, nil
}

// ListTags returns a filtered page of tags ordered by id.
func (s *GormStore) ListTags(f TagFilter) ([]domain.Tag, int64, error) {
	base := s.db.Model(&TagModel{})
	if f.Name != "" {
		base = base.Where("name ILIKE ?", "%"+f.Name+"%")
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := f.Offset()
	if offset < 0 {
		return []domain.Tag{}, total, nil
	}
	var models []TagModel
	if err := base.Order("id ASC").Offset(offset).Limit(f.PageSize).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Tag, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Tag{ID: m.ID, Name: m.Name})
	}
	return res, total, nil
}

// DeleteTag removes a tag and its observation joins.
func (s *GormStore) DeleteTag(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ObservationTagModel{}, "tag_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&TagModel{}, "id = ?", id).Error
	})
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		PasswordHash:      u.PasswordHash,
		Role:              string(u.Role),
		PermanentlyBanned: u.PermanentlyBanned,
		BannedUntil:       u.BannedUntil,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:                m.ID,
		Username:          m.Username,
		Email:             m.Email,
		PasswordHash:      m.PasswordHash,
		Role:              domain.UserRole(m.Role),
		PermanentlyBanned: m.PermanentlyBanned,
		BannedUntil:       m.BannedUntil,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func observationToModel(o domain.Observation) (ObservationModel, error) {
	var boundary datatypes.JSON
	if len(o.Boundary) > 0 {
		raw, err := json.Marshal(o.Boundary)
		if err != nil {
			return ObservationModel{}, fmt.Errorf("marshal boundary: %w", err)
		}
		boundary = raw
	}
	return ObservationModel{
		ID:        o.ID,
		Title:     o.Title,
		OwnerID:   optionalString(o.OwnerID),
		Lat:       o.Location.Lat,
		Lng:       o.Location.Lng,
		Boundary:  boundary,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}, nil
}

func observationFromModel(m ObservationModel) (domain.Observation, error) {
	var boundary domain.Ring
	if len(m.Boundary) > 0 {
		if err := json.Unmarshal(m.Boundary, &boundary); err != nil {
			return domain.Observation{}, fmt.Errorf("unmarshal boundary: %w", err)
		}
	}
	return domain.Observation{
		ID:        m.ID,
		Title:     m.Title,
		OwnerID:   stringValue(m.OwnerID),
		Location:  domain.Point{Lat: m.Lat, Lng: m.Lng},
		Boundary:  boundary,
		Tags:      []domain.Tag{},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func confirmationToModel(c domain.Confirmation) ConfirmationModel {
	return ConfirmationModel{
		ID:            c.ID,
		ObservationID: optionalString(c.ObservationID),
		OwnerID:       optionalString(c.OwnerID),
		Confirmed:     c.Confirmed,
		Description:   c.Description,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func confirmationFromModel(m ConfirmationModel) domain.Confirmation {
	return domain.Confirmation{
		ID:            m.ID,
		ObservationID: stringValue(m.ObservationID),
		OwnerID:       stringValue(m.OwnerID),
		Confirmed:     m.Confirmed,
		Description:   m.Description,
		Pictures:      []domain.Picture{},
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func pictureToModel(p domain.Picture) PictureModel {
	return PictureModel{
		ID:               p.ID,
		ConfirmationID:   p.ConfirmationID,
		OriginalFilename: p.OriginalFilename,
		StorageKey:       p.StorageKey,
		SizeBytes:        p.SizeBytes,
		CreatedAt:        p.CreatedAt,
	}
}

func pictureFromModel(m PictureModel) domain.Picture {
	return domain.Picture{
		ID:               m.ID,
		ConfirmationID:   m.ConfirmationID,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		SizeBytes:        m.SizeBytes,
		CreatedAt:        m.CreatedAt,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
