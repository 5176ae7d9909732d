package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"attendance-gateway/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// Biometric names a DeviceUser enrollment status column.
type Biometric string

const (
	BiometricFace        Biometric = "face"
	BiometricFingerprint Biometric = "fingerprint"
)

func (b Biometric) column() (string, error) {
	switch b {
	case BiometricFace:
		return "face_status", nil
	case BiometricFingerprint:
		return "fingerprint_status", nil
	}
	return "", fmt.Errorf("store: unknown biometric %q", b)
}

// Store defines the persistence operations used by ingestion, the poller and the API.
type Store interface {
	DB() *gorm.DB

	ListDevices(ctx context.Context) ([]model.Device, error)
	GetDevice(ctx context.Context, id int64) (*model.Device, error)
	FindDeviceBySerial(ctx context.Context, serial string) (*model.Device, error)
	TouchHeartbeat(ctx context.Context, deviceID int64, at time.Time) error

	FindDeviceUser(ctx context.Context, deviceID int64, deviceUserID uint32) (*model.DeviceUser, error)
	UpsertDeviceUser(ctx context.Context, du *model.DeviceUser) error
	DeleteDeviceUser(ctx context.Context, deviceID int64, deviceUserID uint32) error
	SetBiometricStatus(ctx context.Context, deviceUserID int64, kind Biometric, status model.BiometricStatus) error
	MarkEnrolled(ctx context.Context, deviceUserID int64, kind Biometric) (bool, error)
	SetCardNumber(ctx context.Context, deviceUserID int64, card string) error

	// InTx runs fn inside one database transaction.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by the attendance state machine.
type Tx interface {
	FindEvent(deviceID int64, deviceEventID string) (*model.AttendanceEvent, error)
	GetSession(id int64) (*model.WorkSession, error)
	// LockOpenSessions returns the open non-manual sessions of a user at a
	// restaurant, oldest first, holding a row lock on each until commit.
	LockOpenSessions(userID, restaurantID int64) ([]model.WorkSession, error)
	CreateSession(s *model.WorkSession) error
	SaveSession(s *model.WorkSession) error
	CreateEvent(e *model.AttendanceEvent) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *gormStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (s *gormStore) GetDevice(ctx context.Context, id int64) (*model.Device, error) {
	var d model.Device
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *gormStore) FindDeviceBySerial(ctx context.Context, serial string) (*model.Device, error) {
	var d model.Device
	if err := s.db.WithContext(ctx).Where("serial_number = ?", serial).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *gormStore) TouchHeartbeat(ctx context.Context, deviceID int64, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ?", deviceID).
		Update("last_heartbeat_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to update heartbeat for device %d: %w", deviceID, err)
	}
	return nil
}

func (s *gormStore) FindDeviceUser(ctx context.Context, deviceID int64, deviceUserID uint32) (*model.DeviceUser, error) {
	var du model.DeviceUser
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND device_user_id = ?", deviceID, deviceUserID).
		First(&du).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &du, nil
}

// UpsertDeviceUser inserts the pivot row or repoints an existing (device, device_user_id) pair.
func (s *gormStore) UpsertDeviceUser(ctx context.Context, du *model.DeviceUser) error {
	if du.FaceStatus == "" {
		du.FaceStatus = model.BiometricNone
	}
	if du.FingerprintStatus == "" {
		du.FingerprintStatus = model.BiometricNone
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "device_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "card_number", "updated_at"}),
	}).Create(du).Error
	if err != nil {
		return fmt.Errorf("failed to upsert device user %d on device %d: %w", du.DeviceUserID, du.DeviceID, err)
	}
	return nil
}

func (s *gormStore) DeleteDeviceUser(ctx context.Context, deviceID int64, deviceUserID uint32) error {
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND device_user_id = ?", deviceID, deviceUserID).
		Delete(&model.DeviceUser{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete device user %d on device %d: %w", deviceUserID, deviceID, err)
	}
	return nil
}

func (s *gormStore) SetBiometricStatus(ctx context.Context, deviceUserID int64, kind Biometric, status model.BiometricStatus) error {
	col, err := kind.column()
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&model.DeviceUser{}).
		Where("id = ?", deviceUserID).
		Update(col, status).Error
}

// MarkEnrolled sets the biometric to enrolled only if it is not already; it reports whether a row changed.
func (s *gormStore) MarkEnrolled(ctx context.Context, deviceUserID int64, kind Biometric) (bool, error) {
	col, err := kind.column()
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&model.DeviceUser{}).
		Where("id = ? AND "+col+" <> ?", deviceUserID, model.BiometricEnrolled).
		Update(col, model.BiometricEnrolled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) SetCardNumber(ctx context.Context, deviceUserID int64, card string) error {
	return s.db.WithContext(ctx).Model(&model.DeviceUser{}).
		Where("id = ?", deviceUserID).
		Update("card_number", card).Error
}

func (s *gormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) FindEvent(deviceID int64, deviceEventID string) (*model.AttendanceEvent, error) {
	var e model.AttendanceEvent
	err := t.db.Where("device_id = ? AND device_event_id = ?", deviceID, deviceEventID).First(&e).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (t *gormTx) GetSession(id int64) (*model.WorkSession, error) {
	var ws model.WorkSession
	if err := t.db.First(&ws, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ws, nil
}

func (t *gormTx) LockOpenSessions(userID, restaurantID int64) ([]model.WorkSession, error) {
	var sessions []model.WorkSession
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND restaurant_id = ? AND is_manual = ? AND clock_out IS NULL", userID, restaurantID, false).
		Order("clock_in").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock open sessions for user %d: %w", userID, err)
	}
	return sessions, nil
}

func (t *gormTx) CreateSession(s *model.WorkSession) error {
	if err := t.db.Create(s).Error; err != nil {
		return fmt.Errorf("failed to create work session for user %d: %w", s.UserID, err)
	}
	return nil
}

func (t *gormTx) SaveSession(s *model.WorkSession) error {
	if err := t.db.Save(s).Error; err != nil {
		return fmt.Errorf("failed to save work session %d: %w", s.ID, err)
	}
	return nil
}

func (t *gormTx) CreateEvent(e *model.AttendanceEvent) error {
	if err := t.db.Create(e).Error; err != nil {
		return fmt.Errorf("failed to create attendance event for user %d: %w", e.UserID, err)
	}
	return nil
}
