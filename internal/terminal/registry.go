package terminal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"attendance-gateway/internal/protocol"
)

const (
	// StaffBatchSize is the page size of CmdGetAllStaff.
	StaffBatchSize = 12

	userIDWidth   = 5
	passwordWidth = 10
	cardIDWidth   = 10
	nameWidth     = 40
	nameMaxRunes  = 20
	uploadRecord  = userIDWidth + passwordWidth + cardIDWidth + nameWidth + 4 + 4 + 20
)

// Registry manages the staff list stored on a terminal.
type Registry struct {
	link   Commander
	logger *zap.Logger
}

// NewRegistry creates a registry on top of a link.
func NewRegistry(link Commander, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{link: link, logger: logger}
}

// RecordInfo reads the user, fingerprint and record counters.
func (r *Registry) RecordInfo(ctx context.Context) (protocol.RecordInfo, error) {
	resp, err := r.link.SendCommand(ctx, protocol.CmdRecordInfo, nil)
	if err != nil {
		return protocol.RecordInfo{}, err
	}
	return protocol.DecodeRecordInfo(resp)
}

// ListUsers pages through every staff record on the terminal.
func (r *Registry) ListUsers(ctx context.Context) ([]protocol.UserRecord, error) {
	info, err := r.RecordInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("read user count: %w", err)
	}
	if info.UserCount == 0 {
		return nil, nil
	}

	users := make([]protocol.UserRecord, 0, info.UserCount)
	offset := 0
	for offset < info.UserCount {
		batch := min(StaffBatchSize, info.UserCount-offset)
		payload := make([]byte, 5)
		protocol.PutUint(payload[0:4], uint64(offset))
		payload[4] = byte(batch)

		resp, err := r.link.SendCommand(ctx, protocol.CmdGetAllStaff, payload)
		if err != nil {
			return users, fmt.Errorf("get staff at offset %d: %w", offset, err)
		}
		page, err := decodeStaffPage(resp, batch)
		if err != nil {
			return users, fmt.Errorf("decode staff at offset %d: %w", offset, err)
		}
		users = append(users, page...)
		offset += len(page)

		r.logger.Debug("staff page fetched",
			zap.Int("offset", offset), zap.Int("returned", len(page)), zap.Int("total", info.UserCount))
		if len(page) < batch {
			break
		}
	}
	return users, nil
}

func decodeStaffPage(resp []byte, limit int) ([]protocol.UserRecord, error) {
	if len(resp) < protocol.ListHeaderSize {
		return nil, &protocol.InsufficientDataError{What: "staff page", Need: protocol.ListHeaderSize, Got: len(resp)}
	}
	body := resp[protocol.ListHeaderSize:]
	n := min(len(body)/protocol.UserRecordSize, limit)
	page := make([]protocol.UserRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := protocol.DecodeUserRecord(body[i*protocol.UserRecordSize : (i+1)*protocol.UserRecordSize])
		if err != nil {
			return page, err
		}
		page = append(page, rec)
	}
	return page, nil
}

// AddUser uploads one staff record. Password and card id may be empty.
func (r *Registry) AddUser(ctx context.Context, userID uint64, name, password, cardID string) error {
	rec := make([]byte, 0, 1+uploadRecord)
	rec = append(rec, 1)
	rec = append(rec, userIDBytes(userID)...)
	rec = append(rec, fixedASCII(password, passwordWidth)...)
	rec = append(rec, fixedASCII(cardID, cardIDWidth)...)
	rec = append(rec, protocol.EncodeName(name, nameMaxRunes, nameWidth)...)
	rec = append(rec, make([]byte, 4+4+20)...) // flag bytes, reserved

	resp, err := r.link.SendCommand(ctx, protocol.CmdUploadStaff, rec)
	if err != nil {
		return err
	}
	if protocol.Status(resp) != protocol.StatusOK {
		r.logger.Warn("terminal rejected user upload", zap.Uint64("user_id", userID))
		return fmt.Errorf("add user %d: %w", userID, ErrRejected)
	}
	return nil
}

// DeleteUser removes one staff record.
func (r *Registry) DeleteUser(ctx context.Context, userID uint64) error {
	payload := append([]byte{1}, userIDBytes(userID)...)
	resp, err := r.link.SendCommand(ctx, protocol.CmdDeleteUser, payload)
	if err != nil {
		return err
	}
	if protocol.Status(resp) != protocol.StatusOK {
		r.logger.Warn("terminal rejected user delete", zap.Uint64("user_id", userID))
		return fmt.Errorf("delete user %d: %w", userID, ErrRejected)
	}
	return nil
}

// DeleteAllUsers wipes the staff list.
func (r *Registry) DeleteAllUsers(ctx context.Context) error {
	resp, err := r.link.SendCommand(ctx, protocol.CmdDeleteAllUsers, nil)
	if err != nil {
		return err
	}
	if protocol.Status(resp) != protocol.StatusOK {
		return fmt.Errorf("delete all users: %w", ErrRejected)
	}
	return nil
}

// UserExists scans the staff list for userID.
func (r *Registry) UserExists(ctx context.Context, userID uint64) (bool, error) {
	users, err := r.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func userIDBytes(id uint64) []byte {
	b := make([]byte, userIDWidth)
	protocol.PutUint(b, id)
	return b
}

func fixedASCII(s string, width int) []byte {
	b := make([]byte, width)
	copy(b, s)
	return b
}
