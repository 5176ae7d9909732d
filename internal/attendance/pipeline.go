package attendance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/model"
	"attendance-gateway/internal/store"
)

// ClockPolicy decides whether a user may clock at a given time, e.g. against a shift schedule.
type ClockPolicy interface {
	Allow(ctx context.Context, userID, restaurantID int64, at time.Time) (bool, string, error)
}

// AllowAll permits every scan.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, int64, int64, time.Time) (bool, string, error) {
	return true, "", nil
}

// Pipeline resolves, deduplicates and applies normalized events.
type Pipeline struct {
	store  store.Store
	sm     *StateMachine
	policy ClockPolicy
	logger *zap.Logger
}

// NewPipeline creates a pipeline. A nil policy allows everything.
func NewPipeline(s store.Store, sm *StateMachine, policy ClockPolicy, logger *zap.Logger) *Pipeline {
	if policy == nil {
		policy = AllowAll{}
	}
	return &Pipeline{
		store:  s,
		sm:     sm,
		policy: policy,
		logger: logger.With(zap.String("component", "ingest")),
	}
}

// target is who an event is attributed to once identities are resolved.
type target struct {
	device       *model.Device
	deviceUser   *model.DeviceUser
	userID       int64
	restaurantID int64
}

// Ingest processes one event. Domain outcomes are reported in the Result; the
// error is non-nil only for infrastructure failures.
func (p *Pipeline) Ingest(ctx context.Context, ev Event) (Result, error) {
	tgt, res, err := p.resolve(ctx, ev)
	if err != nil || res != nil {
		if res == nil {
			return failure(errcode.Error, "failed to resolve event target"), err
		}
		return *res, err
	}

	if ev.Category == CategoryEnrollment {
		return p.enroll(ctx, tgt, ev)
	}

	dedup := tgt.device != nil && ev.DeviceEventID != ""
	if dedup {
		if res, err := p.existing(ctx, tgt.device.ID, ev.DeviceEventID); err != nil || res != nil {
			if res == nil {
				return failure(errcode.Error, "failed to check for duplicate"), err
			}
			return *res, nil
		}
	}

	ok, reason, err := p.policy.Allow(ctx, tgt.userID, tgt.restaurantID, ev.EventTime)
	if err != nil {
		return failure(errcode.Error, "clock policy failed"), fmt.Errorf("clock policy: %w", err)
	}
	if !ok {
		if reason == "" {
			reason = "clocking is not allowed at this time"
		}
		return failure(errcode.ClockNotAllowed, reason), nil
	}

	scan := Scan{
		UserID:       tgt.userID,
		RestaurantID: tgt.restaurantID,
		At:           ev.EventTime,
		Requested:    ev.RequestedType,
		// Device labels are not trusted; the open-session state decides.
		AutoDetect: ev.Source == model.SourceDevice || ev.RequestedType == "",
	}

	var (
		result Result
		code   = errcode.OK
	)
	err = p.store.InTx(ctx, func(tx store.Tx) error {
		if dedup {
			prior, err := tx.FindEvent(tgt.device.ID, ev.DeviceEventID)
			if err == nil {
				r, err := duplicateOf(tx, prior)
				if err != nil {
					return err
				}
				result = r
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		tr, c, err := p.sm.Apply(tx, scan)
		if err != nil {
			return err
		}
		if c != errcode.OK {
			code = c
			return nil
		}

		event := &model.AttendanceEvent{
			RestaurantID:       tgt.restaurantID,
			UserID:             tgt.userID,
			EventType:          tr.Type,
			Source:             ev.Source,
			VerificationMethod: ev.Method,
			Confidence:         ev.Confidence,
			EventTime:          ev.EventTime,
			WorkSessionID:      &tr.Session.ID,
		}
		if tgt.device != nil {
			id := tgt.device.ID
			event.DeviceID = &id
		}
		if ev.DeviceEventID != "" {
			eid := ev.DeviceEventID
			event.DeviceEventID = &eid
		}
		if err := tx.CreateEvent(event); err != nil {
			return err
		}
		result = Result{
			Success:    true,
			Code:       errcode.OK,
			Action:     actionOf(tr.Type),
			Event:      event,
			Session:    tr.Session,
			AutoClosed: tr.AutoClosed,
		}
		return nil
	})
	if err != nil {
		// A concurrent retransmission may have won the unique index.
		if dedup {
			if res, derr := p.existing(ctx, tgt.device.ID, ev.DeviceEventID); derr == nil && res != nil {
				return *res, nil
			}
		}
		p.logger.Error("Failed to apply attendance event", zap.Int64("user_id", tgt.userID), zap.Error(err))
		return failure(errcode.Error, "failed to record attendance"), err
	}
	if code != errcode.OK {
		return failure(code, messageFor(code)), nil
	}

	if !result.Duplicate && tgt.deviceUser != nil {
		p.markEnrolled(ctx, tgt.deviceUser, ev.Method)
	}
	if result.Duplicate {
		p.logger.Debug("Duplicate device event ignored", zap.String("device_event_id", ev.DeviceEventID))
	} else {
		p.logger.Info("Attendance recorded",
			zap.Int64("user_id", tgt.userID),
			zap.Int64("restaurant_id", tgt.restaurantID),
			zap.String("action", string(result.Action)),
			zap.Int("auto_closed", len(result.AutoClosed)))
	}
	return result, nil
}

// resolve attributes ev to a platform user. A non-nil Result is a domain failure.
func (p *Pipeline) resolve(ctx context.Context, ev Event) (target, *Result, error) {
	if ev.Source != model.SourceDevice {
		if ev.Category == CategoryEnrollment {
			r := failure(errcode.InvalidEvent, "enrollment notifications must come from a device")
			return target{}, &r, nil
		}
		if ev.UserID <= 0 {
			r := failure(errcode.MissingUserID, messageFor(errcode.MissingUserID))
			return target{}, &r, nil
		}
		return target{userID: ev.UserID, restaurantID: ev.RestaurantID}, nil, nil
	}

	var (
		dev *model.Device
		err error
	)
	switch {
	case ev.DeviceID != 0:
		dev, err = p.store.GetDevice(ctx, ev.DeviceID)
	case ev.DeviceSerial != "":
		dev, err = p.store.FindDeviceBySerial(ctx, ev.DeviceSerial)
	default:
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		r := failure(errcode.DeviceNotFound, messageFor(errcode.DeviceNotFound))
		return target{}, &r, nil
	}
	if err != nil {
		return target{}, nil, fmt.Errorf("failed to resolve device: %w", err)
	}

	if ev.DeviceUserID == "" {
		r := failure(errcode.MissingUserID, messageFor(errcode.MissingUserID))
		return target{}, &r, nil
	}
	duid, err := strconv.ParseUint(ev.DeviceUserID, 10, 32)
	if err != nil {
		r := failure(errcode.UserNotProvisioned, fmt.Sprintf("device user id %q is not provisioned", ev.DeviceUserID))
		return target{}, &r, nil
	}
	du, err := p.store.FindDeviceUser(ctx, dev.ID, uint32(duid))
	if errors.Is(err, store.ErrNotFound) {
		r := failure(errcode.UserNotProvisioned, fmt.Sprintf("device user %d is not provisioned on device %s", duid, dev.SerialNumber))
		return target{}, &r, nil
	}
	if err != nil {
		return target{}, nil, fmt.Errorf("failed to resolve device user: %w", err)
	}
	return target{device: dev, deviceUser: du, userID: du.UserID, restaurantID: dev.RestaurantID}, nil, nil
}

// existing returns the duplicate Result for a known device event, or nil if it is new.
func (p *Pipeline) existing(ctx context.Context, deviceID int64, eventID string) (*Result, error) {
	var res *Result
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		prior, err := tx.FindEvent(deviceID, eventID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		r, err := duplicateOf(tx, prior)
		if err != nil {
			return err
		}
		res = &r
		return nil
	})
	return res, err
}

func duplicateOf(tx store.Tx, ev *model.AttendanceEvent) (Result, error) {
	r := Result{
		Success:   true,
		Code:      errcode.OK,
		Action:    actionOf(ev.EventType),
		Duplicate: true,
		Event:     ev,
	}
	if ev.WorkSessionID != nil {
		ws, err := tx.GetSession(*ev.WorkSessionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
		r.Session = ws
	}
	return r, nil
}

// markEnrolled records the first successful biometric scan. Failures are logged only.
func (p *Pipeline) markEnrolled(ctx context.Context, du *model.DeviceUser, m model.VerificationMethod) {
	var kind store.Biometric
	switch m {
	case model.MethodFace:
		kind = store.BiometricFace
	case model.MethodFingerprint:
		kind = store.BiometricFingerprint
	default:
		return
	}
	changed, err := p.store.MarkEnrolled(ctx, du.ID, kind)
	if err != nil {
		p.logger.Warn("Failed to mark biometric enrolled", zap.Int64("device_user", du.ID), zap.Error(err))
		return
	}
	if changed {
		p.logger.Info("Biometric enrolled by first scan", zap.Int64("device_user", du.ID), zap.String("kind", string(kind)))
	}
}

func (p *Pipeline) enroll(ctx context.Context, tgt target, ev Event) (Result, error) {
	du := tgt.deviceUser
	status := model.BiometricEnrolled
	if !ev.EnrollSuccess {
		status = model.BiometricFailed
	}

	var err error
	switch ev.EnrollType {
	case EnrollFace:
		err = p.store.SetBiometricStatus(ctx, du.ID, store.BiometricFace, status)
	case EnrollFingerprint:
		err = p.store.SetBiometricStatus(ctx, du.ID, store.BiometricFingerprint, status)
	case EnrollCard:
		if ev.EnrollSuccess && ev.CardNumber != "" {
			err = p.store.SetCardNumber(ctx, du.ID, ev.CardNumber)
		}
	default:
		return failure(errcode.UnknownEnrollType, messageFor(errcode.UnknownEnrollType)), nil
	}
	if err != nil {
		return failure(errcode.Error, "failed to update enrollment"), fmt.Errorf("enrollment update: %w", err)
	}

	p.logger.Info("Enrollment status updated",
		zap.Int64("device_user", du.ID),
		zap.String("type", string(ev.EnrollType)),
		zap.Bool("success", ev.EnrollSuccess))
	outcome := "succeeded"
	if !ev.EnrollSuccess {
		outcome = "failed"
	}
	return Result{
		Success: true,
		Code:    errcode.OK,
		Action:  ActionEnrollment,
		Message: fmt.Sprintf("%s enrollment %s", ev.EnrollType, outcome),
	}, nil
}

func messageFor(c errcode.Code) string {
	switch c {
	case errcode.MissingUserID:
		return "event carries no user identifier"
	case errcode.DeviceNotFound:
		return "device is not registered"
	case errcode.UnknownEnrollType:
		return "unknown enrollment type"
	case errcode.NoOpenSession:
		return "no open work session to clock out of"
	}
	return string(c)
}
