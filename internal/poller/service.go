package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"attendance-gateway/config"
	"attendance-gateway/internal/attendance"
	"attendance-gateway/internal/model"
	"attendance-gateway/internal/protocol"
	"attendance-gateway/internal/store"
	"attendance-gateway/internal/terminal"
)

// RecordSource is the slice of a terminal client the poller needs.
type RecordSource interface {
	SerialNumber(ctx context.Context) (string, error)
	NewRecords(ctx context.Context) ([]protocol.AttendanceRecord, error)
	AllRecords(ctx context.Context) ([]protocol.AttendanceRecord, error)
	Close() error
}

// OpenFunc returns a record source for a registered device.
type OpenFunc func(dev model.Device) RecordSource

// Ingester applies one normalized event.
type Ingester interface {
	Ingest(ctx context.Context, ev attendance.Event) (attendance.Result, error)
}

// TerminalOpener opens devices over the wire protocol.
func TerminalOpener(d *terminal.Dialer) OpenFunc {
	return func(dev model.Device) RecordSource {
		return d.Client(dev.IPAddress, dev.Port, dev.DeviceCode)
	}
}

// Stats summarizes one device poll.
type Stats struct {
	Records    int `json:"records"`
	Recorded   int `json:"recorded"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// Service periodically downloads new punches from every registered terminal.
type Service struct {
	cfg    config.PollerConfig
	store  store.Store
	ingest Ingester
	open   OpenFunc
	pool   *WorkerPool
	guard  *terminal.Guard
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a poller. Call Run to start it.
func NewService(cfg config.PollerConfig, s store.Store, ingest Ingester, open OpenFunc, logger *zap.Logger) *Service {
	svc := &Service{
		cfg:    cfg,
		store:  s,
		ingest: ingest,
		open:   open,
		logger: logger.With(zap.String("component", "poller")),
		now:    time.Now,
	}
	svc.pool = NewWorkerPool(cfg.Workers, svc.handle, svc.logger)
	return svc
}

// UseGuard makes polls wait for other users of the same terminal.
func (s *Service) UseGuard(g *terminal.Guard) *Service {
	s.guard = g
	return s
}

// Run polls on every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("Poller is disabled. Not starting.")
		return
	}
	s.logger.Info("Starting poller", zap.Duration("interval", s.cfg.Interval), zap.Int("workers", s.cfg.Workers))
	s.pool.Start(ctx)
	defer s.pool.Wait()

	s.PollOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Poller shutting down")
			return
		case <-timer.C:
			s.PollOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// PollOnce dispatches every registered device to the worker pool.
func (s *Service) PollOnce(ctx context.Context) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		s.logger.Error("Failed to list devices", zap.Error(err))
		return
	}
	for _, d := range devices {
		if d.IPAddress == "" {
			continue
		}
		if !s.pool.Dispatch(ctx, d.ID) {
			s.logger.Debug("Device poll skipped", zap.Int64("device_id", d.ID))
		}
	}
}

func (s *Service) handle(ctx context.Context, deviceID int64) {
	stats, err := s.PollDevice(ctx, deviceID)
	if err != nil {
		s.logger.Warn("Device poll failed",
			zap.Int64("device_id", deviceID),
			zap.String("code", string(terminal.Code(err))),
			zap.Error(err))
	}
	if stats.Records > 0 {
		s.logger.Info("Device records ingested",
			zap.Int64("device_id", deviceID),
			zap.Int("records", stats.Records),
			zap.Int("recorded", stats.Recorded),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("rejected", stats.Rejected))
	}
}

// PollDevice reads the serial as a heartbeat, then downloads and ingests new records.
// Records already applied are counted even when a later step fails.
func (s *Service) PollDevice(ctx context.Context, deviceID int64) (Stats, error) {
	return s.pull(ctx, deviceID, RecordSource.NewRecords)
}

// Backfill re-reads every record stored on the terminal. Punches already
// ingested come back as duplicates.
func (s *Service) Backfill(ctx context.Context, deviceID int64) (Stats, error) {
	return s.pull(ctx, deviceID, RecordSource.AllRecords)
}

func (s *Service) pull(ctx context.Context, deviceID int64,
	fetch func(RecordSource, context.Context) ([]protocol.AttendanceRecord, error)) (Stats, error) {
	var stats Stats
	dev, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return stats, fmt.Errorf("load device %d: %w", deviceID, err)
	}

	if s.guard != nil {
		defer s.guard.Lock(terminal.Addr(dev.IPAddress, dev.Port))()
	}
	src := s.open(*dev)
	defer src.Close()

	sn, err := src.SerialNumber(ctx)
	if err != nil {
		return stats, fmt.Errorf("read serial: %w", err)
	}
	if dev.SerialNumber != "" && sn != dev.SerialNumber {
		s.logger.Warn("Terminal serial does not match registration",
			zap.Int64("device_id", dev.ID), zap.String("registered", dev.SerialNumber), zap.String("reported", sn))
	}
	if err := s.store.TouchHeartbeat(ctx, dev.ID, s.now().UTC()); err != nil {
		s.logger.Warn("Failed to record heartbeat", zap.Int64("device_id", dev.ID), zap.Error(err))
	}

	records, err := fetch(src, ctx)
	for _, rec := range records {
		stats.Records++
		res, ierr := s.ingest.Ingest(ctx, attendance.FromRecord(dev.ID, rec))
		switch {
		case ierr != nil:
			return stats, fmt.Errorf("ingest record for user %d: %w", rec.UserID, ierr)
		case res.Duplicate:
			stats.Duplicates++
		case res.Success:
			stats.Recorded++
		default:
			stats.Rejected++
			s.logger.Info("Device record not applied",
				zap.Int64("device_id", dev.ID),
				zap.Uint64("device_user_id", rec.UserID),
				zap.String("code", string(res.Code)))
		}
	}
	if err != nil {
		return stats, fmt.Errorf("download records: %w", err)
	}
	return stats, nil
}
