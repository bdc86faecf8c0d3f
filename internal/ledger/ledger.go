// Package ledger implements the shift ledger: clocking in and out against
// per-user, per-day shift records, each operation one atomic
// read-modify-write transaction on the document store.
//
// Layout:
//
//	LedgerRoot/{uid}              {username}
//	LedgerRoot/{uid}/Days/{date}  {date, shifts: [{inMillis, outMillis?}], totalShiftTime}
//
// Writes are always merges scoped to date, shifts and totalShiftTime.
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/calendar"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/model"
)

const (
	// DefaultRoot is the top-level collection holding one document per user.
	DefaultRoot = "LedgerRoot"
	// DaysCollection is the per-user subcollection of day records.
	DaysCollection = "Days"
)

// UserSource yields the identity the ledger acts for.
type UserSource interface {
	CurrentUser(ctx context.Context) (string, bool)
}

// Ledger runs clock-in and clock-out transactions.
type Ledger struct {
	store  docstore.Store
	users  UserSource
	clock  calendar.Clock
	loc    *time.Location
	logger *zap.Logger
	root   string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock.
func WithClock(c calendar.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLocation sets the timezone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRoot overrides the top-level collection name.
func WithRoot(collection string) Option {
	return func(l *Ledger) { l.root = collection }
}

// New returns a Ledger on store acting for the user reported by users.
func New(store docstore.Store, users UserSource, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		users:  users,
		clock:  calendar.System,
		loc:    time.Local,
		logger: zap.NewNop(),
		root:   DefaultRoot,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RootPath returns the ledger root document of uid.
func RootPath(root, uid string) docstore.Path {
	return docstore.Doc(root, uid)
}

// DayPath returns the day record document of uid for day key.
func DayPath(root, uid, day string) docstore.Path {
	return docstore.Doc(root, uid, DaysCollection, day)
}

// Punch describes a successful clock-in or clock-out.
type Punch struct {
	UserID   string
	Day      string
	AtMillis int64
	// TotalShiftTime is Day's total after a clock-out.
	TotalShiftTime float64
	// SplitDay is set when a shift open since yesterday was split at midnight.
	SplitDay   string
	SplitTotal float64
}

// At returns the punch time in the ledger's location.
func (p Punch) At(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(p.AtMillis).In(loc)
}

// Location returns the timezone defining calendar days.
func (l *Ledger) Location() *time.Location {
	return l.loc
}

func (l *Ledger) now() time.Time {
	return l.clock.Now().In(l.loc)
}

func (l *Ledger) user(ctx context.Context) (string, error) {
	if l.users == nil {
		return "", ErrNoUserSignedIn
	}
	uid, ok := l.users.CurrentUser(ctx)
	if !ok || uid == "" {
		return "", ErrNoUserSignedIn
	}
	return uid, nil
}

// ClockIn appends an open shift to today's record. It fails with
// ErrAlreadyClockedIn, writing nothing, when the last shift is still open.
func (l *Ledger) ClockIn(ctx context.Context) (Punch, error) {
	uid, err := l.user(ctx)
	if err != nil {
		return Punch{}, err
	}

	now := l.now()
	nowMillis := now.UnixMilli()
	today := calendar.DayKey(now)
	ref := DayPath(l.root, uid, today)

	err = l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		rec, err := l.readDay(ctx, tx, ref, today)
		if err != nil {
			return err
		}
		if n := len(rec.Shifts); n > 0 && rec.Shifts[n-1].Open() {
			return ErrAlreadyClockedIn
		}
		rec.Shifts = append(rec.Shifts, model.Shift{InMillis: nowMillis})

		return tx.Set(ref, docstore.Fields{
			model.FieldDate:   today,
			model.FieldShifts: model.ShiftsToFields(rec.Shifts),
		}, docstore.Merge)
	})
	if err != nil {
		err = classify(err)
		l.logger.Info("clock-in rejected", zap.String("uid", uid), zap.String("day", today), zap.Error(err))
		return Punch{}, err
	}

	l.logger.Info("clocked in", zap.String("uid", uid), zap.String("day", today), zap.Int64("in_millis", nowMillis))
	return Punch{UserID: uid, Day: today, AtMillis: nowMillis}, nil
}

// ClockOut closes the open shift of today, or splits a shift left open since
// yesterday at local midnight, and recomputes the affected day totals.
func (l *Ledger) ClockOut(ctx context.Context) (Punch, error) {
	uid, err := l.user(ctx)
	if err != nil {
		return Punch{}, err
	}

	now := l.now()
	outMillis := now.UnixMilli()
	today := calendar.DayKey(now)
	yesterday := calendar.DayKey(now.AddDate(0, 0, -1))
	todayRef := DayPath(l.root, uid, today)
	yesterdayRef := DayPath(l.root, uid, yesterday)

	var punch Punch
	err = l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		punch = Punch{UserID: uid, Day: today, AtMillis: outMillis}

		todayRec, err := l.readDay(ctx, tx, todayRef, today)
		if err != nil {
			return err
		}

		if i := todayRec.OpenShift(); i >= 0 {
			l.warnStaleOpenShifts(uid, todayRec, i)
			todayRec.Shifts[i].OutMillis = &outMillis
			total := ClosedHours(todayRec.Shifts)
			punch.TotalShiftTime = total
			return l.writeDay(tx, todayRef, today, todayRec.Shifts, total)
		}

		yRec, err := l.readDay(ctx, tx, yesterdayRef, yesterday)
		if err != nil {
			return err
		}
		if len(yRec.Shifts) == 0 {
			return ErrNoActiveShift
		}
		i := yRec.OpenShift()
		if i < 0 {
			return ErrNoActiveShift
		}
		l.warnStaleOpenShifts(uid, yRec, i)

		startToday := calendar.StartOfDayMillis(outMillis, l.loc)
		endYesterday := startToday - 1
		yRec.Shifts[i].OutMillis = &endYesterday

		spill := outMillis
		todayRec.Shifts = append(todayRec.Shifts, model.Shift{InMillis: startToday, OutMillis: &spill})

		yTotal := ClosedHours(yRec.Shifts)
		tTotal := ClosedHours(todayRec.Shifts)
		punch.TotalShiftTime = tTotal
		punch.SplitDay = yesterday
		punch.SplitTotal = yTotal

		if err := l.writeDay(tx, yesterdayRef, yesterday, yRec.Shifts, yTotal); err != nil {
			return err
		}
		return l.writeDay(tx, todayRef, today, todayRec.Shifts, tTotal)
	})
	if err != nil {
		err = classify(err)
		l.logger.Info("clock-out rejected", zap.String("uid", uid), zap.String("day", today), zap.Error(err))
		return Punch{}, err
	}

	fields := []zap.Field{
		zap.String("uid", uid),
		zap.String("day", today),
		zap.Int64("out_millis", outMillis),
		zap.Float64("total_shift_time", punch.TotalShiftTime),
	}
	if punch.SplitDay != "" {
		fields = append(fields, zap.String("split_day", punch.SplitDay), zap.Float64("split_total", punch.SplitTotal))
	}
	l.logger.Info("clocked out", fields...)
	return punch, nil
}

// Day returns the signed-in user's record for day key, empty when absent.
func (l *Ledger) Day(ctx context.Context, day string) (model.DayRecord, error) {
	uid, err := l.user(ctx)
	if err != nil {
		return model.DayRecord{}, err
	}
	if _, err := calendar.ParseDayKey(day, l.loc); err != nil {
		return model.DayRecord{}, fmt.Errorf("%w: %w", ErrInvalidDay, err)
	}

	var rec model.DayRecord
	err = l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		var err error
		rec, err = l.readDay(ctx, tx, DayPath(l.root, uid, day), day)
		return err
	})
	if err != nil {
		return model.DayRecord{}, classify(err)
	}
	return rec, nil
}

// Today returns the signed-in user's record for the current day.
func (l *Ledger) Today(ctx context.Context) (model.DayRecord, error) {
	return l.Day(ctx, calendar.DayKey(l.now()))
}

func (l *Ledger) readDay(ctx context.Context, tx docstore.Tx, ref docstore.Path, day string) (model.DayRecord, error) {
	snap, err := tx.Get(ctx, ref)
	if err != nil {
		return model.DayRecord{}, err
	}
	var fields docstore.Fields
	if snap.Exists {
		fields = snap.Fields
	}
	rec, err := model.DecodeDayRecord(day, fields)
	if err != nil {
		return model.DayRecord{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return rec, nil
}

func (l *Ledger) writeDay(tx docstore.Tx, ref docstore.Path, day string, shifts []model.Shift, total float64) error {
	return tx.Set(ref, docstore.Fields{
		model.FieldDate:           day,
		model.FieldShifts:         model.ShiftsToFields(shifts),
		model.FieldTotalShiftTime: total,
	}, docstore.Merge)
}

// warnStaleOpenShifts logs open shifts before the one being closed. They are
// left untouched and excluded from the day total.
func (l *Ledger) warnStaleOpenShifts(uid string, rec model.DayRecord, closing int) {
	for j := 0; j < closing; j++ {
		if rec.Shifts[j].Open() {
			l.logger.Warn("stale open shift ignored in day total",
				zap.String("uid", uid), zap.String("day", rec.Date), zap.Int("index", j))
		}
	}
}

// ClosedHours sums the hours of all closed shifts, rounded to one decimal.
func ClosedHours(shifts []model.Shift) float64 {
	var total float64
	for _, s := range shifts {
		if s.OutMillis == nil {
			continue
		}
		total += calendar.HoursBetween(s.InMillis, *s.OutMillis)
	}
	return calendar.RoundTenth(total)
}
