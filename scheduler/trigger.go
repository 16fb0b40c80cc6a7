package scheduler

import (
	"strings"
	"sync"
	"time"

	"cpls_refresh/errors"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
)

// Handle is an armed trigger
type Handle interface {
	NextRun() time.Time
}

// Trigger arms and disarms cron-style timers in a single location.
type Trigger interface {
	Arm(def Definition, fire func()) (Handle, error)
	Disarm(h Handle)
	Location() *time.Location
}

// ValidateSchedule checks a 5-field cron expression (minute, hour,
// day-of-month, month, day-of-week). Timezone prefixes are rejected because
// the trigger location is fixed.
func ValidateSchedule(spec string) error {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return errors.New("empty cron expression")
	}
	if strings.HasPrefix(trimmed, "TZ=") || strings.HasPrefix(trimmed, "CRON_TZ=") {
		return errors.Newf("cron expression %q must not carry a timezone", spec)
	}
	if _, err := cron.ParseStandard(trimmed); err != nil {
		return errors.Wrapf(err, "invalid cron expression %q", spec)
	}
	return nil
}

// NextFire returns the first instant after from at which spec fires in loc.
func NextFire(spec string, loc *time.Location, from time.Time) (time.Time, error) {
	if err := ValidateSchedule(spec); err != nil {
		return time.Time{}, err
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from.In(loc)), nil
}

// GocronTrigger arms triggers on a gocron scheduler running in a fixed
// location.
type GocronTrigger struct {
	mu        sync.Mutex
	cron      *gocron.Scheduler
	singleton bool
}

// NewGocronTrigger starts a gocron runner in the named timezone. With
// singleton set, a job that is still running skips its next firing instead of
// overlapping it.
func NewGocronTrigger(timezone string, singleton bool) (*GocronTrigger, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", timezone)
	}

	c := gocron.NewScheduler(loc)
	c.StartAsync()

	return &GocronTrigger{cron: c, singleton: singleton}, nil
}

// Arm registers fire under def's cron expression.
func (t *GocronTrigger) Arm(def Definition, fire func()) (Handle, error) {
	if err := ValidateSchedule(def.Schedule); err != nil {
		return nil, err
	}

	// gocron's builder chain is not safe for concurrent use
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.cron.Cron(strings.TrimSpace(def.Schedule)).Tag(def.Name)
	if t.singleton {
		s = s.SingletonMode()
	}
	job, err := s.Do(fire)
	if err != nil {
		return nil, errors.Wrapf(err, "schedule %s trigger", def.Name)
	}
	return job, nil
}

// Disarm removes a handle returned by Arm. Unknown handles are ignored.
func (t *GocronTrigger) Disarm(h Handle) {
	job, ok := h.(*gocron.Job)
	if !ok || job == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cron.RemoveByReference(job)
}

// Location returns the fixed trigger location
func (t *GocronTrigger) Location() *time.Location {
	return t.cron.Location()
}

// Armed returns how many triggers are currently registered
func (t *GocronTrigger) Armed() int {
	return t.cron.Len()
}

// Shutdown stops the gocron runner, waiting for running jobs to return.
func (t *GocronTrigger) Shutdown() {
	t.cron.Stop()
}
