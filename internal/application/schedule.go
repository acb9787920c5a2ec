package application

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// minReactivationInterval is the shortest accepted interval-mode cadence.
const minReactivationInterval = time.Second

// cronParser accepts standard 5-field specs, 6-field specs with a leading
// seconds field, and descriptors such as @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextFireTime returns the first fire time of cfg strictly after from. In
// interval mode that is from plus the interval; in scheduled mode it is the
// next cron match evaluated in cfg.Timezone.
func NextFireTime(cfg model.ReactivationConfig, from time.Time) (time.Time, error) {
	switch cfg.Mode {
	case model.ReactivationModeInterval:
		if cfg.Interval <= 0 {
			return time.Time{}, fmt.Errorf("%w: interval must be positive", ErrInvalidSettings)
		}
		return from.Add(cfg.Interval), nil

	case model.ReactivationModeScheduled:
		schedule, loc, err := parseSchedule(cfg)
		if err != nil {
			return time.Time{}, err
		}
		next := schedule.Next(from.In(loc))
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("%w: cron spec %q never fires", ErrInvalidSettings, cfg.CronSpec)
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidSettings, cfg.Mode)
	}
}

func parseSchedule(cfg model.ReactivationConfig) (cron.Schedule, *time.Location, error) {
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSettings, cfg.Timezone, err)
	}

	schedule, err := cronParser.Parse(cfg.CronSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cron spec %q: %v", ErrInvalidSettings, cfg.CronSpec, err)
	}

	return schedule, loc, nil
}

// loadLocation treats an empty name as the process-local zone.
func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// ValidateReactivationConfig rejects configs the scheduler cannot run. A
// disabled config is still validated so it can be enabled later unchanged.
func ValidateReactivationConfig(cfg model.ReactivationConfig) error {
	err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Mode,
			validation.Required,
			validation.In(model.ReactivationModeInterval, model.ReactivationModeScheduled),
		),
		validation.Field(&cfg.Interval,
			validation.When(cfg.Mode == model.ReactivationModeInterval,
				validation.Required,
				validation.Min(minReactivationInterval),
			),
		),
		validation.Field(&cfg.CronSpec,
			validation.When(cfg.Mode == model.ReactivationModeScheduled,
				validation.Required,
				validation.By(func(any) error {
					_, err := cronParser.Parse(cfg.CronSpec)
					return err
				}),
			),
		),
		validation.Field(&cfg.Timezone,
			validation.By(func(any) error {
				_, err := loadLocation(cfg.Timezone)
				return err
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// UpcomingFireTimes lists the next n fire times of cfg after from.
func UpcomingFireTimes(cfg model.ReactivationConfig, from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, errors.New("count must be positive")
	}

	times := make([]time.Time, 0, n)
	at := from
	for range n {
		next, err := NextFireTime(cfg, at)
		if err != nil {
			return nil, err
		}
		times = append(times, next)
		at = next
	}
	return times, nil
}
