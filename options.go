// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package msgloop

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for MessageLoop creation.
type loopOptions struct {
	logger            *logiface.Logger[logiface.Event]
	heartbeatInterval time.Duration
	taskSchedInterval time.Duration
	tickDuration      time.Duration
	diagnostics       bool
}

// --- Loop Options ---

// LoopOption configures a MessageLoop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger to the loop. A nil logger
// (the default) disables all logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithHeartbeatInterval sets the cadence at which the loop advances the
// timer wheel. Must be positive and no greater than the wheel tick
// granularity.
func WithHeartbeatInterval(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return errors.New("msgloop: heartbeat interval must be positive")
		}
		opts.heartbeatInterval = d
		return nil
	}}
}

// WithTaskSchedInterval sets the cadence at which the loop drains the
// severity band queues.
func WithTaskSchedInterval(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return errors.New("msgloop: task sched interval must be positive")
		}
		opts.taskSchedInterval = d
		return nil
	}}
}

// WithTickDuration sets the real-time span of one wheel tick.
func WithTickDuration(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return errors.New("msgloop: tick duration must be positive")
		}
		opts.tickDuration = d
		return nil
	}}
}

// WithPromiseDiagnostics enables the package-wide pending-promise
// registry for the lifetime of the process. See [PendingPromises].
func WithPromiseDiagnostics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.diagnostics = enabled
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		heartbeatInterval: time.Millisecond,
		taskSchedInterval: 10 * time.Millisecond,
		tickDuration:      time.Millisecond,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.tickDuration < cfg.heartbeatInterval {
		return nil, errors.New("msgloop: wheel tick granularity must be >= heartbeat interval")
	}
	if cfg.diagnostics {
		EnablePromiseDiagnostics()
	}
	return cfg, nil
}
