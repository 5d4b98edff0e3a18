package service

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// PrintNotifier wakes idle print workers once new entries are committed.
type PrintNotifier interface {
	NotifyPrintQueued(ctx context.Context)
}

type nopNotifier struct{}

func (nopNotifier) NotifyPrintQueued(context.Context) {}

type options struct {
	now                 func() time.Time
	notifier            PrintNotifier
	blockOnPrecontoFail bool
}

// Option configures a service.
type Option func(*options)

// WithClock replaces time.Now. Returned times are converted to UTC.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNotifier sets the print worker wake-up hook.
func WithNotifier(n PrintNotifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithPrecontoBlocking makes a failed preconto print block settlement.
func WithPrecontoBlocking(block bool) Option {
	return func(o *options) { o.blockOnPrecontoFail = block }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, notifier: nopNotifier{}}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) clock() time.Time { return o.now().UTC() }

// runTx executes fn inside a GORM transaction when db is available,
// or calls fn(nil) directly when db is nil (unit test mode).
func runTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return fn(nil)
	}
	return db.WithContext(ctx).Transaction(fn)
}
