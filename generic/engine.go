/*
engine.go - Service wiring for the settlement engine

PURPOSE:
  Builds every core service over one TxStore with shared dependencies:
  the authorizer, the clock, the logger and the id generator.

USAGE:
  eng := generic.NewEngine(store, generic.Options{Logger: log})
  res, err := eng.Settler.Apply(ctx, actor, generic.SettleInput{...})

SEE ALSO:
  - api/server.go: exposes the engine over HTTP
  - config/config.go: supplies MaxRetries / MaxPeriods
*/
package generic

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 3
	DefaultMaxPeriods = 36
)

// Options configures NewEngine. Zero values fall back to defaults.
type Options struct {
	Guard  Authorizer
	Clock  Clock
	Logger *zap.Logger
	NewID  func() string

	// MaxRetries is how many times a conflicting settlement is re-read and
	// retried. Values below 1 are raised to 1.
	MaxRetries int

	// MaxPeriods caps Count in a single generation call.
	MaxPeriods int
}

func (o Options) withDefaults() Options {
	if o.Guard == nil {
		o.Guard = NewRoleGuard()
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.MaxRetries < 1 {
		if o.MaxRetries == 0 {
			o.MaxRetries = DefaultMaxRetries
		} else {
			o.MaxRetries = 1
		}
	}
	if o.MaxPeriods <= 0 {
		o.MaxPeriods = DefaultMaxPeriods
	}
	return o
}

// deps is embedded by every service.
type deps struct {
	store TxStore
	guard Authorizer
	clock Clock
	log   *zap.Logger
	newID func() string
}

func (d deps) now() time.Time { return d.clock.Now() }

// Engine groups the services built over one store.
type Engine struct {
	Store       TxStore
	Guard       Authorizer
	Obligations *Obligations
	Settler     *Settler
	Generator   *Generator
	Rates       *RateChanger
	Reporter    *Reporter
	Subjects    *Subjects
	Expenses    *Expenses
}

func NewEngine(store TxStore, opts Options) *Engine {
	opts = opts.withDefaults()
	d := deps{
		store: store,
		guard: opts.Guard,
		clock: opts.Clock,
		log:   opts.Logger,
		newID: opts.NewID,
	}
	settler := &Settler{deps: d, maxRetries: opts.MaxRetries}
	return &Engine{
		Store:       store,
		Guard:       opts.Guard,
		Obligations: &Obligations{deps: d},
		Settler:     settler,
		Generator:   &Generator{deps: d, settler: settler, maxPeriods: opts.MaxPeriods},
		Rates:       &RateChanger{deps: d},
		Reporter:    &Reporter{deps: d},
		Subjects:    &Subjects{deps: d},
		Expenses:    &Expenses{deps: d},
	}
}
