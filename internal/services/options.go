package services

import (
	"sync"
	"time"

	"github.com/diewo77/clinic-invoices/internal/composition"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Option configures a service.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	graph  *composition.Lock
	locks  *keyedMutex
	now    func() time.Time
}

// WithLogger sets the logger used for mutation and rejection events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGraphLock shares a graph lock between services. Services created
// separately without it do not serialize against each other.
func WithGraphLock(l *composition.Lock) Option {
	return func(o *options) { o.graph = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func withInvoiceLocks(k *keyedMutex) Option {
	return func(o *options) { o.locks = k }
}

func newOptions(opts []Option) options {
	o := options{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.graph == nil {
		o.graph = composition.NewLock()
	}
	if o.locks == nil {
		o.locks = newKeyedMutex()
	}
	return o
}

// Services bundles every domain service over one database, sharing the
// graph lock and the per-invoice locks.
type Services struct {
	Catalog     *CatalogService
	Composition *CompositionService
	Invoices    *InvoiceService
	Returns     *ReturnService
	Clinic      *ClinicService
}

// New wires all services together.
func New(db *gorm.DB, opts ...Option) *Services {
	shared := append([]Option{
		WithGraphLock(composition.NewLock()),
		withInvoiceLocks(newKeyedMutex()),
	}, opts...)
	return &Services{
		Catalog:     NewCatalogService(db, shared...),
		Composition: NewCompositionService(db, shared...),
		Invoices:    NewInvoiceService(db, shared...),
		Returns:     NewReturnService(db, shared...),
		Clinic:      NewClinicService(db, shared...),
	}
}

// keyedMutex hands out one mutex per key and frees it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint]*refMutex)}
}

// Lock blocks until key is held and returns the matching unlock.
func (k *keyedMutex) Lock(key uint) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
