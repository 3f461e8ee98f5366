package device

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Catalog.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// latch is a single-shot completion signal for one structure load.
type latch struct {
	done chan struct{}
	err  error
}

// Catalog holds one Class per family code and guards structure loading so
// that a family is read from a server at most once at a time.
//
// A successful load is permanent for the catalog's lifetime. A failed load
// is forgotten, so the next caller retries.
//
// All public methods are thread-safe.
type Catalog struct {
	mu      sync.Mutex
	classes map[string]*Class
	latches map[string]*latch
	logger  Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		classes: make(map[string]*Class),
		latches: make(map[string]*latch),
		logger:  noopLogger{},
	}
}

var defaultCatalog = NewCatalog()

// DefaultCatalog returns the process-wide catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// SetLogger sets the logger for the catalog.
func (c *Catalog) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// ClassFor returns the class for family, creating it on first use.
func (c *Catalog) ClassFor(family string) *Class {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cls, ok := c.classes[family]; ok {
		return cls
	}
	cls := newClass(family)
	c.classes[family] = cls
	return cls
}

// NewDevice creates a device whose class is shared through the catalog.
func (c *Catalog) NewDevice(id string) *Device {
	id = NormalizeID(id)
	return New(id, c.ClassFor(FamilyOf(id)))
}

// Loaded reports whether the structure of family has been loaded.
func (c *Catalog) Loaded(family string) bool {
	c.mu.Lock()
	l, ok := c.latches[family]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-l.done:
		return l.err == nil
	default:
		return false
	}
}

// EnsureStructure loads the structure of cls from src unless it is already
// loaded. Concurrent callers for the same class wait for the first load and
// share its outcome. Errors from src are returned unchanged.
func (c *Catalog) EnsureStructure(ctx context.Context, cls *Class, src StructureSource) error {
	if src == nil {
		return fmt.Errorf("%w: class %s", ErrNoStructureSource, cls.Name)
	}

	c.mu.Lock()
	l, ok := c.latches[cls.Family]
	if ok {
		c.mu.Unlock()
		select {
		case <-l.done:
			return l.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l = &latch{done: make(chan struct{})}
	c.latches[cls.Family] = l
	c.mu.Unlock()

	attrs, err := src.ReadStructure(ctx, cls.Family)
	if err == nil {
		cls.setAttributes(attrs)
		c.logger.Debug("device structure loaded", "class", cls.Name, "family", cls.Family, "attributes", len(attrs))
	} else {
		c.mu.Lock()
		delete(c.latches, cls.Family)
		c.mu.Unlock()
	}

	l.err = err
	close(l.done)
	return err
}

// Classes returns every class created so far.
func (c *Catalog) Classes() []*Class {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Class, 0, len(c.classes))
	for _, cls := range c.classes {
		out = append(out, cls)
	}
	return out
}
