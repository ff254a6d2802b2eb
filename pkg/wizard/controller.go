package wizard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lendpath/funnel/internal/utils"
)

var (
	ErrUnknownStep    = errors.New("unknown step")
	ErrStepIncomplete = errors.New("current step is not completed")
	ErrNoPreviousStep = errors.New("no previous step")
)

// Controller is the single source of truth for wizard progress and form data.
// Every mutation is written through to the Store.
type Controller struct {
	mu      sync.Mutex
	table   *Table
	store   Store
	session Session
	log     logrus.FieldLogger

	onNavigate func(StepID)
	onComplete func(FormData)
}

// Option configures a Controller.
type Option func(*Controller)

// WithTable replaces the production step table.
func WithTable(t *Table) Option {
	return func(c *Controller) { c.table = t }
}

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = l }
}

// OnNavigate registers a callback invoked after the current step changes.
func OnNavigate(fn func(StepID)) Option {
	return func(c *Controller) { c.onNavigate = fn }
}

// OnComplete registers the callback invoked when MoveForward runs past the
// last step.
func OnComplete(fn func(FormData)) Option {
	return func(c *Controller) { c.onComplete = fn }
}

// NewController restores the session from store, or starts a new one at the
// first step.
func NewController(store Store, opts ...Option) (*Controller, error) {
	c := &Controller{
		table: DefaultTable(),
		store: store,
		log:   utils.Log,
	}
	for _, o := range opts {
		o(c)
	}

	saved, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load session: %w", err)
	}
	if saved == nil {
		c.session = c.freshSession()
		return c, nil
	}

	c.session = *saved
	if c.session.FormData == nil {
		c.session.FormData = FormData{}
	}
	if c.session.SessionID == "" {
		c.session.SessionID = uuid.NewString()
	}
	if _, ok := c.table.Step(c.session.CurrentStep); !ok {
		c.log.Warnf("Saved step %q is not in the step table, restarting at %s", c.session.CurrentStep, c.table.First())
		c.session.CurrentStep = c.table.First()
	}
	return c, nil
}

func (c *Controller) freshSession() Session {
	return Session{
		SessionID:   uuid.NewString(),
		CurrentStep: c.table.First(),
		FormData:    FormData{},
	}
}

// Table returns the step table driving the controller.
func (c *Controller) Table() *Table { return c.table }

// CurrentStep returns the current step pointer.
func (c *Controller) CurrentStep() StepID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.CurrentStep
}

// SessionID returns the identifier of the current wizard run.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.SessionID
}

// FormData returns a copy of the accumulated form data.
func (c *Controller) FormData() FormData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.FormData.Clone()
}

// SaveFormData merges partial into the form data and writes the whole blob
// to storage. It performs no validation.
func (c *Controller) SaveFormData(partial map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.FormData.Merge(partial)
	return c.persistLocked()
}

// IsStepCompleted reports whether every required field of id is present and
// non-empty. Step rules are not re-run.
func (c *Controller) IsStepCompleted(id StepID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedLocked(id)
}

// MissingFields lists the required fields of id that are still empty.
func (c *Controller) MissingFields(id StepID) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.table.Step(id)
	if !ok {
		return nil
	}
	var missing []string
	for _, f := range s.Required {
		if !c.session.FormData.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func (c *Controller) completedLocked(id StepID) bool {
	s, ok := c.table.Step(id)
	if !ok {
		return false
	}
	for _, f := range s.Required {
		if !c.session.FormData.Has(f) {
			return false
		}
	}
	return true
}

// MoveForward merges data, requires the current step to be completed and
// advances to its successor. Past the last step the completion callback runs
// instead.
func (c *Controller) MoveForward(data map[string]any) error {
	c.mu.Lock()
	if len(data) > 0 {
		c.session.FormData.Merge(data)
		if err := c.persistLocked(); err != nil {
			c.mu.Unlock()
			return err
		}
	}

	current := c.session.CurrentStep
	if !c.completedLocked(current) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStepIncomplete, current)
	}

	next, ok, err := c.table.Next(current, c.session.FormData)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !ok {
		snapshot := c.session.FormData.Clone()
		c.mu.Unlock()
		if c.onComplete != nil {
			c.onComplete(snapshot)
		}
		return nil
	}
	return c.navigateLocked(next)
}

// MoveBackward merges data and returns to the preceding step.
func (c *Controller) MoveBackward(data map[string]any) error {
	c.mu.Lock()
	prev, ok := c.table.Prev(c.session.CurrentStep)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is the first step", ErrNoPreviousStep, c.session.CurrentStep)
	}
	if len(data) > 0 {
		c.session.FormData.Merge(data)
	}
	return c.navigateLocked(prev)
}

// MoveToStep jumps to target, which must exist in the step table.
func (c *Controller) MoveToStep(target StepID, data map[string]any) error {
	c.mu.Lock()
	if _, ok := c.table.Step(target); !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStep, target)
	}
	if len(data) > 0 {
		c.session.FormData.Merge(data)
	}
	return c.navigateLocked(target)
}

// navigateLocked must be called with c.mu held; it releases the lock before
// invoking the navigation callback.
func (c *Controller) navigateLocked(target StepID) error {
	c.session.CurrentStep = target
	err := c.persistLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if c.onNavigate != nil {
		c.onNavigate(target)
	}
	return nil
}

// ClearFormData empties the form data, keeping the current step and session.
func (c *Controller) ClearFormData() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.FormData = FormData{}
	return c.persistLocked()
}

// Reset abandons the session: empty data, first step and a new session id.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = c.freshSession()
	return c.persistLocked()
}

func (c *Controller) persistLocked() error {
	c.session.UpdatedAt = time.Now().UTC()
	snapshot := c.session
	snapshot.FormData = c.session.FormData.Clone()
	if err := c.store.Save(&snapshot); err != nil {
		c.log.Errorf("Could not persist wizard session %s: %v", c.session.SessionID, err)
		return fmt.Errorf("could not persist session: %w", err)
	}
	return nil
}
