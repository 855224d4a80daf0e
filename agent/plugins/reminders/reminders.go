// Package reminders keeps persistent reminders and fires them on time, either with
// in-process timers or through QStash delayed delivery.
package reminders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/events"
)

const Name = "Reminders"

const (
	IntentSet    = "reminder_set"
	IntentList   = "reminder_list"
	IntentDelete = "reminder_delete"
)

type Config struct {
	DSN         string `envconfig:"DSN" default:"storage/db/echobot.db"`
	CallbackURL string `split_words:"true"`
}

// Publisher receives fired reminders. *events.Bus satisfies it.
type Publisher interface {
	Publish(e events.Event)
}

// Deliverer hands a reminder to an external scheduler that later calls Fire.
type Deliverer interface {
	Deliver(ctx context.Context, r Reminder, at time.Time) error
}

type Plugin struct {
	store     *Store
	publisher Publisher
	deliverer Deliverer
	now       func() time.Time
	loc       *time.Location

	mu     sync.Mutex
	timers map[int64]*time.Timer
	closed bool
}

type Option func(*Plugin)

func WithPublisher(pub Publisher) Option {
	return func(p *Plugin) { p.publisher = pub }
}

// WithDeliverer routes scheduling to an external queue instead of local timers.
func WithDeliverer(d Deliverer) Option {
	return func(p *Plugin) { p.deliverer = d }
}

func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(p *Plugin) {
		if now != nil {
			p.now = now
		}
		if loc != nil {
			p.loc = loc
		}
	}
}

// New opens the store and re-arms every untriggered future reminder.
func New(ctx context.Context, cfg Config, opts ...Option) (*Plugin, error) {
	store, err := OpenStore(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	p := NewWithStore(store, opts...)
	if err := p.reschedule(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return p, nil
}

func NewWithStore(store *Store, opts ...Option) *Plugin {
	p := &Plugin{
		store:  store,
		now:    time.Now,
		loc:    time.Local,
		timers: make(map[int64]*time.Timer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Manages persistent reminders." }
func (*Plugin) Intents() []string   { return []string{IntentSet, IntentList, IntentDelete} }

func (p *Plugin) Handle(ctx context.Context, intent string, entities map[string]any, _ contractx.PluginContext) (string, error) {
	switch intent {
	case IntentSet:
		return p.add(ctx, contractx.StringArg(entities, "task"), contractx.StringArg(entities, "time"))
	case IntentList:
		return p.list(ctx)
	case IntentDelete:
		return p.delete(ctx, contractx.StringArg(entities, "scope"))
	default:
		return "I'm not sure what you want to do with reminders.", nil
	}
}

func (p *Plugin) add(ctx context.Context, task, rawTime string) (string, error) {
	if task == "" {
		return "What should I remind you about?", nil
	}

	now := p.now().In(p.loc)
	r := &Reminder{Task: task, CreatedAt: now}
	if at, ok := ParseTime(rawTime, now); ok {
		r.RemindAt = at
	} else if rawTime != "" {
		log.Debug().Str("time", rawTime).Msg("unrecognised reminder time, saving as a note")
	}

	if err := p.store.Insert(ctx, r); err != nil {
		return "", err
	}

	if !r.Timed() {
		return fmt.Sprintf("Okay, I've noted: %s.", task), nil
	}
	p.schedule(ctx, *r)
	return fmt.Sprintf("Okay, I'll remind you to %s at %s.", task, p.clock(r.RemindAt)), nil
}

func (p *Plugin) list(ctx context.Context) (string, error) {
	active, err := p.store.Active(ctx)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		return "You have no active reminders.", nil
	}

	var b strings.Builder
	b.WriteString("Here are your reminders: ")
	for _, r := range active {
		if r.Timed() {
			fmt.Fprintf(&b, "%s at %s. ", r.Task, p.clock(r.RemindAt))
		} else {
			fmt.Fprintf(&b, "%s. ", r.Task)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// delete removes every active reminder for scope "all", otherwise the most recently created one.
func (p *Plugin) delete(ctx context.Context, scope string) (string, error) {
	active, err := p.store.Active(ctx)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		return "You have no active reminders.", nil
	}

	if scope == "all" {
		ids := make([]int64, 0, len(active))
		for _, r := range active {
			ids = append(ids, r.ID)
		}
		if _, err := p.store.Delete(ctx, ids...); err != nil {
			return "", err
		}
		p.cancel(ids...)
		return fmt.Sprintf("Okay, I've deleted all %d of your reminders.", len(ids)), nil
	}

	latest := active[0]
	for _, r := range active[1:] {
		if r.CreatedAt.After(latest.CreatedAt) || (r.CreatedAt.Equal(latest.CreatedAt) && r.ID > latest.ID) {
			latest = r
		}
	}
	if _, err := p.store.Delete(ctx, latest.ID); err != nil {
		return "", err
	}
	p.cancel(latest.ID)
	return fmt.Sprintf("Okay, I've deleted your reminder to %s.", latest.Task), nil
}

// Fire marks a reminder triggered and publishes it. Repeated calls for the same id are no-ops.
func (p *Plugin) Fire(ctx context.Context, id int64) error {
	p.mu.Lock()
	delete(p.timers, id)
	p.mu.Unlock()

	changed, err := p.store.MarkTriggered(ctx, id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	r, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	log.Info().Int64("reminder_id", id).Str("task", r.Task).Msg("reminder triggered")
	if p.publisher != nil {
		p.publisher.Publish(events.Event{
			Kind: events.KindReminder,
			Data: map[string]any{
				"id":      r.ID,
				"task":    r.Task,
				"message": fmt.Sprintf("Reminder: %s", r.Task),
			},
		})
	}
	return nil
}

func (p *Plugin) reschedule(ctx context.Context) error {
	if p.deliverer != nil {
		// queued deliveries survive restarts on their own
		return nil
	}
	active, err := p.store.Active(ctx)
	if err != nil {
		return err
	}
	now := p.now()
	for _, r := range active {
		if r.Timed() && r.RemindAt.After(now) {
			p.schedule(ctx, r)
		}
	}
	log.Info().Int("pending", p.pending()).Msg("reminders rescheduled")
	return nil
}

func (p *Plugin) schedule(ctx context.Context, r Reminder) {
	if p.deliverer != nil {
		err := p.deliverer.Deliver(ctx, r, r.RemindAt)
		if err == nil {
			return
		}
		log.Warn().Err(err).Int64("reminder_id", r.ID).Msg("external delivery failed, using local timer")
	}

	delay := r.RemindAt.Sub(p.now())
	if delay < 0 {
		delay = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if t, ok := p.timers[r.ID]; ok {
		t.Stop()
	}
	id := r.ID
	p.timers[id] = time.AfterFunc(delay, func() {
		if err := p.Fire(context.Background(), id); err != nil {
			log.Error().Err(err).Int64("reminder_id", id).Msg("fire reminder")
		}
	})
}

func (p *Plugin) cancel(ids ...int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if t, ok := p.timers[id]; ok {
			t.Stop()
			delete(p.timers, id)
		}
	}
}

func (p *Plugin) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

func (p *Plugin) clock(t time.Time) string {
	return t.In(p.loc).Format("03:04 PM")
}

// Close stops pending timers and closes the store.
func (p *Plugin) Close() error {
	p.mu.Lock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()
	return p.store.Close()
}
