// Package history records authentication events (success, failure, logout,
// guard switch) with device and IP metadata. Writes are asynchronous and
// best-effort: a slow or failing history store must never hold up a login
// response.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"guardcore/internal/models"
	"guardcore/internal/store"
)

const (
	ActionLoginSuccess   = "login_success"
	ActionLoginFailed    = "login_failed"
	ActionLockout        = "lockout"
	ActionLogout         = "logout"
	ActionGuardSwitch    = "guard_switch"
	ActionPasswordChange = "password_change"
)

type Event struct {
	UserID    string
	Guard     string
	Action    string
	IP        string
	UserAgent string
	Metadata  map[string]any
}

type Recorder struct {
	store     store.HistoryStore
	lg        *zap.SugaredLogger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
	timeout   time.Duration
}

func NewRecorder(hs store.HistoryStore, lg *zap.SugaredLogger) *Recorder {
	r := &Recorder{
		store:   hs,
		lg:      lg,
		ch:      make(chan Event, 256),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues the event without blocking. Events are dropped, and
// counted, when the buffer is full.
func (r *Recorder) Record(ev Event) {
	select {
	case r.ch <- ev:
	case <-r.done:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops the worker after draining buffered events.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.ch:
			r.write(ev)
		case <-r.done:
			for {
				select {
				case ev := <-r.ch:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	row := models.LoginHistory{
		Guard:     ev.Guard,
		Action:    ev.Action,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
	}
	if ev.UserID != "" {
		uid := ev.UserID
		row.UserID = &uid
	}
	if len(ev.Metadata) > 0 {
		if b, err := json.Marshal(ev.Metadata); err == nil {
			row.Metadata = models.JSONB(b)
		}
	}
	if err := r.store.AppendHistory(ctx, &row); err != nil {
		r.lg.Warnw("login history write failed", "action", ev.Action, "error", err)
	}
}
