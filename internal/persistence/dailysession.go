package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencode-ai/sessiond/pkg/types"
)

const dailySessionRetention = 30 * 24 * time.Hour

var dailySessionsPath = []string{"daily-sessions"}

// reservation is an in-flight claim on a (persona, date) key: concurrent
// callers for the same key wait on done rather than each racing to create a
// session.
type reservation struct {
	done chan struct{}
	once sync.Once
}

func (r *reservation) close() {
	r.once.Do(func() { close(r.done) })
}

// DailySessions reserves at most one session per persona per calendar day,
// closing the TOCTOU window where two concurrent callers both observe "no
// daily session yet" and both create one.
type DailySessions struct {
	store         *Store
	mu            sync.Mutex // guards both inflight and the daily-sessions.json read-modify-write
	inflight      map[string]*reservation
	sessionExists func(ctx context.Context, sessionID string) (bool, error)
}

// NewDailySessions creates a DailySessions backed by store. sessionExists
// reports whether the given session id still exists; a nil sessionExists
// defaults to looking the session up directly in store.
func NewDailySessions(store *Store, sessionExists func(ctx context.Context, sessionID string) (bool, error)) *DailySessions {
	d := &DailySessions{
		store:    store,
		inflight: make(map[string]*reservation),
	}
	if sessionExists == nil {
		sessionExists = d.defaultSessionExists
	}
	d.sessionExists = sessionExists
	return d
}

// defaultSessionExists checks the session repository's own on-disk record
// directly, since DailySessions shares the persistence package with
// Sessions and sessionPath.
func (d *DailySessions) defaultSessionExists(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	var session types.Session
	err := d.store.Get(ctx, sessionPath(sessionID), &session)
	if err == nil {
		return true, nil
	}
	if err == ErrNotFound {
		return false, nil
	}
	return false, fmt.Errorf("persistence: check session existence: %w", err)
}

func dailySessionKey(persona, date string) string {
	return persona + "-" + date
}

// GetOrCreate implements the three-step reservation protocol: await any
// in-flight reservation for the same key, then check the existing entry
// under the state mutex. If no entry exists, the caller becomes the
// reservation holder and is obliged to call Register (on success) or the
// returned release func (on failure) to hand the slot to the next waiter.
//
// A non-empty sessionID means the daily session already exists; the caller
// must not create a new one. An empty sessionID with isNew=true means the
// caller must create the session and call Register.
func (d *DailySessions) GetOrCreate(ctx context.Context, persona string, now time.Time) (sessionID string, isNew bool, release func(), err error) {
	date := now.Format("2006-01-02")
	key := dailySessionKey(persona, date)

	for {
		d.mu.Lock()
		if r, ok := d.inflight[key]; ok {
			d.mu.Unlock()
			select {
			case <-r.done:
				continue
			case <-ctx.Done():
				return "", false, nil, ctx.Err()
			}
		}

		var records map[string]types.DailySessionRecord
		if gerr := d.store.Get(ctx, dailySessionsPath, &records); gerr != nil && gerr != ErrNotFound {
			d.mu.Unlock()
			return "", false, nil, fmt.Errorf("persistence: read daily sessions: %w", gerr)
		}
		if rec, ok := records[key]; ok {
			exists, existsErr := d.sessionExists(ctx, rec.SessionID)
			if existsErr != nil {
				d.mu.Unlock()
				return "", false, nil, existsErr
			}
			if exists {
				d.mu.Unlock()
				return rec.SessionID, false, func() {}, nil
			}
			// The record references a since-deleted session: spec.md
			// §4.2.5 step 2 obliges this caller to reserve and create a
			// fresh one rather than hand back the dead id, so fall through.
		}

		r := &reservation{done: make(chan struct{})}
		d.inflight[key] = r
		d.mu.Unlock()

		release = func() {
			d.mu.Lock()
			if d.inflight[key] == r {
				delete(d.inflight, key)
			}
			d.mu.Unlock()
			r.close()
		}
		return "", true, release, nil
	}
}

// Register records a newly created daily session and releases the
// reservation for the (persona, date) key. It also purges entries older
// than the retention window.
func (d *DailySessions) Register(ctx context.Context, persona string, now time.Time, sessionID string, chatID *string) error {
	date := now.Format("2006-01-02")
	key := dailySessionKey(persona, date)

	d.mu.Lock()
	defer d.mu.Unlock()

	var records map[string]types.DailySessionRecord
	if err := d.store.Get(ctx, dailySessionsPath, &records); err != nil && err != ErrNotFound {
		return fmt.Errorf("persistence: read daily sessions: %w", err)
	}
	if records == nil {
		records = make(map[string]types.DailySessionRecord)
	}

	records[key] = types.DailySessionRecord{
		SessionID: sessionID,
		ChatID:    chatID,
		CreatedAt: now.UnixMilli(),
	}

	purgeOldDailySessions(records, now)

	if err := d.store.Put(ctx, dailySessionsPath, records); err != nil {
		return fmt.Errorf("persistence: write daily sessions: %w", err)
	}

	if r, ok := d.inflight[key]; ok {
		delete(d.inflight, key)
		r.close()
	}
	return nil
}

func purgeOldDailySessions(records map[string]types.DailySessionRecord, now time.Time) {
	cutoff := now.Add(-dailySessionRetention).UnixMilli()
	for key, rec := range records {
		if rec.CreatedAt < cutoff {
			delete(records, key)
		}
	}
}
