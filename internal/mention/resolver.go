package mention

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"slackriver/internal/chat"
	logx "slackriver/pkg/logx"
)

// tokenPattern matches <@U123> and <@U123|label>.
var tokenPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)

// Lookup resolves a user id over the network.
type Lookup interface {
	LookupUser(ctx context.Context, userID string) (chat.UserRef, error)
}

// Persister receives every newly cached user. Failures are logged and ignored.
type Persister interface {
	PutUser(ctx context.Context, userID string, u chat.UserRef) error
}

const (
	persistQueue   = 256
	persistTimeout = 2 * time.Second
)

type pendingUser struct {
	id   string
	user chat.UserRef
}

type Option func(*Resolver)

// WithPersister queues newly resolved users for p. Writes happen in
// RunPersister, never on the resolving goroutine.
func WithPersister(p Persister) Option {
	return func(r *Resolver) {
		r.persist = p
		r.queue = make(chan pendingUser, persistQueue)
	}
}

// Resolver turns user ids into display names, memoizing successes in a Cache.
type Resolver struct {
	lookup  Lookup
	cache   *Cache
	persist Persister
	queue   chan pendingUser
	log     logx.Logger

	lookups  atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
}

func NewResolver(lookup Lookup, cache *Cache, log logx.Logger, opts ...Option) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resolver{lookup: lookup, cache: cache, log: log}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) Cache() *Cache { return r.cache }

// Stats returns the number of network lookups issued and how many failed.
func (r *Resolver) Stats() (lookups, failures uint64) {
	return r.lookups.Load(), r.failures.Load()
}

// Resolve returns the user for id. A cached id never touches the network.
// Failed lookups are not cached, so the next call retries; a value loaded
// from storage is served in the meantime.
func (r *Resolver) Resolve(ctx context.Context, userID string) (chat.UserRef, bool) {
	if u, ok := r.cache.Get(userID); ok {
		return u, true
	}
	saved, hasSaved := r.cache.Saved(userID)
	if r.lookup == nil {
		return saved, hasSaved
	}

	r.lookups.Add(1)
	u, err := r.lookup.LookupUser(ctx, userID)
	if err != nil {
		r.failures.Add(1)
		r.log.Debug("user lookup failed", logx.String("user", userID), logx.Bool("saved", hasSaved), logx.Err(err))
		return saved, hasSaved
	}

	if r.cache.Add(userID, u) && (!hasSaved || saved != u) {
		r.enqueue(userID, u)
	}
	return u, true
}

func (r *Resolver) enqueue(id string, u chat.UserRef) {
	if r.queue == nil {
		return
	}
	select {
	case r.queue <- pendingUser{id: id, user: u}:
	default:
		r.dropped.Add(1)
		r.log.Warn("persist queue full; user not saved", logx.String("user", id))
	}
}

// RunPersister writes queued users until ctx ends, then flushes what is
// already queued within one write timeout. Writes are not tied to ctx, so
// shutdown does not abort one midway. Without a persister it only waits
// for ctx.
func (r *Resolver) RunPersister(ctx context.Context) {
	if r.queue == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			for {
				select {
				case p := <-r.queue:
					r.write(flushCtx, p)
				default:
					return
				}
			}
		case p := <-r.queue:
			r.write(context.Background(), p)
		}
	}
}

func (r *Resolver) write(parent context.Context, p pendingUser) {
	ctx, cancel := context.WithTimeout(parent, persistTimeout)
	defer cancel()
	if err := r.persist.PutUser(ctx, p.id, p.user); err != nil {
		r.log.Warn("persist user failed", logx.String("user", p.id), logx.Err(err))
	}
}

// Dropped counts users that could not be queued for persistence.
func (r *Resolver) Dropped() uint64 { return r.dropped.Load() }

// Substitute replaces every mention token in text with "@<label> ".
// Tokens whose user cannot be resolved are left untouched. Each occurrence
// is resolved on its own; repeated ids are served by the cache.
func (r *Resolver) Substitute(ctx context.Context, text string) string {
	matches := tokenPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		id := text[m[2]:m[3]]

		b.WriteString(text[last:start])
		if u, ok := r.Resolve(ctx, id); ok {
			b.WriteString("@")
			b.WriteString(u.Label())
			b.WriteString(" ")
		} else {
			b.WriteString(text[start:end])
		}
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}
