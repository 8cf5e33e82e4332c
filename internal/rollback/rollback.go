// Package rollback executes compensating deletes for assets that were
// committed to formal or remote storage as part of a failed batch.
//
// Actions are plain values so they can be logged and retried uniformly. An
// action is owned by the batch that captured it and is never persisted.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/maneesh/blogmedia/internal/executor"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/metrics"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/sirupsen/logrus"
)

// Kind tags an action.
type Kind string

const (
	KindDeleteLocal  Kind = "delete-local"
	KindDeleteRemote Kind = "delete-remote"
)

// Action deletes one formal file (Target is relative to the formal root) or
// one remote object (Target is the object key).
type Action struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
}

// DeleteLocal returns an action removing rel from the formal store.
func DeleteLocal(rel string) Action {
	return Action{Kind: KindDeleteLocal, Target: rel}
}

// DeleteRemote returns an action removing key from the object store.
func DeleteRemote(key string) Action {
	return Action{Kind: KindDeleteRemote, Target: key}
}

func (a Action) String() string {
	return fmt.Sprintf("%s:%s", a.Kind, a.Target)
}

// RemoteDeleter removes objects. Deleting a missing key must succeed.
type RemoteDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Undoer interprets actions.
type Undoer struct {
	formalRoot  string
	remote      RemoteDeleter
	concurrency int
	timeout     time.Duration
	observer    metrics.Observer
	log         *logrus.Entry
}

// Option configures an Undoer.
type Option func(*Undoer)

// WithRemote sets the object store used for delete-remote actions.
func WithRemote(r RemoteDeleter) Option {
	return func(u *Undoer) { u.remote = r }
}

// WithObserver sets the metrics observer.
func WithObserver(o metrics.Observer) Option {
	return func(u *Undoer) { u.observer = metrics.OrNop(o) }
}

// WithConcurrency bounds parallel compensating deletes.
func WithConcurrency(n int) Option {
	return func(u *Undoer) { u.concurrency = n }
}

// NewUndoer returns an interpreter deleting local targets under formalRoot.
func NewUndoer(formalRoot string, opts ...Option) *Undoer {
	u := &Undoer{
		formalRoot:  formalRoot,
		concurrency: executor.DefaultConcurrency,
		timeout:     30 * time.Second,
		observer:    metrics.Nop(),
		log:         logrus.WithField("component", "rollback"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Undo executes a single action. A target that no longer exists is success,
// so calling Undo repeatedly is safe.
func (u *Undoer) Undo(ctx context.Context, a Action) error {
	err := u.undo(ctx, a)
	u.observer.RecordRollback(string(a.Kind), err)
	return err
}

func (u *Undoer) undo(ctx context.Context, a Action) error {
	switch a.Kind {
	case KindDeleteLocal:
		abs, err := paths.ResolveAbsolute(u.formalRoot, a.Target)
		if err != nil {
			return err
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			return mediaerr.Internal("rollback", a.Target, err)
		}
		return nil
	case KindDeleteRemote:
		if u.remote == nil {
			return mediaerr.Internal("rollback", a.Target, errors.New("no object store configured"))
		}
		if err := u.remote.Delete(ctx, a.Target); err != nil {
			return mediaerr.Internal("rollback", a.Target, err)
		}
		return nil
	default:
		return mediaerr.Internal("rollback", a.Target, fmt.Errorf("unknown action kind %q", a.Kind))
	}
}

// Report summarises a best-effort rollback.
type Report struct {
	RolledBack int
	Failed     []Action
}

// UndoAll executes every action, best-effort. Failures are logged and
// reported, never returned as errors. The caller's cancellation does not stop
// compensation; each run gets its own deadline.
func (u *Undoer) UndoAll(ctx context.Context, actions []Action) Report {
	if len(actions) == 0 {
		return Report{}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.timeout)
	defer cancel()

	results := executor.RunBounded(ctx, actions, u.concurrency, func(ctx context.Context, _ int, a Action) (struct{}, error) {
		return struct{}{}, u.Undo(ctx, a)
	})

	var rep Report
	for i, r := range results {
		if r.Err != nil {
			u.log.WithError(r.Err).WithField("action", actions[i].String()).Warn("compensating delete failed")
			rep.Failed = append(rep.Failed, actions[i])
			continue
		}
		rep.RolledBack++
	}
	return rep
}
