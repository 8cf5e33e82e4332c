package rollback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu      sync.Mutex
	objects map[string]bool
	fail    map[string]bool
	deletes int
}

func (f *fakeRemote) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.fail[key] {
		return errors.New("remote unavailable")
	}
	delete(f.objects, key)
	return nil
}

func TestUndo_LocalIsIdempotent(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "articles", "a.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	u := NewUndoer(root)
	a := DeleteLocal("articles/a.jpg")

	require.NoError(t, u.Undo(context.Background(), a))
	assert.NoFileExists(t, target)
	require.NoError(t, u.Undo(context.Background(), a))
	assert.NoFileExists(t, target)
}

func TestUndo_LocalRejectsTraversal(t *testing.T) {
	u := NewUndoer(t.TempDir())
	err := u.Undo(context.Background(), DeleteLocal("../outside.txt"))
	assert.Equal(t, mediaerr.KindBadPath, mediaerr.KindOf(err))
}

func TestUndo_Remote(t *testing.T) {
	remote := &fakeRemote{objects: map[string]bool{"k1": true}}
	u := NewUndoer(t.TempDir(), WithRemote(remote))

	require.NoError(t, u.Undo(context.Background(), DeleteRemote("k1")))
	require.NoError(t, u.Undo(context.Background(), DeleteRemote("k1")))
	assert.Empty(t, remote.objects)

	noRemote := NewUndoer(t.TempDir())
	assert.Error(t, noRemote.Undo(context.Background(), DeleteRemote("k1")))
	assert.Error(t, noRemote.Undo(context.Background(), Action{Kind: "bogus"}))
}

func TestUndoAll_BestEffort(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jpg"), []byte("x"), 0o644))
	remote := &fakeRemote{objects: map[string]bool{"ok": true, "bad": true}, fail: map[string]bool{"bad": true}}
	u := NewUndoer(root, WithRemote(remote))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := u.UndoAll(ctx, []Action{DeleteLocal("a.jpg"), DeleteRemote("ok"), DeleteRemote("bad")})
	assert.Equal(t, 2, rep.RolledBack)
	assert.Equal(t, []Action{DeleteRemote("bad")}, rep.Failed)
	assert.NoFileExists(t, filepath.Join(root, "a.jpg"))
}

func TestBatchError(t *testing.T) {
	cause := mediaerr.NotFound("promote", "c.jpg", os.ErrNotExist)
	be := &BatchError{
		Op:         "promote",
		Total:      3,
		Succeeded:  2,
		RolledBack: 2,
		Failures:   []ItemFailure{{Index: 2, Name: "c.jpg", Err: cause}},
	}

	assert.Contains(t, be.Error(), "1 failed, 2 succeeded and 2 artifacts rolled back")
	assert.ErrorIs(t, be, os.ErrNotExist)
	assert.Equal(t, mediaerr.KindNotFound, mediaerr.KindOf(be))

	me := be.AsMediaError()
	assert.Equal(t, mediaerr.KindNotFound, me.Kind)
	assert.Equal(t, 1, me.Data["failedCount"])
	assert.Equal(t, 2, me.Data["rolledBackCount"])
}
