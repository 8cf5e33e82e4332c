package mediaerr

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"op and path", NotFound("validate", "a.jpg", fs.ErrNotExist), "validate a.jpg: file does not exist"},
		{"op only", BadRequest("scene", "UNKNOWN_SCENE", `unknown scene "x"`), `scene: unknown scene "x"`},
		{"bare", &Error{Kind: KindInternal}, "internal"},
		{"message wins", &Error{Kind: KindInternal, Message: "disk full", Err: errors.New("ENOSPC")}, "disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", BadPath("resolve", "../x", "escapes root"))
	assert.Equal(t, KindBadPath, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindBadPath))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindInternal))

	inner := Internal("copy", "a.jpg", fs.ErrPermission)
	assert.ErrorIs(t, inner, fs.ErrPermission)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindBadPath))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindBadRequest))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(""))
}
