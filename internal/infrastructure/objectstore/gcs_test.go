package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	ctx      context.Context
	buf      bytes.Buffer
	writeErr error
	closeErr error
	closed   bool
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func (w *fakeWriter) open(ctx context.Context) io.WriteCloser {
	w.ctx = ctx
	return w
}

func TestWriteObject(t *testing.T) {
	t.Run("commits on close", func(t *testing.T) {
		w := &fakeWriter{}
		require.NoError(t, writeObject(context.Background(), w.open, []byte("png-bytes")))

		assert.True(t, w.closed)
		assert.Equal(t, "png-bytes", w.buf.String())
	})

	t.Run("failed write aborts without committing", func(t *testing.T) {
		w := &fakeWriter{writeErr: errors.New("connection reset")}
		err := writeObject(context.Background(), w.open, []byte("png-bytes"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.False(t, w.closed, "a partial object must not be committed")
		assert.ErrorIs(t, w.ctx.Err(), context.Canceled)
	})

	t.Run("close error is returned", func(t *testing.T) {
		w := &fakeWriter{closeErr: errors.New("precondition failed")}
		err := writeObject(context.Background(), w.open, []byte("png-bytes"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to upload")
	})
}
