package assetstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func jetStream(t *testing.T) nats.JetStreamContext {
	t.Helper()
	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := nc.JetStream()
	require.NoError(t, err)
	return js
}

func TestPutFileAndGet(t *testing.T) {
	js := jetStream(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(js, "LESSON_AUDIO", log)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "lesson-abc.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF fake audio"), 0o644))

	key, err := store.PutFile(context.Background(), path, map[string]string{"lesson_id": "abc"})
	require.NoError(t, err)
	require.Equal(t, "lesson-abc.wav", key)

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "RIFF fake audio", string(data))

	// binding to an existing bucket works
	again, err := Open(js, "LESSON_AUDIO", log)
	require.NoError(t, err)
	data, err = again.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	require.NoError(t, store.Delete(key))
	_, err = store.Get(context.Background(), key)
	require.Error(t, err)
}

func TestOpenRequiresBucket(t *testing.T) {
	_, err := Open(nil, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
