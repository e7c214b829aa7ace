package recording

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclass/speech_service/internal/errors"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        string
	}{
		{name: "webm audio", contentType: "audio/webm", want: "recording.webm"},
		{name: "webm with codecs", contentType: "video/webm;codecs=opus", want: "recording.webm"},
		{name: "mp4", contentType: "audio/mp4", want: "recording.mp4"},
		{name: "mp4 video container", contentType: "video/mp4", want: "recording.mp4"},
		{name: "unknown", contentType: "application/octet-stream", want: "recording.bin"},
		{name: "empty", contentType: "", want: "recording.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Recording{Data: []byte{1}, ContentType: tt.contentType}
			assert.Equal(t, tt.want, rec.Filename())
		})
	}
}

func TestHTTPSourceResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "audio/webm")
			w.Write([]byte("audio-bytes"))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource()

	t.Run("success", func(t *testing.T) {
		rec, err := src.Resolve(context.Background(), srv.URL+"/ok")
		require.NoError(t, err)
		assert.Equal(t, []byte("audio-bytes"), rec.Data)
		assert.Equal(t, "audio/webm", rec.ContentType)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := src.Resolve(context.Background(), srv.URL+"/missing")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrRecordingUnavailable))
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := src.Resolve(context.Background(), srv.URL+"/empty")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrRecordingUnavailable))
	})

	t.Run("unreachable host", func(t *testing.T) {
		_, err := src.Resolve(context.Background(), "http://127.0.0.1:1/recording")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrRecordingUnavailable))
	})
}

type fakeStore struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("no such key %q", key)
	}
	return data, f.types[key], nil
}

func TestStoreSourceResolve(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]byte{"recordings/a.webm": []byte("blob")},
		types:   map[string]string{"recordings/a.webm": "audio/webm"},
	}
	src := NewStoreSource(store)

	rec, err := src.Resolve(context.Background(), "recordings/a.webm")
	require.NoError(t, err)
	assert.Equal(t, "audio/webm", rec.ContentType)

	_, err = src.Resolve(context.Background(), "recordings/missing.webm")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRecordingUnavailable))
}

func TestResolverRouting(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]byte{"key-1": []byte("stored")},
		types:   map[string]string{"key-1": "audio/mp4"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/webm")
		w.Write([]byte("fetched"))
	}))
	defer srv.Close()

	resolver := NewResolver(NewHTTPSource(), NewStoreSource(store))

	rec, err := resolver.Resolve(context.Background(), srv.URL+"/r")
	require.NoError(t, err)
	assert.Equal(t, []byte("fetched"), rec.Data)

	rec, err = resolver.Resolve(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("stored"), rec.Data)

	_, err = resolver.Resolve(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRecordingUnavailable))
}

func TestResolverMissingSources(t *testing.T) {
	resolver := NewResolver(nil, nil)

	_, err := resolver.Resolve(context.Background(), "https://cdn.example.com/a.webm")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRecordingUnavailable))

	_, err = resolver.Resolve(context.Background(), "some/key")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRecordingUnavailable))
}
