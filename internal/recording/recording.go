// Package recording holds the captured-audio payload type and the sources
// that dereference a recording handle (URL or object-store key) to bytes.
package recording

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brightclass/speech_service/internal/errors"
)

// Recording is an immutable audio payload plus its declared content type.
type Recording struct {
	Data        []byte
	ContentType string
}

// Ext derives the file extension from the declared content type. Container
// hints win over exact MIME matching because browsers report types like
// "video/webm;codecs=opus".
func (r *Recording) Ext() string {
	switch {
	case strings.Contains(r.ContentType, "mp4"):
		return ".mp4"
	case strings.Contains(r.ContentType, "webm"):
		return ".webm"
	default:
		return ".bin"
	}
}

// Filename returns the upload filename for the audio part.
func (r *Recording) Filename() string {
	return "recording" + r.Ext()
}

// Source dereferences a recording handle to its payload.
type Source interface {
	Resolve(ctx context.Context, handle string) (*Recording, error)
}

// HTTPSource fetches recordings over HTTP(S).
type HTTPSource struct {
	httpClient *http.Client
}

// NewHTTPSource creates an HTTP recording source.
func NewHTTPSource() *HTTPSource {
	return &HTTPSource{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Resolve fetches the recording at the given URL.
func (s *HTTPSource) Resolve(ctx context.Context, handle string) (*Recording, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, handle, nil)
	if err != nil {
		return nil, errors.RecordingUnavailable(handle, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.RecordingUnavailable(handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.RecordingUnavailable(handle, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.RecordingUnavailable(handle, err)
	}
	if len(data) == 0 {
		return nil, errors.RecordingUnavailable(handle, fmt.Errorf("empty body"))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Recording{Data: data, ContentType: contentType}, nil
}

// ObjectStore is the subset of an object-storage client needed to read a
// stored recording.
type ObjectStore interface {
	Get(ctx context.Context, key string) (data []byte, contentType string, err error)
}

// StoreSource reads recordings from an object store by key.
type StoreSource struct {
	store ObjectStore
}

// NewStoreSource creates an object-store recording source.
func NewStoreSource(store ObjectStore) *StoreSource {
	return &StoreSource{store: store}
}

// Resolve reads the recording stored under the given key.
func (s *StoreSource) Resolve(ctx context.Context, handle string) (*Recording, error) {
	data, contentType, err := s.store.Get(ctx, handle)
	if err != nil {
		return nil, errors.RecordingUnavailable(handle, err)
	}
	if len(data) == 0 {
		return nil, errors.RecordingUnavailable(handle, fmt.Errorf("empty object"))
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Recording{Data: data, ContentType: contentType}, nil
}

// Resolver routes a handle to the right source: absolute HTTP(S) URLs are
// fetched, anything else is treated as an object-store key.
type Resolver struct {
	http  Source
	store Source
}

// NewResolver creates a Resolver. Either source may be nil; resolving a
// handle that needs the missing source fails with RECORDING_UNAVAILABLE.
func NewResolver(httpSource, storeSource Source) *Resolver {
	return &Resolver{http: httpSource, store: storeSource}
}

// Resolve dereferences the handle via the matching source.
func (r *Resolver) Resolve(ctx context.Context, handle string) (*Recording, error) {
	if handle == "" {
		return nil, errors.RecordingUnavailable(handle, fmt.Errorf("empty handle"))
	}

	if strings.HasPrefix(handle, "http://") || strings.HasPrefix(handle, "https://") {
		if r.http == nil {
			return nil, errors.RecordingUnavailable(handle, fmt.Errorf("no HTTP source configured"))
		}
		return r.http.Resolve(ctx, handle)
	}

	if r.store == nil {
		return nil, errors.RecordingUnavailable(handle, fmt.Errorf("no object store configured"))
	}
	return r.store.Resolve(ctx, handle)
}
