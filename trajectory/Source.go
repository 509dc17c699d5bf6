package trajectory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/samuelfneumann/goloco/internal/ctxlog"
	"github.com/samuelfneumann/goloco/model"
)

// RemoteVersion is the dataset version requested from remote sources
const RemoteVersion = "v1"

// Source fetches trajectory archives. A Source must report missing
// trajectories with an error matching ErrDatasetNotFound and transient
// failures it gave up on with an error matching ErrSourceUnavailable.
type Source interface {
	Fetch(ctx context.Context, id ID) ([]byte, error)
}

// HTTPSource fetches archives from a remote server. Trajectory id is
// served at {URL}/{Version}/{robot}/{group}/{name}.traj.
type HTTPSource struct {
	URL     string
	Version string
	Client  *http.Client

	// Attempts is the maximum number of requests per fetch and Backoff
	// the delay before the first retry, doubled for each further retry
	Attempts int
	Backoff  time.Duration
}

// NewHTTPSource returns a new HTTPSource for the server at base with
// default retry settings
func NewHTTPSource(base string) *HTTPSource {
	return &HTTPSource{
		URL:      base,
		Version:  RemoteVersion,
		Client:   &http.Client{Timeout: 30 * time.Second},
		Attempts: 4,
		Backoff:  250 * time.Millisecond,
	}
}

// Path returns the address of trajectory id relative to the server root
func (h *HTTPSource) Path(id ID) (string, error) {
	version := h.Version
	if version == "" {
		version = RemoteVersion
	}
	return url.JoinPath(h.URL, version, id.Robot, id.Name+".traj")
}

// Fetch implements the Source interface. Server errors, rate limiting
// and network errors are retried with exponential backoff. A 404 is
// reported immediately as a DatasetNotFoundError.
func (h *HTTPSource) Fetch(ctx context.Context, id ID) ([]byte, error) {
	addr, err := h.Path(id)
	if err != nil {
		return nil, fmt.Errorf("fetch: %v", err)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	attempts := max(h.Attempts, 1)
	backoff := h.Backoff
	logger := ctxlog.FromContext(ctx)

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying trajectory fetch", "id", id.String(),
				"attempt", attempt, "backoff", backoff, "error", last)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		data, retry, err := h.get(ctx, client, addr)
		if err == nil {
			logger.Debug("fetched trajectory", "id", id.String(),
				"url", addr, "bytes", len(data))
			return data, nil
		}
		if !retry {
			if errors.Is(err, errNotFound) {
				return nil, fmt.Errorf("fetch: %w", &DatasetNotFoundError{ID: id})
			}
			return nil, fmt.Errorf("fetch: %w", err)
		}
		last = err
	}
	return nil, fmt.Errorf("fetch: %w", &SourceUnavailableError{ID: id,
		Attempts: attempts, Err: last})
}

var errNotFound = errors.New("not found")

// get performs a single request, reporting whether a failure may be
// retried
func (h *HTTPSource) get(ctx context.Context, client *http.Client,
	addr string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, err
		}
		return data, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, errNotFound
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server returned %v", resp.Status)
	default:
		return nil, false, fmt.Errorf("server returned %v", resp.Status)
	}
}

// DirSource reads archives from a local directory laid out like the
// remote server: {Dir}/{robot}/{group}/{name}.traj
type DirSource struct {
	Dir string
}

// Fetch implements the Source interface
func (d DirSource) Fetch(ctx context.Context, id ID) ([]byte, error) {
	path := filepath.Join(d.Dir, id.Robot, filepath.FromSlash(id.Name)+".traj")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("fetch: %w", &DatasetNotFoundError{ID: id})
	} else if err != nil {
		return nil, fmt.Errorf("fetch: %v", err)
	}
	ctxlog.FromContext(ctx).Debug("read trajectory", "id", id.String(),
		"path", path)
	return data, nil
}

// SynthSource generates archives locally from the embedded robot
// models instead of downloading recorded motions. It must be selected
// explicitly and is meant for offline use and tests.
type SynthSource struct {
	Frames    int
	Frequency float64
}

// Fetch implements the Source interface. Trajectories of robots without
// an embedded model are not found.
func (s SynthSource) Fetch(ctx context.Context, id ID) ([]byte, error) {
	if _, err := Qualify(id.Name); err != nil || !isRobot(id.Robot) {
		return nil, fmt.Errorf("fetch: %w", &DatasetNotFoundError{ID: id})
	}
	m, err := model.Load(id.Robot)
	if err != nil {
		return nil, fmt.Errorf("fetch: %v", err)
	}
	tree, err := m.Compile()
	if err != nil {
		return nil, fmt.Errorf("fetch: %v", err)
	}

	frames, freq := s.Frames, s.Frequency
	if frames <= 0 {
		frames = DefaultSynthFrames
	}
	if freq <= 0 {
		freq = DefaultSynthFrequency
	}
	t, err := Synthesize(tree, id, frames, freq)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("synthesized trajectory",
		slog.String("id", id.String()), slog.Int("frames", frames))
	return Encode(t)
}

func isRobot(name string) bool {
	for _, r := range model.Robots() {
		if r == name {
			return true
		}
	}
	return false
}
