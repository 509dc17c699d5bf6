package trajectory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/internal/ctxlog"
	"github.com/samuelfneumann/goloco/physics"
)

// server is a mock remote source counting its requests
type server struct {
	*httptest.Server
	requests atomic.Int64

	mu       sync.Mutex
	archives map[string][]byte // by path
	failures int               // requests to fail with 503 before serving
	delay    time.Duration
}

func newServer(t *testing.T) *server {
	s := &server{archives: make(map[string][]byte)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *server) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.mu.Lock()
	delay, fail := s.delay, s.failures > 0
	if fail {
		s.failures--
	}
	data, ok := s.archives[r.URL.Path]
	s.mu.Unlock()

	time.Sleep(delay)
	if fail {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

// publish serves an archive of a trajectory synthesized on c
func (s *server) publish(t *testing.T, c *physics.Compiled, id ID) *Trajectory {
	traj := synth(t, c, id)
	data, err := Encode(traj)
	require.NoError(t, err)
	s.put(id, data)
	return traj
}

func (s *server) put(id ID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives["/"+RemoteVersion+"/"+id.String()+".traj"] = data
}

func (s *server) set(delay time.Duration, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay, s.failures = delay, failures
}

func (s *server) source() *HTTPSource {
	src := NewHTTPSource(s.URL)
	src.Backoff = time.Millisecond
	src.Attempts = 3
	return src
}

func newCache(t *testing.T, dir string, src Source) *Cache {
	c, err := NewCache(dir, src, WithLogger(ctxlog.Discard()))
	require.NoError(t, err)
	return c
}

func TestCacheSingleFlight(t *testing.T) {
	m := compiled(t, "UnitreeG1")
	srv := newServer(t)
	srv.set(50*time.Millisecond, 0)
	id := ID{"UnitreeG1", "default/walk"}
	want := srv.publish(t, m, id)

	cache := newCache(t, t.TempDir(), srv.source())

	const callers = 8
	results := make([]*Expanded, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), id, m)
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.EqualValues(t, 1, srv.requests.Load())
	stats := cache.Stats()
	assert.EqualValues(t, 1, stats.Fetches)
	assert.EqualValues(t, 1, stats.Expansions)
	assert.True(t, mat.Equal(want.QPos, results[0].QPos))
}

func TestCacheSequential(t *testing.T) {
	m := compiled(t, "UnitreeG1")
	srv := newServer(t)
	id := ID{"UnitreeG1", "default/walk"}
	srv.publish(t, m, id)

	dir := t.TempDir()
	cache := newCache(t, dir, srv.source())
	ctx := context.Background()

	first, err := cache.Get(ctx, id, m)
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.requests.Load())

	second, err := cache.Get(ctx, id, m)
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.requests.Load())
	assert.Same(t, first, second)
	assert.Equal(t, Stats{Fetches: 1, Expansions: 1, Hits: 1}, cache.Stats())

	// A new cache over the same directory is served from disk
	reopened := newCache(t, dir, srv.source())
	third, err := reopened.Get(ctx, id, m)
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.requests.Load())
	assert.Equal(t, Stats{Hits: 1}, reopened.Stats())
	assert.True(t, mat.Equal(first.XPos, third.XPos))
	assert.True(t, mat.Equal(first.AngVel, third.AngVel))
	assert.Equal(t, first.Bodies, third.Bodies)
}

func TestCacheKeyedByModel(t *testing.T) {
	g1 := compiled(t, "UnitreeG1")
	srv := newServer(t)
	id := ID{"UnitreeG1", "default/squat"}
	srv.publish(t, g1, id)

	assert.Equal(t, Key(id, g1.Identity), Key(id, g1.Identity))
	assert.NotEqual(t, Key(id, g1.Identity), Key(id, "other"))
	assert.NotEqual(t, Key(id, g1.Identity),
		Key(ID{"UnitreeG1", "default/walk"}, g1.Identity))

	// Same joint space, different identity
	other := &physics.Compiled{Tree: g1.Tree, Identity: "simplified"}
	cache := newCache(t, "", srv.source())
	_, err := cache.Get(context.Background(), id, g1)
	require.NoError(t, err)
	e, err := cache.Get(context.Background(), id, other)
	require.NoError(t, err)
	assert.Equal(t, "simplified", e.Model)
	assert.EqualValues(t, 2, cache.Stats().Expansions)
}

func TestCacheCorruptEntry(t *testing.T) {
	m := compiled(t, "UnitreeG1")
	srv := newServer(t)
	id := ID{"UnitreeG1", "default/run"}
	srv.publish(t, m, id)

	dir := t.TempDir()
	ctx := context.Background()
	cache := newCache(t, dir, srv.source())
	want, err := cache.Get(ctx, id, m)
	require.NoError(t, err)

	path := cache.Path(Key(id, m.Identity))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(magic)] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reopened := newCache(t, dir, srv.source())
	got, err := reopened.Get(ctx, id, m)
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.requests.Load())
	assert.Equal(t, Stats{Fetches: 1, Expansions: 1}, reopened.Stats())
	assert.True(t, mat.Equal(want.XPos, got.XPos))

	// The entry was rewritten
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	_, err = decodeExpanded(data)
	assert.NoError(t, err)
}

func TestCacheCorruptSource(t *testing.T) {
	m := compiled(t, "UnitreeG1")
	srv := newServer(t)
	id := ID{"UnitreeG1", "default/balance"}
	srv.put(id, []byte("LOCOTRAJ definitely not an archive"))

	cache := newCache(t, t.TempDir(), srv.source())
	_, err := cache.Get(context.Background(), id, m)
	require.ErrorIs(t, err, ErrDatasetCorruption)
	var corrupt *DatasetCorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, id, corrupt.ID)
	assert.EqualValues(t, 2, srv.requests.Load())

	// A fixed source is fetched again on the next request
	srv.publish(t, m, id)
	_, err = cache.Get(context.Background(), id, m)
	require.NoError(t, err)
	assert.EqualValues(t, 3, srv.requests.Load())
}

func TestCacheMismatchedArchive(t *testing.T) {
	m := compiled(t, "UnitreeG1")
	srv := newServer(t)
	id := ID{"UnitreeG1", "default/walk"}
	data, err := Encode(synth(t, m, ID{"UnitreeG1", "default/run"}))
	require.NoError(t, err)
	srv.put(id, data)

	cache := newCache(t, "", srv.source())
	_, err = cache.Get(context.Background(), id, m)
	assert.ErrorIs(t, err, ErrDatasetCorruption)
}

func TestCacheNotFound(t *testing.T) {
	m := compiled(t, "UnitreeG1")
	srv := newServer(t)
	id := ID{"UnitreeG1", "lafan1/fight1_subject2"}

	cache := newCache(t, t.TempDir(), srv.source())
	_, err := cache.Get(context.Background(), id, m)
	require.ErrorIs(t, err, ErrDatasetNotFound)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
	var notFound *DatasetNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, id, notFound.ID)
	assert.EqualValues(t, 1, srv.requests.Load())
}

func TestCacheTransient(t *testing.T) {
	m := compiled(t, "UnitreeG1")
	srv := newServer(t)
	id := ID{"UnitreeG1", "default/walk"}
	srv.publish(t, m, id)

	t.Run("Recovers", func(t *testing.T) {
		srv.set(0, 2)
		cache := newCache(t, "", srv.source())
		_, err := cache.Get(context.Background(), id, m)
		require.NoError(t, err)
		assert.EqualValues(t, 3, srv.requests.Load())
		assert.EqualValues(t, 1, cache.Stats().Fetches)
	})

	t.Run("Unavailable", func(t *testing.T) {
		srv.requests.Store(0)
		srv.set(0, 100)
		cache := newCache(t, "", srv.source())
		_, err := cache.Get(context.Background(), id, m)
		require.ErrorIs(t, err, ErrSourceUnavailable)
		var unavailable *SourceUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, 3, unavailable.Attempts)
		assert.EqualValues(t, 3, srv.requests.Load())
	})
}

func TestCacheIncompatible(t *testing.T) {
	g1, h1 := compiled(t, "UnitreeG1"), compiled(t, "UnitreeH1")
	srv := newServer(t)
	id := ID{"UnitreeG1", "default/walk"}
	data, err := Encode(synth(t, h1, id))
	require.NoError(t, err)
	srv.put(id, data)

	cache := newCache(t, "", srv.source())
	_, err = cache.Get(context.Background(), id, g1)
	assert.ErrorIs(t, err, ErrIncompatibleTrajectory)
	assert.EqualValues(t, 0, cache.Stats().Expansions)
}

func TestCacheCancelledWait(t *testing.T) {
	m := compiled(t, "UnitreeG1")
	srv := newServer(t)
	srv.set(100*time.Millisecond, 0)
	id := ID{"UnitreeG1", "default/walk"}
	srv.publish(t, m, id)

	cache := newCache(t, "", srv.source())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := cache.Get(ctx, id, m)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned flight still completes for later callers
	_, err = cache.Get(context.Background(), id, m)
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.requests.Load())
}

func TestDirSource(t *testing.T) {
	m := compiled(t, "UnitreeH1")
	dir := t.TempDir()
	id := ID{"UnitreeH1", "lafan1/jumps1_subject1"}
	data, err := Encode(synth(t, m, id))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir+"/UnitreeH1/lafan1", 0o755))
	require.NoError(t, os.WriteFile(dir+"/UnitreeH1/lafan1/jumps1_subject1.traj",
		data, 0o644))

	cache := newCache(t, "", DirSource{Dir: dir})
	e, err := cache.Get(context.Background(), id, m)
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)

	_, err = cache.Get(context.Background(), ID{"UnitreeH1", "default/walk"}, m)
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestPopulate(t *testing.T) {
	m := compiled(t, "UnitreeH1")
	cache := newCache(t, t.TempDir(), SynthSource{Frames: 5})

	ids := IDs("UnitreeH1")[:6]
	var seen atomic.Int64
	err := cache.Populate(context.Background(), m, ids, 3,
		func(id ID, err error) {
			assert.NoError(t, err, id.String())
			seen.Add(1)
		})
	require.NoError(t, err)
	assert.EqualValues(t, len(ids), seen.Load())
	assert.EqualValues(t, len(ids), cache.Stats().Expansions)

	ids = append(ids, ID{"UnitreeH1", "default/moonwalk"})
	err = cache.Populate(context.Background(), m, ids, 3, nil)
	require.ErrorIs(t, err, ErrDatasetNotFound)
	assert.True(t, strings.Contains(err.Error(), "moonwalk"))
	assert.EqualValues(t, len(ids)-1, cache.Stats().Expansions)
}
