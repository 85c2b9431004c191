package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABERsara/worldplay-media/internal/app"
	"github.com/ABERsara/worldplay-media/internal/config"
	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/engine"
	"github.com/ABERsara/worldplay-media/internal/recording"
)

type fakeRouter struct {
	mu          sync.Mutex
	canConsume  bool
	closed      bool
	nextID      int
	consumeErr  error
}

func (f *fakeRouter) Capabilities() engine.RTPCapabilities {
	return engine.RTPCapabilities{Codecs: engine.DefaultCodecs()}
}

func (f *fakeRouter) CreateTransport(ctx context.Context) (app.MediaTransport, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("t%d", f.nextID)
	f.mu.Unlock()
	return &fakeTransport{id: id, router: f}, nil
}

func (f *fakeRouter) CanConsume(string, engine.RTPCapabilities) bool { return f.canConsume }
func (f *fakeRouter) Close()                                         { f.closed = true }

type fakeTransport struct {
	id        string
	router    *fakeRouter
	connected bool
	closed    bool
	mu        sync.Mutex
	nextID    int
}

func (f *fakeTransport) ID() string                            { return f.id }
func (f *fakeTransport) ICEParameters() engine.ICEParameters   { return engine.ICEParameters{UsernameFragment: "ufrag"} }
func (f *fakeTransport) ICECandidates() []engine.ICECandidate  { return nil }
func (f *fakeTransport) DTLSParameters() engine.DTLSParameters { return engine.DTLSParameters{Role: "auto"} }

func (f *fakeTransport) State() string {
	if f.connected {
		return "connected"
	}
	return "created"
}

func (f *fakeTransport) Connect(ctx context.Context, remoteICE *engine.ICEParameters, remoteDTLS engine.DTLSParameters) error {
	if f.connected {
		return fmt.Errorf("%w: already connected", domain.ErrPrecondition)
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Produce(ctx context.Context, kind domain.MediaKind, params engine.RTPParameters) (app.MediaProducer, error) {
	if !f.connected {
		return nil, fmt.Errorf("%w: transport not connected", domain.ErrPrecondition)
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("%s-p%d", f.id, f.nextID)
	f.mu.Unlock()
	return &fakeProducer{id: id, kind: kind}, nil
}

func (f *fakeTransport) Consume(ctx context.Context, producerID string, caps engine.RTPCapabilities) (app.MediaConsumer, error) {
	if f.router.consumeErr != nil {
		return nil, f.router.consumeErr
	}
	if !f.connected {
		return nil, fmt.Errorf("%w: transport not connected", domain.ErrPrecondition)
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("%s-c%d", f.id, f.nextID)
	f.mu.Unlock()
	return &fakeConsumer{id: id, producerID: producerID}, nil
}

func (f *fakeTransport) Close() { f.closed = true }

type fakeProducer struct {
	id     string
	kind   domain.MediaKind
	closed bool
}

func (f *fakeProducer) ID() string                          { return f.id }
func (f *fakeProducer) Kind() domain.MediaKind              { return f.kind }
func (f *fakeProducer) RTPParameters() engine.RTPParameters { return engine.RTPParameters{} }
func (f *fakeProducer) MimeType() string                    { return "video/vp8" }
func (f *fakeProducer) Close()                              { f.closed = true }

type fakeConsumer struct {
	id         string
	producerID string
	resumed    bool
	closed     bool
}

func (f *fakeConsumer) ID() string                          { return f.id }
func (f *fakeConsumer) ProducerID() string                  { return f.producerID }
func (f *fakeConsumer) Kind() domain.MediaKind              { return domain.MediaVideo }
func (f *fakeConsumer) RTPParameters() engine.RTPParameters { return engine.RTPParameters{} }
func (f *fakeConsumer) Resume() error                       { f.resumed = true; return nil }
func (f *fakeConsumer) Close()                              { f.closed = true }

type fakeFactory struct {
	mu      sync.Mutex
	routers map[domain.SessionID]*fakeRouter
	calls   int
}

func (f *fakeFactory) CreateRouter(ctx context.Context, id domain.SessionID) (app.MediaRouter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r := &fakeRouter{canConsume: true}
	f.routers[id] = r
	return r, nil
}

type fakeStore struct {
	mu       sync.Mutex
	live     []domain.SessionID
	finished []domain.SessionID
}

func (f *fakeStore) SetLive(id domain.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = append(f.live, id)
}

func (f *fakeStore) SetFinished(id domain.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, id)
}

type eventSink struct {
	mu     sync.Mutex
	events []string
}

func (s *eventSink) TrySend(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newTestOrch(t *testing.T) (*Orchestrator, *fakeFactory, *fakeStore) {
	t.Helper()
	factory := &fakeFactory{routers: make(map[domain.SessionID]*fakeRouter)}
	store := &fakeStore{}
	o := &Orchestrator{
		Registry:   app.NewSessionRegistry(factory),
		Graph:      app.NewGraph(),
		Recordings: recording.NewManager(config.Recording{MediaPath: t.TempDir(), TapPortMin: 5004, TapPortMax: 5100}),
		Store:      store,
		OpTimeout:  time.Second,
	}
	return o, factory, store
}

func TestCreateRoomIdempotent(t *testing.T) {
	o, factory, _ := newTestOrch(t)
	ctx := context.Background()

	info1, err := o.CreateRoom(ctx, "s1", "host", &eventSink{})
	require.NoError(t, err)
	info2, err := o.CreateRoom(ctx, "s1", "host", &eventSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, factory.calls)
	assert.Equal(t, info1.Capabilities, info2.Capabilities)
}

func TestRoomInfoEncodesExplicitNullProducer(t *testing.T) {
	o, _, _ := newTestOrch(t)
	info, err := o.CreateRoom(context.Background(), "s1", "host", &eventSink{})
	require.NoError(t, err)

	b, err := json.Marshal(info)
	require.NoError(t, err)
	// Nothing playing yet still answers with the field, as null.
	assert.Contains(t, string(b), `"current_producer_id":null`)
}

func TestJoinUnknownSession(t *testing.T) {
	o, _, _ := newTestOrch(t)
	_, err := o.Join("nope", "viewer", &eventSink{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJoinTwiceGetsReminder(t *testing.T) {
	o, _, _ := newTestOrch(t)
	_, err := o.CreateRoom(context.Background(), "s1", "host", &eventSink{})
	require.NoError(t, err)

	sink := &eventSink{}
	_, err = o.Join("s1", "viewer", sink)
	require.NoError(t, err)
	assert.Empty(t, sink.got())

	info, err := o.Join("s1", "viewer", sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"joined"}, sink.got())
	assert.NotEmpty(t, info.Capabilities.Codecs)
}

func TestProduceBeforeConnect(t *testing.T) {
	o, _, _ := newTestOrch(t)
	ctx := context.Background()
	_, err := o.CreateRoom(ctx, "s1", "host", &eventSink{})
	require.NoError(t, err)
	ti, err := o.CreateTransport(ctx, "s1", "host")
	require.NoError(t, err)

	_, err = o.Produce(ctx, "s1", "host", domain.TransportID(ti.ID), domain.MediaVideo, engine.RTPParameters{})
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestBroadcastHappyPath(t *testing.T) {
	o, _, store := newTestOrch(t)
	ctx := context.Background()
	hostSink := &eventSink{}
	viewerSink := &eventSink{}

	_, err := o.CreateRoom(ctx, "s1", "host", hostSink)
	require.NoError(t, err)
	joinInfo, err := o.Join("s1", "viewer", viewerSink)
	require.NoError(t, err)
	assert.Nil(t, joinInfo.CurrentProducerID)

	ti, err := o.CreateTransport(ctx, "s1", "host")
	require.NoError(t, err)
	tid := domain.TransportID(ti.ID)
	require.NoError(t, o.ConnectTransport(ctx, tid, &engine.ICEParameters{}, engine.DTLSParameters{}))

	producerID, err := o.Produce(ctx, "s1", "host", tid, domain.MediaVideo, engine.RTPParameters{})
	require.NoError(t, err)

	// Viewer was told, host was not; the session is externally live.
	assert.Equal(t, []string{"new_producer"}, viewerSink.got())
	assert.Empty(t, hostSink.got())
	assert.Equal(t, []domain.SessionID{"s1"}, store.live)

	// A late joiner learns the current producer.
	lateInfo, err := o.Join("s1", "late", &eventSink{})
	require.NoError(t, err)
	require.NotNil(t, lateInfo.CurrentProducerID)
	assert.Equal(t, producerID, *lateInfo.CurrentProducerID)

	// Viewer consumes and resumes.
	vti, err := o.CreateTransport(ctx, "s1", "viewer")
	require.NoError(t, err)
	vtid := domain.TransportID(vti.ID)
	require.NoError(t, o.ConnectTransport(ctx, vtid, &engine.ICEParameters{}, engine.DTLSParameters{}))

	ci, err := o.Consume(ctx, "s1", vtid, domain.ProducerID(producerID), engine.RTPCapabilities{})
	require.NoError(t, err)
	assert.Equal(t, producerID, ci.ProducerID)
	require.NoError(t, o.ResumeConsumer(domain.ConsumerID(ci.ID)))
}

func TestConsumeCapabilityMismatch(t *testing.T) {
	o, factory, _ := newTestOrch(t)
	ctx := context.Background()
	_, err := o.CreateRoom(ctx, "s1", "host", &eventSink{})
	require.NoError(t, err)
	ti, err := o.CreateTransport(ctx, "s1", "host")
	require.NoError(t, err)
	tid := domain.TransportID(ti.ID)
	require.NoError(t, o.ConnectTransport(ctx, tid, &engine.ICEParameters{}, engine.DTLSParameters{}))
	producerID, err := o.Produce(ctx, "s1", "host", tid, domain.MediaVideo, engine.RTPParameters{})
	require.NoError(t, err)

	factory.routers["s1"].canConsume = false
	_, err = o.Consume(ctx, "s1", tid, domain.ProducerID(producerID), engine.RTPCapabilities{})
	assert.ErrorIs(t, err, domain.ErrCapabilityMismatch)
}

func TestConsumeUnknownProducer(t *testing.T) {
	o, _, _ := newTestOrch(t)
	ctx := context.Background()
	_, err := o.CreateRoom(ctx, "s1", "host", &eventSink{})
	require.NoError(t, err)
	ti, err := o.CreateTransport(ctx, "s1", "host")
	require.NoError(t, err)
	tid := domain.TransportID(ti.ID)
	require.NoError(t, o.ConnectTransport(ctx, tid, &engine.ICEParameters{}, engine.DTLSParameters{}))

	_, err = o.Consume(ctx, "s1", tid, "missing", engine.RTPCapabilities{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineTimeoutMapsToTimeout(t *testing.T) {
	o, factory, _ := newTestOrch(t)
	ctx := context.Background()
	_, err := o.CreateRoom(ctx, "s1", "host", &eventSink{})
	require.NoError(t, err)
	ti, err := o.CreateTransport(ctx, "s1", "host")
	require.NoError(t, err)
	tid := domain.TransportID(ti.ID)
	require.NoError(t, o.ConnectTransport(ctx, tid, &engine.ICEParameters{}, engine.DTLSParameters{}))
	producerID, err := o.Produce(ctx, "s1", "host", tid, domain.MediaVideo, engine.RTPParameters{})
	require.NoError(t, err)

	factory.routers["s1"].consumeErr = context.DeadlineExceeded
	_, err = o.Consume(ctx, "s1", tid, domain.ProducerID(producerID), engine.RTPCapabilities{})
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestHostDisconnectCascade(t *testing.T) {
	o, factory, store := newTestOrch(t)
	ctx := context.Background()
	viewerSink := &eventSink{}

	_, err := o.CreateRoom(ctx, "s1", "host", &eventSink{})
	require.NoError(t, err)
	_, err = o.Join("s1", "viewer", viewerSink)
	require.NoError(t, err)

	ti, err := o.CreateTransport(ctx, "s1", "host")
	require.NoError(t, err)
	tid := domain.TransportID(ti.ID)
	require.NoError(t, o.ConnectTransport(ctx, tid, &engine.ICEParameters{}, engine.DTLSParameters{}))
	_, err = o.Produce(ctx, "s1", "host", tid, domain.MediaVideo, engine.RTPParameters{})
	require.NoError(t, err)

	o.Disconnect("host")

	events := viewerSink.got()
	assert.Contains(t, events, "producer_closed")
	assert.Contains(t, events, "stream_ended")
	assert.Equal(t, []domain.SessionID{"s1"}, store.finished)
	assert.True(t, factory.routers["s1"].closed)
	_, ok := o.Registry.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, o.Registry.Count())

	// Disconnecting again is harmless.
	o.Disconnect("host")
	assert.Len(t, store.finished, 1)
}

func TestViewerDisconnectLeavesSession(t *testing.T) {
	o, factory, store := newTestOrch(t)
	ctx := context.Background()

	_, err := o.CreateRoom(ctx, "s1", "host", &eventSink{})
	require.NoError(t, err)
	_, err = o.Join("s1", "viewer", &eventSink{})
	require.NoError(t, err)
	_, err = o.CreateTransport(ctx, "s1", "viewer")
	require.NoError(t, err)

	o.Disconnect("viewer")

	assert.False(t, factory.routers["s1"].closed)
	assert.Empty(t, store.finished)
	s, ok := o.Registry.Get("s1")
	require.True(t, ok)
	assert.False(t, s.IsMember("viewer"))

	// The viewer can come back.
	_, err = o.Join("s1", "viewer", &eventSink{})
	assert.NoError(t, err)
}
