// Package datarpc implements the real-time subscription layer of the crawl
// monitoring dashboard: one websocket connection multiplexes any number of
// live queries against the jobs and pages feeds.
//
// Each connection gets a session. A session owns its subscriptions, an
// outbound queue for heartbeat batching, and the identifier-reconciliation
// tables of the jobs feed. All routing and sending for one session happens
// on a single goroutine; storage links and the crawl signal bus hand their
// notifications off through a channel.
//
//	http.Handle("/ws-jobs-data", datarpc.JobsHandler(cfg))
//	http.Handle("/ws-pages-data", datarpc.PagesHandler(cfg))
package datarpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/thezedwards/arachnado/crawl"
	"github.com/thezedwards/arachnado/idgen"
	"github.com/thezedwards/arachnado/query"
	"github.com/thezedwards/arachnado/storage"
)

// DefaultMaxMessageSize caps a single serialized outbound event frame.
const DefaultMaxMessageSize = 1 << 20

// Config wires a session's collaborators.
type Config struct {
	// Jobs is the persistent job store (jobs feed).
	Jobs *storage.JobStore
	// Pages is the persistent page store (pages feed).
	Pages *storage.PageStore
	// Bus carries upstream crawl signals (jobs feed). May be nil.
	Bus *crawl.Bus
	// Source yields job payloads for the spider-closed resync broadcast.
	// Defaults to Jobs.
	Source crawl.JobSource
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// MaxMessageSize defaults to DefaultMaxMessageSize.
	MaxMessageSize int
	// TailInterval is the storage-link change-detection interval.
	TailInterval time.Duration
}

// pendingEvent sits in the outbound queue while the session is in delay mode.
type pendingEvent struct {
	Event string
	Data  any
}

type notificationKind int

const (
	kindEvent  notificationKind = iota
	kindResync                  // spider closed; rebroadcast job states
)

// notification is one unit of work handed to the session loop by a storage
// link or the signal bus.
type notification struct {
	kind  notificationKind
	subID string // originating subscription, "" for bus signals
	event string
	data  any
}

// subscription is one registered live query.
type subscription struct {
	id   string
	link *storage.Tailer
	// jobIDs is the crawl-id visibility set (jobs feed only). Populated as
	// matching jobs are first observed tailed, never pruned.
	jobIDs map[string]struct{}
}

// feed is the per-variant half of a session: the jobs and pages routers.
type feed interface {
	route(n notification)
	dispatch(req rpcRequest) (any, *rpcError)
	shutdown()
}

// session is the shared core of a jobs or pages connection.
type session struct {
	// id is the connection id, carried in every log line of the session.
	id           string
	transport    Transport
	logger       *slog.Logger
	maxMsgSize   int
	tailInterval time.Duration
	feed         feed

	ctx    context.Context
	cancel context.CancelFunc

	events  chan notification
	calls   chan rpcCall
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	// Loop-owned state. Only the run goroutine touches these.
	subs      map[string]*subscription
	nextSub   int
	queue     []pendingEvent
	delayMode bool
	hb        *time.Ticker
	hbC       <-chan time.Time
	batchable map[string]struct{}
}

func newSession(t Transport, cfg Config, batchable map[string]struct{}) *session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxMsg := cfg.MaxMessageSize
	if maxMsg <= 0 {
		maxMsg = DefaultMaxMessageSize
	}
	id := idgen.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:           id,
		transport:    t,
		logger:       logger.With("conn", id),
		maxMsgSize:   maxMsg,
		tailInterval: cfg.TailInterval,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan notification, 1024),
		calls:        make(chan rpcCall, 16),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		subs:         make(map[string]*subscription),
		batchable:    batchable,
	}
}

// post hands a notification to the session loop. It gives up when the
// session is closing so storage links never block on a dead session.
func (s *session) post(n notification) {
	select {
	case s.events <- n:
	case <-s.closing:
	}
}

func (s *session) postCall(c rpcCall) {
	select {
	case s.calls <- c:
	case <-s.closing:
	}
}

// run is the session's single thread of control: one notification, call, or
// heartbeat tick is fully processed before the next.
func (s *session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.closing:
			s.teardown()
			return
		case c := <-s.calls:
			s.handleCall(c)
		case n := <-s.events:
			if n.subID != "" {
				if _, ok := s.subs[n.subID]; !ok {
					continue // subscription cancelled; drop stale notification
				}
			}
			s.feed.route(n)
		case <-s.hbC:
			s.sendUpdates()
		}
	}
}

// Close tears down every active subscription, stops the heartbeat, and
// unregisters from upstream signals. Safe to call repeatedly; it returns
// once the session loop has exited.
func (s *session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	<-s.done
}

func (s *session) teardown() {
	for _, sub := range s.subs {
		sub.link.Stop()
	}
	s.subs = make(map[string]*subscription)
	if s.hb != nil {
		s.hb.Stop()
	}
	s.cancel()
	s.feed.shutdown()
	s.logger.Info("connection closed")
}

// nextSubID returns the next dense subscription id. Ids are monotonic and
// never reused within a session, even after cancellation.
func (s *session) nextSubID() string {
	id := strconv.Itoa(s.nextSub)
	s.nextSub++
	return id
}

// register records the subscription and starts its storage link watching
// under the given predicate.
func (s *session) register(id string, link *storage.Tailer, q query.Query) {
	s.subs[id] = &subscription{id: id, link: link, jobIDs: make(map[string]struct{})}
	link.Subscribe(q)
}

// cancelSubscription removes the named subscription and stops its storage
// link. It reports whether the subscription existed.
func (s *session) cancelSubscription(id string) bool {
	sub, ok := s.subs[id]
	if !ok {
		return false
	}
	delete(s.subs, id)
	sub.link.Stop()
	return true
}

// notifyFor returns the storage-link callback that forwards notifications
// for subscription id into the session loop.
func (s *session) notifyFor(id string) storage.NotifyFunc {
	return func(event string, data map[string]any) {
		s.post(notification{subID: id, event: event, data: data})
	}
}

// initHeartbeat switches the session into delay mode and starts the
// heartbeat. Only the first call with a positive delay takes effect for the
// life of the session; a non-positive delay is a no-op.
func (s *session) initHeartbeat(updateDelay time.Duration) {
	if updateDelay <= 0 || s.hb != nil {
		return
	}
	s.delayMode = true
	s.hb = time.NewTicker(updateDelay)
	s.hbC = s.hb.C
}

// deliver queues the event when it is batchable and the session is in delay
// mode, otherwise sends it immediately.
func (s *session) deliver(event string, data any) {
	if _, ok := s.batchable[event]; ok && s.delayMode {
		s.queue = append(s.queue, pendingEvent{Event: event, Data: data})
		return
	}
	s.sendEvent(event, data)
}

// sendUpdates drains the outbound queue in FIFO order.
func (s *session) sendUpdates() {
	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.sendEvent(item.Event, item.Data)
	}
}

type eventFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// sendEvent serializes {event, data} and writes it to the transport.
// Oversized frames are dropped whole, never partially sent.
func (s *session) sendEvent(event string, data any) {
	frame, err := json.Marshal(eventFrame{Event: event, Data: data})
	if err != nil {
		s.logger.Warn("event serialization failed", "event", event, "error", err)
		return
	}
	if len(frame) >= s.maxMsgSize {
		s.logger.Warn("dropping oversized event", "event", event, "size", len(frame))
		return
	}
	if err := s.transport.WriteMessage(frame); err != nil {
		// Transport failures belong to the connection infrastructure; the
		// read pump will observe the dead connection and close the session.
		s.logger.Warn("event write failed", "event", event, "error", err)
	}
}
