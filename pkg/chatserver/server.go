package chatserver

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/events"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
	"github.com/MaxKeable/sloane-test-sub000/pkg/persistence/chatstore"
)

// Config wires the server's collaborators.
type Config struct {
	Addr        string
	Publisher   message.Publisher
	Subscriber  message.Subscriber
	Streamer    Streamer
	IdleTimeout time.Duration
	// JoinTimeout bounds how long a freshly upgraded socket may take to send
	// its join frame. Defaults to 10 seconds.
	JoinTimeout time.Duration
	// Store archives completed exchanges for hydration. Defaults to an
	// in-memory store.
	Store chatstore.MessageStore
}

// Server accepts questions over HTTP, streams replies through the broker,
// and fans them out to conversation rooms over websockets.
type Server struct {
	cfg      Config
	pub      message.Publisher
	manager  *ConvManager
	streamer Streamer
	store    chatstore.MessageStore
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Publisher == nil || cfg.Subscriber == nil {
		return nil, errors.New("chatserver: publisher and subscriber are required")
	}
	if cfg.Streamer == nil {
		cfg.Streamer = &EchoStreamer{Interval: 20 * time.Millisecond}
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.Store == nil {
		cfg.Store = chatstore.NewMemoryMessageStore(0)
	}

	s := &Server{
		cfg:      cfg,
		pub:      cfg.Publisher,
		manager:  NewConvManager(ctx, cfg.Subscriber, cfg.IdleTimeout),
		streamer: cfg.Streamer,
		store:    cfg.Store,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleSubmit)
	s.mux.HandleFunc("GET /api/conversations/{id}/history", s.handleHistory)
	s.mux.HandleFunc("GET /ws/{namespace}/{conversationID}", s.handleWS)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: s.mux}
	return s, nil
}

// Handler exposes the HTTP mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Manager exposes the conversation manager, mainly for tests.
func (s *Server) Manager() *ConvManager { return s.manager }

// Run serves HTTP until ctx is cancelled or a signal arrives, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("component", "chatserver").
			Str("addr", s.httpSrv.Addr).
			Msg("listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.manager.CloseAll()
		return s.httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type submitRequest struct {
	Question   string `json:"question"`
	Namespace  string `json:"namespace,omitempty"`
	Attachment *struct {
		Type string `json:"type"`
		URL  string `json:"url"`
		Name string `json:"name,omitempty"`
	} `json:"attachment,omitempty"`
}

type submitResponse struct {
	Status string `json:"status"`
	RunID  string `json:"runId"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	if strings.TrimSpace(convID) == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is empty", http.StatusBadRequest)
		return
	}
	ns := transport.Namespace(req.Namespace)
	if ns == "" {
		ns = transport.NamespaceExpert
	}
	if !ns.Valid() {
		http.Error(w, "unknown namespace", http.StatusBadRequest)
		return
	}

	conv, err := s.manager.GetOrCreate(ns, convID)
	if err != nil {
		log.Error().
			Err(err).
			Str("component", "chatserver").
			Str("conv_id", convID).
			Msg("could not create conversation")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	runCtx, runID := conv.BeginRun(context.Background())
	go s.runStream(runCtx, conv, runID, req.Question)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitResponse{Status: "accepted", RunID: runID})
}

// runStream drives the streamer for one question and publishes its output to
// the conversation topic. The terminal event always carries the complete
// reply, so clients that missed deltas still converge on the full text.
func (s *Server) runStream(ctx context.Context, conv *Conversation, runID, question string) {
	topic := TopicForConversation(conv.Namespace, conv.ID)
	req := StreamRequest{
		ConversationID: conv.ID,
		Namespace:      string(conv.Namespace),
		Question:       question,
	}

	final, err := s.streamer.Stream(ctx, req, func(delta string) {
		s.publish(topic, runID, events.NewEventDelta(conv.ID, delta))
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Debug().
				Str("component", "chatserver").
				Str("conv_id", conv.ID).
				Str("run_id", runID).
				Msg("stream run cancelled")
			return
		}
		log.Error().
			Err(err).
			Str("component", "chatserver").
			Str("conv_id", conv.ID).
			Msg("streamer failed")
		final = "Something went wrong while generating a reply."
	}
	s.publish(topic, runID, events.NewEventStreamEnd(conv.ID, final))

	if err := s.store.Append(context.Background(), chatstore.ExchangeRecord{
		ConvID:      conv.ID,
		RunID:       runID,
		Question:    question,
		Answer:      final,
		CreatedAtMs: time.Now().UnixMilli(),
	}); err != nil {
		log.Warn().
			Err(err).
			Str("component", "chatserver").
			Str("conv_id", conv.ID).
			Msg("could not archive exchange")
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	if strings.TrimSpace(convID) == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}
	recs, err := s.store.History(r.Context(), convID, 0)
	if err != nil {
		log.Error().
			Err(err).
			Str("component", "chatserver").
			Str("conv_id", convID).
			Msg("history lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []chatstore.ExchangeRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recs)
}

func (s *Server) publish(topic, runID string, ev events.Event) {
	payload, err := events.Encode(ev)
	if err != nil {
		log.Error().
			Err(err).
			Str("component", "chatserver").
			Str("topic", topic).
			Msg("could not encode event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(runIDMetadataKey, runID)
	if err := s.pub.Publish(topic, msg); err != nil {
		log.Error().
			Err(err).
			Str("component", "chatserver").
			Str("topic", topic).
			Msg("publish failed")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ns := transport.Namespace(r.PathValue("namespace"))
	convID := r.PathValue("conversationID")
	if !ns.Valid() || strings.TrimSpace(convID) == "" {
		http.Error(w, "bad room path", http.StatusBadRequest)
		return
	}

	conv, err := s.manager.GetOrCreate(ns, convID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().
			Err(err).
			Str("component", "chatserver").
			Str("conv_id", convID).
			Msg("ws upgrade failed")
		return
	}

	// The first frame must be a join for this room; anything else is a
	// client bug and the socket is refused. The read is bounded so a silent
	// client cannot pin this handler goroutine.
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.JoinTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return
	}
	ev, err := events.NewEventFromJSON(data)
	if err != nil || ev.Type() != events.EventTypeJoin || ev.ConversationID() != convID {
		log.Warn().
			Str("component", "chatserver").
			Str("conv_id", convID).
			Msg("rejecting socket without valid join frame")
		_ = ws.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	conv.Pool.Add(ws)
	log.Debug().
		Str("component", "chatserver").
		Str("conv_id", convID).
		Str("namespace", string(ns)).
		Int("members", conv.Pool.Count()).
		Msg("member joined room")

	// Drain the socket; inbound frames after the join are ignored. A read
	// error means the member is gone.
	go func() {
		defer conv.Pool.Remove(ws)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"conversations": s.manager.Count(),
	})
}
