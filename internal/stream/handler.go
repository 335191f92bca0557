package stream

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/himanishpuri/TapSense/pkg/logger"
	"github.com/himanishpuri/TapSense/pkg/tapsense"
)

const (
	maxMessageBytes = 1 << 20
	idleTimeout     = 60 * time.Second
	writeTimeout    = 5 * time.Second
)

// Handler upgrades GET requests to websocket detection sessions. Clients
// send binary s16le interleaved PCM and text commands ("flush", "reset");
// the server answers with JSON Messages.
type Handler struct {
	upgrader    websocket.Upgrader
	detector    func() tapsense.DetectorConfig
	defaultRate int
	log         *logger.Logger
	clients     atomic.Uint64
}

// NewHandler builds a Handler. detector is consulted on every new
// connection so reloaded tuning applies to later sessions.
func NewHandler(detector func() tapsense.DetectorConfig, defaultRate int, allowedOrigins []string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.GetLogger()
	}
	h := &Handler{
		detector:    detector,
		defaultRate: defaultRate,
		log:         log.With("[stream]"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowedOrigins)
		},
	}
	return h
}

// originAllowed accepts requests without an Origin header, same-host
// origins, localhost, and anything listed in allowed ("*" allows all).
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return true
		}
	}
	return false
}

func (h *Handler) parseOptions(q url.Values) (Options, error) {
	opts := Options{
		Detector:   h.detector(),
		SampleRate: h.defaultRate,
		Channels:   2,
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 1 && n != 2) {
			return opts, fmt.Errorf("channels must be 1 or 2")
		}
		opts.Channels = n
	}
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("rate must be a positive integer")
		}
		opts.SampleRate = n
	}
	if v := q.Get("presence"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("presence must be a boolean")
		}
		opts.Presence = b
	}
	return opts, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts, err := h.parseOptions(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := NewSession(opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Warnf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	id := h.clients.Add(1)
	log := h.log.With(fmt.Sprintf("client=%d", id))
	log.Infof("opened from %s (channels=%d rate=%d presence=%v)", r.RemoteAddr, opts.Channels, opts.SampleRate, opts.Presence)

	h.run(conn, session, opts, log)
}

func (h *Handler) run(conn *websocket.Conn, session *Session, opts Options, log *logger.Logger) {
	var writeErr error
	send := func(m Message) {
		if writeErr != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		writeErr = conn.WriteJSON(m)
	}

	cfg := opts.Detector
	send(Message{Type: TypeHello, Config: &cfg})

	conn.SetReadLimit(maxMessageBytes)
	for writeErr == nil {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("read: %v", err)
			}
			break
		}

		switch kind {
		case websocket.BinaryMessage:
			err = session.Feed(data, send)
		case websocket.TextMessage:
			err = h.command(session, strings.TrimSpace(string(data)), send)
		}
		if err != nil {
			log.Warnf("%v", err)
			send(Message{Type: TypeError, Error: err.Error()})
		}
	}

	if writeErr != nil {
		log.Warnf("write: %v", writeErr)
	}
	sum := session.Summary()
	log.Infof("closed after %d blocks, %d taps", sum.Blocks, sum.Taps)
}

func (h *Handler) command(session *Session, cmd string, send func(Message)) error {
	switch cmd {
	case "flush":
		if err := session.Flush(send); err != nil {
			return err
		}
		send(session.Summary())
	case "reset":
		session.Reset()
		send(session.Summary())
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
