package wsstream

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"callrelay/clients"
	"callrelay/event"
	"callrelay/mediastream"
	"callrelay/provider"
)

var (
	errClosed    = errors.New("wsstream: connection closed")
	errQueueFull = errors.New("wsstream: send queue full")
)

// Media receives the provider's stream lifecycle.
type Media interface {
	Start(info mediastream.StartInfo)
	Media(streamID, payload string) error
	Stop(streamID string) error
}

// Consoles tracks operator console bindings.
type Consoles interface {
	Register(tenantID, identity string, conn clients.Conn)
	Release(identity string, conn clients.Conn) bool
	Ack(identity string)
}

// Options tunes a Server.
type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	QueueSize    int
}

// Server upgrades HTTP requests to websocket connections and dispatches
// their messages.
type Server struct {
	media    Media
	consoles Consoles
	log      *logrus.Entry
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer creates a stream server.
func NewServer(media Media, consoles Consoles, opts Options, log *logrus.Entry) *Server {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Server{
		media:    media,
		consoles: consoles,
		log:      log,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	sess := &session{
		srv:     s,
		ws:      ws,
		log:     s.log.WithField("remote", r.RemoteAddr),
		streams: make(map[string]struct{}),
	}
	sess.run()
}

// session is the state of one websocket connection. A connection may carry
// provider media streams, an operator console registration, or both.
type session struct {
	srv *Server
	ws  *websocket.Conn
	log *logrus.Entry

	identity string
	console  *consoleConn
	streams  map[string]struct{}
}

func (s *session) run() {
	defer s.teardown()

	s.ws.SetReadLimit(s.srv.opts.ReadLimit)
	s.ws.SetPongHandler(func(string) error {
		if s.identity != "" {
			s.srv.consoles.Ack(s.identity)
		}
		return nil
	})

	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("read: %v", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			s.log.Debugf("dropping non-text frame (type %d)", mt)
			continue
		}
		msg, err := Parse(data)
		if err != nil {
			s.log.Debugf("dropped: %v", err)
			continue
		}
		s.handle(msg)
	}
}

func (s *session) handle(m Message) {
	switch m.Kind {
	case KindConnected:
		s.log.Debug("provider stream connected")

	case KindStart:
		params := m.Start.CustomParameters
		info := mediastream.StartInfo{
			StreamID:  m.StreamSID,
			CallSID:   m.Start.CallSID,
			TenantID:  params[provider.ParamTenantID],
			From:      params[provider.ParamFrom],
			To:        params[provider.ParamTo],
			Direction: provider.StreamDirection(params[provider.ParamDirection], m.Start.Tracks),
		}
		s.streams[m.StreamSID] = struct{}{}
		s.srv.media.Start(info)

	case KindMedia:
		if err := s.srv.media.Media(m.StreamSID, m.Media.Payload); err != nil {
			s.log.Debugf("media on %s dropped: %v", m.StreamSID, err)
		}

	case KindStop:
		delete(s.streams, m.StreamSID)
		if err := s.srv.media.Stop(m.StreamSID); err != nil {
			s.log.Debugf("stop %s: %v", m.StreamSID, err)
		}

	case KindMark:
		s.log.Tracef("mark on %s", m.StreamSID)

	case KindDTMF:
		if m.DTMF != nil {
			s.log.Debugf("dtmf %q on %s", m.DTMF.Digit, m.StreamSID)
		}

	case KindRegister:
		s.register(m.TenantID, m.Identity)

	case KindInfo:
		s.log.WithFields(logrus.Fields{
			"identity": s.identity,
			"type":     m.Type,
			"call":     m.CallSID,
		}).Info("console info")

	case KindUnknown:
		// Parse rejects these before dispatch.
	}
}

func (s *session) register(tenantID, identity string) {
	if s.console == nil {
		s.console = newConsoleConn(s.ws, s.srv.opts, s.log)
	}
	if s.identity != "" && s.identity != identity {
		s.srv.consoles.Release(s.identity, s.console)
	}
	s.identity = identity
	s.log = s.log.WithField("identity", identity)
	s.srv.consoles.Register(tenantID, identity, s.console)
	s.log.Infof("console registered under tenant %s", tenantID)
}

func (s *session) teardown() {
	// Streams whose stop never arrived still get their buffers released.
	for id := range s.streams {
		if err := s.srv.media.Stop(id); err != nil {
			s.log.Debugf("stop %s on disconnect: %v", id, err)
		}
	}
	if s.console != nil {
		if s.identity != "" {
			s.srv.consoles.Release(s.identity, s.console)
		}
		_ = s.console.Close()
	} else {
		_ = s.ws.Close()
	}
}

// consoleConn delivers events to one console through a FIFO queue drained by
// a single writer goroutine.
type consoleConn struct {
	ws           *websocket.Conn
	log          *logrus.Entry
	writeTimeout time.Duration

	out       chan event.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newConsoleConn(ws *websocket.Conn, opts Options, log *logrus.Entry) *consoleConn {
	c := &consoleConn{
		ws:           ws,
		log:          log,
		writeTimeout: opts.WriteTimeout,
		out:          make(chan event.Event, opts.QueueSize),
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *consoleConn) Send(ev event.Event) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}
	select {
	case c.out <- ev:
		return nil
	case <-c.done:
		return errClosed
	default:
		return errQueueFull
	}
}

func (c *consoleConn) Ping() error {
	select {
	case <-c.done:
		return errClosed
	default:
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *consoleConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *consoleConn) writeLoop() {
	for {
		select {
		case ev := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.log.Warnf("write %s: %v", ev.Type, err)
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
