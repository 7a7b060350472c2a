package postgres

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/logging"
	"github.com/hollowport/hollowport/internal/model"
)

// Startup-phase request codes from the PostgreSQL frontend/backend protocol.
const (
	protocolVersion30 = 196608
	sslRequestCode    = 80877103
	gssEncRequestCode = 80877104
	cancelRequestCode = 80877102
)

// maxMessageSize caps a single frontend message. Anything larger is treated
// as a malformed client and the connection is dropped.
const maxMessageSize = 1 << 20

// Server is the PostgreSQL protocol decoy. It speaks enough of the v3 wire
// protocol to hold a real client through startup, cleartext password
// authentication (which always "succeeds") and the query cycle, capturing
// credentials and SQL along the way. No query ever returns data.
type Server struct {
	cfg  *config.PostgresConfig
	sink model.Sink

	mu sync.Mutex
	ln net.Listener
}

func NewServer(cfg *config.PostgresConfig, sink model.Sink) *Server {
	return &Server{cfg: cfg, sink: sink}
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("postgres engine listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	logging.Info("[Postgres] Decoy listening on %s (honeypot %s)", s.cfg.ListenAddr, s.cfg.HoneypotID)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// closed listener means a clean shutdown
			return nil
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

type session struct {
	cfg    *config.PostgresConfig
	sink   model.Sink
	conn   net.Conn
	reader *bufio.Reader

	sourceIP string
	username string
	database string

	// prepared maps statement name to the SQL captured by Parse, and portals
	// maps portal name to the statement it was bound to, so Execute can be
	// attributed to the original query text.
	prepared map[string]string
	portals  map[string]string
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("[Postgres] Connection handler panic: %v", r)
		}
	}()

	conn.SetDeadline(time.Now().Add(5 * time.Minute))

	sess := &session{
		cfg:      s.cfg,
		sink:     s.sink,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		sourceIP: remoteIP(conn),
		prepared: make(map[string]string),
		portals:  make(map[string]string),
	}
	sess.run()
}

func (sess *session) run() {
	sess.observe("postgres_connection", model.LevelLow, map[string]interface{}{
		"port": sess.cfg.ListenAddr,
	})

	if !sess.startup() {
		return
	}
	if !sess.authenticate() {
		return
	}
	sess.queryLoop()
}

// startup consumes SSL and GSS encryption probes (refused with 'N'), drops
// cancel requests, and parses the v3 StartupMessage.
func (sess *session) startup() bool {
	for {
		body, err := sess.readStartupPacket()
		if err != nil {
			return false
		}
		if len(body) < 4 {
			return false
		}
		code := binary.BigEndian.Uint32(body[:4])
		switch code {
		case sslRequestCode, gssEncRequestCode:
			if _, err := sess.conn.Write([]byte{'N'}); err != nil {
				return false
			}
		case cancelRequestCode:
			return false
		case protocolVersion30:
			var msg pgproto3.StartupMessage
			if err := msg.Decode(body); err != nil {
				logging.Error("[Postgres] Malformed startup message from %s: %v", sess.sourceIP, err)
				return false
			}
			sess.username = strings.ToValidUTF8(msg.Parameters["user"], "�")
			sess.database = strings.ToValidUTF8(msg.Parameters["database"], "�")
			return true
		default:
			logging.Debug("[Postgres] Unknown startup code %d from %s", code, sess.sourceIP)
			return false
		}
	}
}

// authenticate demands a cleartext password, records whatever arrives and
// lets the client in regardless.
func (sess *session) authenticate() bool {
	if !sess.send(&pgproto3.AuthenticationCleartextPassword{}) {
		return false
	}

	typ, payload, err := sess.readMessage()
	if err != nil {
		return false
	}
	password := ""
	if typ == 'p' {
		var msg pgproto3.PasswordMessage
		if err := msg.Decode(payload); err != nil {
			logging.Error("[Postgres] Malformed password message from %s: %v", sess.sourceIP, err)
			return false
		}
		password = strings.ToValidUTF8(msg.Password, "�")
	}

	sess.observe("postgres_auth_attempt", model.LevelMedium, map[string]interface{}{
		"username": sess.username,
		"password": password,
		"database": sess.database,
	})

	ok := sess.send(&pgproto3.AuthenticationOk{}) &&
		sess.send(&pgproto3.ParameterStatus{Name: "server_version", Value: sess.cfg.ServerVersion}) &&
		sess.send(&pgproto3.ParameterStatus{Name: "server_encoding", Value: "UTF8"}) &&
		sess.send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"}) &&
		sess.send(&pgproto3.ParameterStatus{Name: "DateStyle", Value: "ISO, MDY"}) &&
		sess.send(&pgproto3.BackendKeyData{ProcessID: 12345, SecretKey: 67890}) &&
		sess.readyForQuery()
	return ok
}

func (sess *session) queryLoop() {
	for {
		typ, payload, err := sess.readMessage()
		if err != nil {
			return
		}
		switch typ {
		case 'Q':
			var msg pgproto3.Query
			if err := msg.Decode(payload); err != nil {
				return
			}
			sess.captureQuery(msg.String, "simple")
			if !sess.emptyResult() || !sess.readyForQuery() {
				return
			}
		case 'P':
			var msg pgproto3.Parse
			if err := msg.Decode(payload); err != nil {
				return
			}
			sess.prepared[msg.Name] = msg.Query
			sess.captureQuery(msg.Query, "prepared")
			if !sess.send(&pgproto3.ParseComplete{}) {
				return
			}
		case 'B':
			var msg pgproto3.Bind
			if err := msg.Decode(payload); err != nil {
				return
			}
			sess.portals[msg.DestinationPortal] = msg.PreparedStatement
			if !sess.send(&pgproto3.BindComplete{}) {
				return
			}
		case 'D':
			var msg pgproto3.Describe
			if err := msg.Decode(payload); err != nil {
				return
			}
			// statement-describe gets a parameter description first, or
			// drivers like pgx stall waiting for one
			if msg.ObjectType == 'S' && !sess.send(&pgproto3.ParameterDescription{}) {
				return
			}
			if !sess.send(&pgproto3.NoData{}) {
				return
			}
		case 'E':
			var msg pgproto3.Execute
			if err := msg.Decode(payload); err != nil {
				return
			}
			if query, ok := sess.prepared[sess.portals[msg.Portal]]; ok {
				sess.captureQuery(query, "execute")
			}
			if !sess.emptyResult() {
				return
			}
		case 'C':
			var msg pgproto3.Close
			if err := msg.Decode(payload); err != nil {
				return
			}
			if msg.ObjectType == 'P' {
				delete(sess.portals, msg.Name)
			} else {
				delete(sess.prepared, msg.Name)
			}
			if !sess.send(&pgproto3.CloseComplete{}) {
				return
			}
		case 'S':
			if !sess.readyForQuery() {
				return
			}
		case 'H':
			// writes are unbuffered, nothing to flush
		case 'X':
			return
		default:
			prefix := payload
			if len(prefix) > 32 {
				prefix = prefix[:32]
			}
			logging.Debug("[Postgres] Unhandled message type %q from %s: %s", typ, sess.sourceIP, hex.EncodeToString(prefix))
			if !sess.readyForQuery() {
				return
			}
		}
	}
}

func (sess *session) captureQuery(query, mode string) {
	// clients are not trusted to send valid UTF-8
	query = strings.ToValidUTF8(query, "�")
	sess.observe("postgres_query", model.LevelMedium, map[string]interface{}{
		"username": sess.username,
		"database": sess.database,
		"query":    query,
		"mode":     mode,
	})
}

// emptyResult answers any query with zero rows.
func (sess *session) emptyResult() bool {
	return sess.send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 0")})
}

func (sess *session) readyForQuery() bool {
	return sess.send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
}

func (sess *session) send(msg pgproto3.BackendMessage) bool {
	buf, err := msg.Encode(nil)
	if err != nil {
		logging.Error("[Postgres] Encode failure: %v", err)
		return false
	}
	if _, err := sess.conn.Write(buf); err != nil {
		return false
	}
	return true
}

// readStartupPacket reads a length-prefixed startup-phase packet (no type
// byte) and returns its body, protocol code included.
func (sess *session) readStartupPacket() ([]byte, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(sess.reader, head); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(head)
	if length < 4 || length > maxMessageSize {
		return nil, fmt.Errorf("startup packet length %d out of range", length)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(sess.reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

// readMessage reads one regular frontend message: a type byte, a 4-byte
// big-endian length that includes itself, then the payload.
func (sess *session) readMessage() (byte, []byte, error) {
	head := make([]byte, 5)
	if _, err := io.ReadFull(sess.reader, head); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(head[1:])
	if length < 4 || length > maxMessageSize {
		return 0, nil, fmt.Errorf("message length %d out of range", length)
	}
	payload := make([]byte, length-4)
	if _, err := io.ReadFull(sess.reader, payload); err != nil {
		return 0, nil, err
	}
	return head[0], payload, nil
}

func (sess *session) observe(eventType string, level int, details map[string]interface{}) {
	obs := model.Observation{
		HoneypotID: sess.cfg.HoneypotID,
		EventType:  eventType,
		Level:      level,
		SourceIP:   sess.sourceIP,
		Details:    details,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.sink.Submit(ctx, obs); err != nil {
		logging.Error("[Postgres] Failed to submit observation: %v", err)
	}
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
