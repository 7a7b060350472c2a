package postgres

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/model"
)

type captureSink struct {
	mu  sync.Mutex
	obs []model.Observation
}

func (c *captureSink) Submit(ctx context.Context, obs model.Observation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = append(c.obs, obs)
	return nil
}

func (c *captureSink) byType(eventType string) []model.Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Observation
	for _, o := range c.obs {
		if o.EventType == eventType {
			out = append(out, o)
		}
	}
	return out
}

// startSession wires a session to one end of a pipe and returns a frontend
// speaking the real wire protocol on the other end.
func startSession(t *testing.T) (*pgproto3.Frontend, net.Conn, *captureSink) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sink := &captureSink{}

	sess := &session{
		cfg: &config.PostgresConfig{
			Enabled:       true,
			ListenAddr:    ":0",
			HoneypotID:    "postgres-default",
			ServerVersion: "12.4",
		},
		sink:     sink,
		conn:     serverConn,
		reader:   bufio.NewReader(serverConn),
		sourceIP: "203.0.113.9",
		prepared: make(map[string]string),
		portals:  make(map[string]string),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.run()
		serverConn.Close()
	}()
	t.Cleanup(func() {
		clientConn.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not terminate")
		}
	})

	return pgproto3.NewFrontend(clientConn, clientConn), clientConn, sink
}

func login(t *testing.T, fe *pgproto3.Frontend, user, password string) {
	t.Helper()
	fe.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": user, "database": "app"},
	})
	require.NoError(t, fe.Flush())

	msg, err := fe.Receive()
	require.NoError(t, err)
	require.IsType(t, &pgproto3.AuthenticationCleartextPassword{}, msg)

	fe.Send(&pgproto3.PasswordMessage{Password: password})
	require.NoError(t, fe.Flush())

	sawAuthOk := false
	sawKeyData := false
	params := map[string]string{}
	for {
		msg, err := fe.Receive()
		require.NoError(t, err)
		switch m := msg.(type) {
		case *pgproto3.AuthenticationOk:
			sawAuthOk = true
		case *pgproto3.ParameterStatus:
			params[m.Name] = m.Value
		case *pgproto3.BackendKeyData:
			sawKeyData = true
		case *pgproto3.ReadyForQuery:
			assert.True(t, sawAuthOk, "AuthenticationOk before ReadyForQuery")
			assert.True(t, sawKeyData, "BackendKeyData before ReadyForQuery")
			assert.Equal(t, "12.4", params["server_version"])
			return
		default:
			t.Fatalf("unexpected message during login: %T", msg)
		}
	}
}

func TestSSLProbeRefusedThenLogin(t *testing.T) {
	fe, clientConn, sink := startSession(t)

	fe.Send(&pgproto3.SSLRequest{})
	require.NoError(t, fe.Flush())

	reply := make([]byte, 1)
	_, err := clientConn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, byte('N'), reply[0])

	login(t, fe, "svc_report", "hunter2")

	conns := sink.byType("postgres_connection")
	require.Len(t, conns, 1)
	assert.Equal(t, model.LevelLow, conns[0].Level)

	auths := sink.byType("postgres_auth_attempt")
	require.Len(t, auths, 1)
	assert.Equal(t, model.LevelMedium, auths[0].Level)
	assert.Equal(t, "svc_report", auths[0].Details["username"])
	assert.Equal(t, "hunter2", auths[0].Details["password"])
	assert.Equal(t, "app", auths[0].Details["database"])
}

func TestSimpleQueryCapturedAndEmpty(t *testing.T) {
	fe, _, sink := startSession(t)
	login(t, fe, "admin", "admin")

	fe.Send(&pgproto3.Query{String: "SELECT usename, passwd FROM pg_shadow"})
	require.NoError(t, fe.Flush())

	msg, err := fe.Receive()
	require.NoError(t, err)
	complete, ok := msg.(*pgproto3.CommandComplete)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "SELECT 0", string(complete.CommandTag))

	msg, err = fe.Receive()
	require.NoError(t, err)
	require.IsType(t, &pgproto3.ReadyForQuery{}, msg)

	queries := sink.byType("postgres_query")
	require.Len(t, queries, 1)
	assert.Equal(t, "SELECT usename, passwd FROM pg_shadow", queries[0].Details["query"])
	assert.Equal(t, model.LevelMedium, queries[0].Level)
}

func TestExtendedQueryFlow(t *testing.T) {
	fe, _, sink := startSession(t)
	login(t, fe, "admin", "admin")

	fe.Send(&pgproto3.Parse{Name: "s1", Query: "SELECT version()"})
	fe.Send(&pgproto3.Bind{PreparedStatement: "s1"})
	fe.Send(&pgproto3.Describe{ObjectType: 'S', Name: "s1"})
	fe.Send(&pgproto3.Execute{})
	fe.Send(&pgproto3.Sync{})
	require.NoError(t, fe.Flush())

	expect := []interface{}{
		&pgproto3.ParseComplete{},
		&pgproto3.BindComplete{},
		&pgproto3.ParameterDescription{},
		&pgproto3.NoData{},
		&pgproto3.CommandComplete{},
		&pgproto3.ReadyForQuery{},
	}
	for _, want := range expect {
		msg, err := fe.Receive()
		require.NoError(t, err)
		require.IsType(t, want, msg)
	}

	queries := sink.byType("postgres_query")
	require.Len(t, queries, 2)
	assert.Equal(t, "SELECT version()", queries[0].Details["query"])
	assert.Equal(t, "prepared", queries[0].Details["mode"])
	assert.Equal(t, "SELECT version()", queries[1].Details["query"])
	assert.Equal(t, "execute", queries[1].Details["mode"])
}

func TestExecuteResolvesNamedPortal(t *testing.T) {
	fe, _, sink := startSession(t)
	login(t, fe, "admin", "admin")

	fe.Send(&pgproto3.Parse{Name: "stmt_a", Query: "SELECT * FROM users"})
	fe.Send(&pgproto3.Parse{Name: "stmt_b", Query: "DELETE FROM audit_log"})
	fe.Send(&pgproto3.Bind{DestinationPortal: "p1", PreparedStatement: "stmt_b"})
	fe.Send(&pgproto3.Execute{Portal: "p1"})
	fe.Send(&pgproto3.Sync{})
	require.NoError(t, fe.Flush())

	expect := []interface{}{
		&pgproto3.ParseComplete{},
		&pgproto3.ParseComplete{},
		&pgproto3.BindComplete{},
		&pgproto3.CommandComplete{},
		&pgproto3.ReadyForQuery{},
	}
	for _, want := range expect {
		msg, err := fe.Receive()
		require.NoError(t, err)
		require.IsType(t, want, msg)
	}

	queries := sink.byType("postgres_query")
	require.Len(t, queries, 3)
	executed := queries[2]
	assert.Equal(t, "execute", executed.Details["mode"])
	assert.Equal(t, "DELETE FROM audit_log", executed.Details["query"])
}

func TestTerminateEndsSession(t *testing.T) {
	fe, _, _ := startSession(t)
	login(t, fe, "admin", "admin")

	fe.Send(&pgproto3.Terminate{})
	require.NoError(t, fe.Flush())
	// cleanup asserts the session goroutine exits
}

func TestOversizedMessageDropsConnection(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	sink := &captureSink{}
	sess := &session{
		cfg:      &config.PostgresConfig{HoneypotID: "postgres-default", ServerVersion: "12.4"},
		sink:     sink,
		conn:     serverConn,
		reader:   bufio.NewReader(serverConn),
		sourceIP: "203.0.113.9",
		prepared: make(map[string]string),
		portals:  make(map[string]string),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.run()
		serverConn.Close()
	}()
	defer clientConn.Close()

	// claims a 16 MB startup packet
	_, err := clientConn.Write([]byte{0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not drop oversized packet")
	}
}
