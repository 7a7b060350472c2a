package sshd

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/logging"
	"github.com/hollowport/hollowport/internal/model"
)

// Server is the SSH decoy. Password and publickey authentication always fail
// after capturing the presented credentials. When AllowAnonShell is set,
// "none" authentication is accepted so session channels open and exec/shell
// activity can be captured too.
type Server struct {
	cfg  *config.SSHConfig
	sink model.Sink

	mu sync.Mutex
	ln net.Listener
}

func NewServer(cfg *config.SSHConfig, sink model.Sink) *Server {
	return &Server{cfg: cfg, sink: sink}
}

func (s *Server) ListenAndServe() error {
	signers, err := loadHostKeys(s.cfg.HostKeyDir)
	if err != nil {
		return fmt.Errorf("ssh engine host keys: %w", err)
	}

	sshCfg := &ssh.ServerConfig{
		ServerVersion: s.cfg.Banner,
		NoClientAuth:  s.cfg.AllowAnonShell,
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.observe(remoteIP(conn.RemoteAddr()), "ssh_auth_attempt", model.LevelMedium, map[string]interface{}{
				"username":    conn.User(),
				"password":    string(password),
				"auth_method": "password",
			})
			return nil, fmt.Errorf("password rejected for %s", conn.User())
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			blob := key.Marshal()
			s.observe(remoteIP(conn.RemoteAddr()), "ssh_auth_attempt", model.LevelLow, map[string]interface{}{
				"username":    conn.User(),
				"auth_method": "publickey",
				"key_type":    key.Type(),
				"fingerprint": ssh.FingerprintSHA256(key),
				"key_blob":    base64.StdEncoding.EncodeToString(blob),
				"key_bytes":   len(blob),
			})
			return nil, fmt.Errorf("publickey rejected for %s", conn.User())
		},
		AuthLogCallback: func(conn ssh.ConnMetadata, method string, err error) {
			if method == "none" {
				s.observe(remoteIP(conn.RemoteAddr()), "ssh_auth_attempt", model.LevelLow, map[string]interface{}{
					"username":    conn.User(),
					"auth_method": "none",
				})
			}
		},
	}
	for _, signer := range signers {
		sshCfg.AddHostKey(signer)
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("ssh engine listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	logging.Info("[SSH] Decoy listening on %s (honeypot %s)", s.cfg.ListenAddr, s.cfg.HoneypotID)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil
		}
		go s.handleConn(conn, sshCfg)
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

// Addr returns the bound listener address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleConn(conn net.Conn, sshCfg *ssh.ServerConfig) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("[SSH] Connection handler panic: %v", r)
		}
	}()

	conn.SetDeadline(time.Now().Add(10 * time.Minute))

	sourceIP := remoteIP(conn.RemoteAddr())
	s.observe(sourceIP, "ssh_connection", model.LevelLow, map[string]interface{}{
		"port": s.cfg.ListenAddr,
	})

	sconn, chans, reqs, err := ssh.NewServerConn(conn, sshCfg)
	if err != nil {
		// expected: most sessions end here, auth never succeeds
		logging.Debug("[SSH] Handshake ended for %s: %v", sourceIP, err)
		return
	}
	defer sconn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.Prohibited, "channel type not supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			logging.Error("[SSH] Channel accept failed for %s: %v", sourceIP, err)
			continue
		}
		go s.handleSession(channel, requests, sconn.User(), sourceIP)
	}
}

// execPayload is the "exec" channel request payload.
type execPayload struct {
	Command string
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, username, sourceIP string) {
	defer channel.Close()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("[SSH] Session handler panic: %v", r)
		}
	}()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload execPayload
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.captureCommand(sourceIP, username, payload.Command, "exec")
			fmt.Fprintf(channel, "%s: command not found\r\n", firstWord(payload.Command))
			sendExitStatus(channel, 127)
			return
		case "shell":
			req.Reply(true, nil)
			s.serveShell(channel, username, sourceIP)
			return
		case "pty-req", "env", "window-change":
			req.Reply(true, nil)
		default:
			req.Reply(false, nil)
		}
	}
}

// serveShell runs a fake interactive prompt. Every submitted line is
// captured; every command "fails" so nothing real is ever simulated deeply
// enough to matter.
func (s *Server) serveShell(channel ssh.Channel, username, sourceIP string) {
	prompt := fmt.Sprintf("%s@web-prod-01:~$ ", shellUser(username))
	io.WriteString(channel, prompt)

	var line []byte
	buf := make([]byte, 1)
	for {
		if _, err := channel.Read(buf); err != nil {
			return
		}
		c := buf[0]
		switch {
		case c == '\r' || c == '\n':
			io.WriteString(channel, "\r\n")
			cmd := strings.TrimSpace(string(line))
			line = line[:0]
			if cmd != "" {
				s.captureCommand(sourceIP, username, cmd, "shell")
				if cmd == "exit" || cmd == "logout" {
					sendExitStatus(channel, 0)
					return
				}
				fmt.Fprintf(channel, "%s: command not found\r\n", firstWord(cmd))
			}
			io.WriteString(channel, prompt)
		case c == 0x7f || c == 0x08: // backspace
			if len(line) > 0 {
				line = line[:len(line)-1]
				io.WriteString(channel, "\b \b")
			}
		case c == 0x03: // ctrl-c
			line = line[:0]
			io.WriteString(channel, "^C\r\n")
			io.WriteString(channel, prompt)
		case c == 0x04: // ctrl-d
			sendExitStatus(channel, 0)
			return
		default:
			line = append(line, c)
			channel.Write(buf)
		}
	}
}

func (s *Server) captureCommand(sourceIP, username, command, mode string) {
	s.observe(sourceIP, "ssh_command", model.LevelMedium, map[string]interface{}{
		"username": username,
		"command":  command,
		"mode":     mode,
	})
}

func (s *Server) observe(sourceIP, eventType string, level int, details map[string]interface{}) {
	obs := model.Observation{
		HoneypotID: s.cfg.HoneypotID,
		EventType:  eventType,
		Level:      level,
		SourceIP:   sourceIP,
		Details:    details,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.sink.Submit(ctx, obs); err != nil {
		logging.Error("[SSH] Failed to submit observation: %v", err)
	}
}

func sendExitStatus(channel ssh.Channel, status uint32) {
	payload := ssh.Marshal(struct{ Status uint32 }{status})
	channel.SendRequest("exit-status", false, payload)
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	return fields[0]
}

func shellUser(username string) string {
	if username == "" {
		return "guest"
	}
	return username
}

func remoteIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
