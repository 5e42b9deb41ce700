package delivery

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpacer/classify"
	"mailpacer/dispatch"
	"mailpacer/storage"
)

// fakeRelay is a minimal SMTP server that records commands and messages.
type fakeRelay struct {
	ln     net.Listener
	reject map[string]bool

	mu       sync.Mutex
	commands []string
	messages []string
	helo     string
}

func startRelay(t *testing.T, reject ...string) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &fakeRelay{ln: ln, reject: map[string]bool{}}
	for _, addr := range reject {
		r.reject[addr] = true
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go r.serve(conn)
		}
	}()
	return r
}

func (r *fakeRelay) port() string {
	return strconv.Itoa(r.ln.Addr().(*net.TCPAddr).Port)
}

func (r *fakeRelay) record(cmd string) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()
}

func (r *fakeRelay) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *fakeRelay) greeting() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.helo
}

func (r *fakeRelay) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *fakeRelay) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(conn)
	reply := func(s string) { fmt.Fprint(conn, s+"\r\n") }

	reply("220 fake ESMTP")
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		r.record(verb)

		switch verb {
		case "EHLO", "HELO":
			r.mu.Lock()
			r.helo = strings.TrimSpace(line[len(verb):])
			r.mu.Unlock()
			reply("250 fake")
		case "MAIL", "RSET", "NOOP":
			reply("250 OK")
		case "RCPT":
			addr := strings.TrimSuffix(strings.TrimPrefix(line[len("RCPT TO:"):], "<"), ">")
			if r.reject[addr] {
				reply("550 5.1.1 user unknown")
				continue
			}
			reply("250 OK")
		case "DATA":
			reply("354 go ahead")
			var lines []string
			for {
				l, err := br.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				lines = append(lines, l)
			}
			r.mu.Lock()
			r.messages = append(r.messages, strings.Join(lines, ""))
			r.mu.Unlock()
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func relayConfig(r *fakeRelay) Config {
	return Config{
		RelayHost: "127.0.0.1",
		RelayPort: r.port(),
		From:      "sender@example.com",
		FromName:  "Sender",
		HeloName:  "mailpacer.test",
	}
}

func TestTransportRelaySendWithAttachment(t *testing.T) {
	relay := startRelay(t)
	dir := t.TempDir()
	att := filepath.Join(dir, "brochure.txt")
	require.NoError(t, os.WriteFile(att, []byte("attached content"), 0o600))

	tr := New(relayConfig(relay), nil, nil, zerolog.Nop())
	sess, err := tr.Open(context.Background())
	require.NoError(t, err)

	n, err := sess.Send(context.Background(), dispatch.Message{
		To: "ana@example.com", Name: "Ana", Subject: "Hola", Body: "Hi Ana",
	}, []string{att})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, sess.Close())

	msgs := relay.received()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "To: \"Ana\" <ana@example.com>")
	assert.Contains(t, msgs[0], "multipart/mixed")
	assert.Contains(t, msgs[0], "filename=brochure.txt")
	assert.Contains(t, msgs[0], base64.StdEncoding.EncodeToString([]byte("attached content")))

	assert.Eventually(t, func() bool {
		cmds := relay.seen()
		return len(cmds) > 0 && cmds[len(cmds)-1] == "QUIT"
	}, time.Second, 10*time.Millisecond)
}

func TestTransportRelayRejectResets(t *testing.T) {
	relay := startRelay(t, "ghost@example.com")
	tr := New(relayConfig(relay), nil, nil, zerolog.Nop())
	sess, err := tr.Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Send(context.Background(), dispatch.Message{To: "ghost@example.com", Subject: "x", Body: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")

	_, err = sess.Send(context.Background(), dispatch.Message{To: "ana@example.com", Subject: "x", Body: "x"}, nil)
	require.NoError(t, err)

	assert.Contains(t, relay.seen(), "RSET")
	assert.Len(t, relay.received(), 1)
}

func TestTransportConnectError(t *testing.T) {
	original := connectDelay
	connectDelay = time.Millisecond
	t.Cleanup(func() { connectDelay = original })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	tr := New(Config{RelayHost: "127.0.0.1", RelayPort: port, From: "sender@example.com"}, nil, nil, zerolog.Nop())
	_, err = tr.Open(context.Background())

	var cerr *dispatch.ConnectError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Contains(t, cerr.Reason, "dial")
	assert.NotEmpty(t, cerr.Suggestion)
}

// stubExchangers points direct delivery at fixed MX hosts and records every
// exchange attempt. fail decides the outcome per host.
func stubExchangers(t *testing.T, hosts []string, fail func(host string) error) *[]string {
	t.Helper()
	origLookup, origExchange := mxLookup, exchangeTo
	t.Cleanup(func() { mxLookup, exchangeTo = origLookup, origExchange })

	mxLookup = func(context.Context, string) ([]*net.MX, error) {
		out := make([]*net.MX, len(hosts))
		for i, h := range hosts {
			out[i] = &net.MX{Host: h + ".", Pref: uint16(10 * (i + 1))}
		}
		return out, nil
	}
	var tried []string
	exchangeTo = func(_ context.Context, host, helo, from, to string, data []byte) error {
		tried = append(tried, host)
		if fail != nil {
			return fail(host)
		}
		return nil
	}
	return &tried
}

func TestTransportDirectDeliveryAndArchive(t *testing.T) {
	var helo string
	tried := stubExchangers(t, []string{"mx1.example.com"}, nil)
	inner := exchangeTo
	exchangeTo = func(ctx context.Context, host, h, from, to string, data []byte) error {
		helo = h
		assert.Equal(t, "sender@example.com", from)
		assert.Equal(t, "ana@example.com", to)
		assert.Contains(t, string(data), "text/html")
		assert.Contains(t, string(data), "@example.com>")
		return inner(ctx, host, h, from, to, data)
	}

	store := storage.New(t.TempDir())
	cfg := Config{From: "sender@example.com", HeloName: "out.example.com", Archive: true}
	tr := New(cfg, nil, store, zerolog.Nop())
	sess, err := tr.Open(context.Background())
	require.NoError(t, err)

	n, err := sess.Send(context.Background(), dispatch.Message{To: "ana@example.com", Subject: "Hola", Body: "<p>Hi</p>"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"mx1.example.com"}, *tried)
	assert.Equal(t, "out.example.com", helo)
	require.NoError(t, sess.Close())

	days, err := os.ReadDir(filepath.Join(store.Root(), "archive"))
	require.NoError(t, err)
	assert.Len(t, days, 1)
}

func TestTransportDirectFallsBackToNextExchanger(t *testing.T) {
	tried := stubExchangers(t, []string{"mx1.example.com", "mx2.example.com"}, func(host string) error {
		if host == "mx1.example.com" {
			return errors.New("dial: dial tcp 192.0.2.1:25: connect: connection refused")
		}
		return nil
	})

	sess, err := New(Config{From: "sender@example.com"}, nil, nil, zerolog.Nop()).Open(context.Background())
	require.NoError(t, err)
	_, err = sess.Send(context.Background(), dispatch.Message{To: "ana@example.com", Subject: "x", Body: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mx1.example.com", "mx2.example.com"}, *tried)
}

func TestTransportDirectFailureKinds(t *testing.T) {
	tests := []struct {
		name      string
		reply     error
		attempts  int
		kind      classify.Kind
		retryable bool
	}{
		{"permanent reply stops the walk", &textproto.Error{Code: 550, Msg: "5.1.1 user unknown"}, 1, classify.InvalidRecipient, false},
		{"temporary reply tries every host", &textproto.Error{Code: 451, Msg: "4.7.1 greylisted"}, 2, classify.Transient, true},
		{"unreachable hosts", errors.New("dial: i/o timeout"), 2, classify.Network, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tried := stubExchangers(t, []string{"mx1.example.com", "mx2.example.com"}, func(string) error { return tc.reply })

			sess, err := New(Config{From: "sender@example.com"}, nil, nil, zerolog.Nop()).Open(context.Background())
			require.NoError(t, err)
			_, err = sess.Send(context.Background(), dispatch.Message{To: "ana@example.com", Subject: "x", Body: "x"}, nil)
			require.Error(t, err)
			assert.Len(t, *tried, tc.attempts)

			got := classify.Classify(err.Error())
			assert.Equal(t, tc.kind, got.Kind, err.Error())
			assert.Equal(t, tc.retryable, got.Retryable)
		})
	}
}

func TestTransportRateLimitHonoursContext(t *testing.T) {
	stubExchangers(t, []string{"mx1.example.com"}, nil)

	tr := New(Config{From: "sender@example.com", MaxPerMinute: 1}, nil, nil, zerolog.Nop())
	sess, err := tr.Open(context.Background())
	require.NoError(t, err)

	msg := dispatch.Message{To: "ana@example.com", Subject: "x", Body: "x"}
	_, err = sess.Send(context.Background(), msg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sess.Send(ctx, msg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestComposePlainText(t *testing.T) {
	data, err := compose(
		mail.Address{Name: "Sender", Address: "sender@example.com"},
		dispatch.Message{To: "ana@example.com", Subject: "Descuento ñ", Body: "Línea 1\nLínea 2"},
		nil, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), "id@example.com",
	)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "Subject: =?utf-8?q?")
	assert.Contains(t, s, "Message-ID: <id@example.com>")
	assert.Contains(t, s, "text/plain; charset=utf-8")
	assert.Contains(t, s, "L=C3=ADnea 1\r\nL=C3=ADnea 2")
}
