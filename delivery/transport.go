package delivery

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mailpacer/classify"
	"mailpacer/dispatch"
	"mailpacer/internal/config"
	"mailpacer/internal/dkim"
	"mailpacer/internal/email"
	"mailpacer/storage"
)

var connectDelay = 2 * time.Second

// Config describes how messages leave the process.
type Config struct {
	// RelayHost is the submission server. Empty delivers straight to the
	// recipients' MX hosts.
	RelayHost string
	RelayPort string
	Username  string
	Password  string

	From     string
	FromName string
	HeloName string

	// MaxPerMinute is a hard ceiling on the send rate, independent of the
	// plan's pauses. Zero disables it.
	MaxPerMinute    int
	ConnectAttempts int
	Archive         bool
}

// Transport opens SMTP sessions for the dispatcher.
type Transport struct {
	cfg     Config
	signer  *dkim.Signer
	store   *storage.Dir
	limiter *rate.Limiter
	domain  string
	log     zerolog.Logger
}

// New builds a Transport. signer and store may be nil.
func New(cfg Config, signer *dkim.Signer, store *storage.Dir, log zerolog.Logger) *Transport {
	if cfg.RelayPort == "" {
		cfg.RelayPort = "587"
	}
	if cfg.HeloName == "" {
		cfg.HeloName = config.Hostname()
	}
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 3
	}
	limit := rate.Inf
	if cfg.MaxPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.MaxPerMinute))
	}
	domain, err := email.Domain(cfg.From)
	if err != nil {
		domain = "mailpacer.local"
	}
	return &Transport{
		cfg:     cfg,
		signer:  signer,
		store:   store,
		limiter: rate.NewLimiter(limit, 1),
		domain:  domain,
		log:     log.With().Str("component", "delivery").Logger(),
	}
}

// Open starts a session. With a relay it connects, greets and upgrades to
// TLS, retrying a few times before giving up with a *dispatch.ConnectError.
func (t *Transport) Open(ctx context.Context) (dispatch.Session, error) {
	s := &session{t: t}
	if t.cfg.RelayHost == "" {
		t.log.Info().Msg("no relay configured, delivering via MX")
		return s, nil
	}
	if err := s.connect(ctx); err != nil {
		msg := err.Error()
		return nil, &dispatch.ConnectError{Reason: msg, Suggestion: classify.Suggest(msg), Err: err}
	}
	return s, nil
}

type relayConn struct {
	client *smtp.Client
	raw    net.Conn
}

type session struct {
	t      *Transport
	client *smtp.Client
	conn   net.Conn
}

func (s *session) connect(ctx context.Context) error {
	t := s.t
	c, err := retry.NewWithData[relayConn](
		retry.Context(ctx),
		retry.Attempts(uint(t.cfg.ConnectAttempts)),
		retry.Delay(connectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			t.log.Warn().Uint("attempt", n+1).Err(err).Str("relay", t.cfg.RelayHost).Msg("relay connect failed")
		}),
	).Do(func() (relayConn, error) {
		client, raw, err := dial(ctx, t.cfg.RelayHost, t.cfg.RelayPort, t.cfg.HeloName, t.cfg.Username, t.cfg.Password)
		return relayConn{client: client, raw: raw}, err
	})
	if err != nil {
		return err
	}
	s.client, s.conn = c.client, c.raw
	t.log.Info().Str("relay", net.JoinHostPort(t.cfg.RelayHost, t.cfg.RelayPort)).Msg("relay session open")
	return nil
}

// Send renders, signs and submits one message. It returns the number of
// attachments included.
func (s *session) Send(ctx context.Context, msg dispatch.Message, attachments []string) (int, error) {
	t := s.t
	id := uuid.NewString()
	data, err := compose(mail.Address{Name: t.cfg.FromName, Address: t.cfg.From}, msg, attachments, time.Now(), id+"@"+t.domain)
	if err != nil {
		return 0, fmt.Errorf("compose: %w", err)
	}
	if data, err = t.signer.Sign(data, t.cfg.From); err != nil {
		return 0, err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	if s.client == nil {
		err = deliverDirect(ctx, t.cfg.HeloName, t.cfg.From, msg.To, data, t.log)
	} else {
		err = s.submit(ctx, msg.To, data)
	}
	if err != nil {
		return 0, err
	}

	if t.cfg.Archive && t.store != nil {
		if err := t.store.Archive(id, msg.To, data); err != nil {
			t.log.Warn().Err(err).Msg("archiving sent message")
		}
	}
	return len(attachments), nil
}

// submit sends through the relay. Long pauses let relays drop idle
// connections, so a failed NOOP triggers one reconnect first.
func (s *session) submit(ctx context.Context, to string, data []byte) error {
	if err := s.conn.SetDeadline(time.Now().Add(sendTimeout)); err != nil || s.client.Noop() != nil {
		s.t.log.Info().Msg("relay connection lost, reconnecting")
		s.client.Close()
		if err := s.connect(ctx); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		if err := s.conn.SetDeadline(time.Now().Add(sendTimeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}
	if err := transmit(s.client, s.t.cfg.From, to, data); err != nil {
		_ = s.client.Reset()
		return err
	}
	return nil
}

// Close ends the relay session with QUIT.
func (s *session) Close() error {
	if s.client == nil {
		return nil
	}
	defer func() { s.client = nil }()
	if err := s.client.Quit(); err != nil {
		s.client.Close()
		return err
	}
	return nil
}
