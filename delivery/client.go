package delivery

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"mailpacer/tlsconfig"
)

const (
	dialTimeout = 30 * time.Second
	sendTimeout = 2 * time.Minute
)

var smtpPort = "25"

// exchange hands one message to host on the SMTP port over a one-shot
// connection. Cancelling ctx aborts the conversation.
func exchange(ctx context.Context, host, helo, from, to string, data []byte) error {
	client, conn, err := dial(ctx, host, smtpPort, helo, "", "")
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := transmit(client, from, to, data); err != nil {
		return err
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}

// dial connects to host:port, greets it and upgrades to TLS when the server
// offers STARTTLS. Credentials are used only when the server offers AUTH.
func dial(ctx context.Context, host, port, helo, username, password string) (*smtp.Client, net.Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(sendTimeout)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("set deadline: %w", err)
	}
	// a silent server must not outlive a cancelled run
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("smtp client: %w", err)
	}
	fail := func(err error) (*smtp.Client, net.Conn, error) {
		client.Close()
		return nil, nil, err
	}

	if err := client.Hello(helo); err != nil {
		return fail(fmt.Errorf("ehlo: %w", err))
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConf, err := tlsconfig.Client(host)
		if err != nil {
			return fail(fmt.Errorf("tls config: %w", err))
		}
		if err := client.StartTLS(tlsConf); err != nil {
			return fail(fmt.Errorf("starttls: %w", err))
		}
	}
	if username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", username, password, host)); err != nil {
				return fail(fmt.Errorf("auth: %w", err))
			}
		}
	}
	return client, conn, nil
}

func transmit(client *smtp.Client, from, to string, data []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}
	return nil
}
