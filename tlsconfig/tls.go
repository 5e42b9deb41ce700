package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"mailpacer/internal/config"
)

// Client returns the configuration used for STARTTLS towards serverName.
//
//	MAILPACER_TLS_CA           PEM bundle trusted in addition to the system roots
//	MAILPACER_TLS_CERT/KEY     client certificate, when the relay requires one
//	MAILPACER_TLS_SKIP_VERIFY  disables verification (testing relays only)
func Client(serverName string) (*tls.Config, error) {
	conf := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.Bool("MAILPACER_TLS_SKIP_VERIFY", false),
	}

	if caFile := os.Getenv("MAILPACER_TLS_CA"); caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		conf.RootCAs = pool
	}

	certFile := os.Getenv("MAILPACER_TLS_CERT")
	keyFile := os.Getenv("MAILPACER_TLS_KEY")
	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, fmt.Errorf("MAILPACER_TLS_CERT and MAILPACER_TLS_KEY must be set together")
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}
