package dkim

import (
	"bufio"
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/textproto"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"

	"mailpacer/internal/config"
	"mailpacer/internal/email"
)

// signedHeaders are covered by every signature mailpacer produces.
var signedHeaders = []string{"from", "to", "subject", "date", "message-id", "mime-version", "content-type"}

// Signer adds DKIM-Signature headers. A nil *Signer is valid and leaves
// messages untouched.
type Signer struct {
	opts msgauthdkim.SignOptions
}

// LoadFromEnv reads the signer settings:
//
//	MAILPACER_DKIM_SELECTOR      selector, required once any other is set
//	MAILPACER_DKIM_PRIVATE_KEY   inline PEM key
//	MAILPACER_DKIM_KEY_PATH      PEM key file, used when no inline key is set
//	MAILPACER_DKIM_DOMAIN        signing domain, defaults to the sender's
//
// It returns nil, nil when none of them is set.
func LoadFromEnv() (*Signer, error) {
	selector := config.String("MAILPACER_DKIM_SELECTOR", "")
	domain := config.String("MAILPACER_DKIM_DOMAIN", "")
	keyPath := config.String("MAILPACER_DKIM_KEY_PATH", "")
	pemData := []byte(os.Getenv("MAILPACER_DKIM_PRIVATE_KEY"))

	if selector == "" && domain == "" && keyPath == "" && len(pemData) == 0 {
		return nil, nil
	}
	if selector == "" {
		return nil, errors.New("dkim: MAILPACER_DKIM_SELECTOR is required when enabling DKIM")
	}
	if len(pemData) == 0 {
		if keyPath == "" {
			return nil, errors.New("dkim: set MAILPACER_DKIM_PRIVATE_KEY or MAILPACER_DKIM_KEY_PATH")
		}
		var err error
		if pemData, err = os.ReadFile(keyPath); err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
	}
	return New(domain, selector, pemData)
}

// New builds a Signer from a PEM key (PKCS#1 or PKCS#8). An empty domain
// signs with the domain of each message's sender.
func New(domain, selector string, pemData []byte) (*Signer, error) {
	key, err := privateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	return &Signer{opts: msgauthdkim.SignOptions{
		Domain:                 strings.ToLower(domain),
		Selector:               selector,
		Signer:                 key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             signedHeaders,
	}}, nil
}

// Selector reports the configured selector.
func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}
	return s.opts.Selector
}

// Sign returns message with a DKIM-Signature prepended. Messages that
// already carry one are returned as is.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || signed(message) {
		return message, nil
	}

	opts := s.opts
	if opts.Domain == "" {
		domain, err := email.Domain(from)
		if err != nil {
			return nil, fmt.Errorf("dkim: signing domain: %w", err)
		}
		opts.Domain = strings.ToLower(domain)
	}

	var out bytes.Buffer
	if err := msgauthdkim.Sign(&out, bytes.NewReader(crlf(message)), &opts); err != nil {
		return nil, fmt.Errorf("dkim: sign: %w", err)
	}
	return out.Bytes(), nil
}

func privateKey(pemData []byte) (crypto.Signer, error) {
	for block, rest := pem.Decode(pemData); block != nil; block, rest = pem.Decode(rest) {
		if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			return k, nil
		}
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			continue
		}
		if signer, ok := k.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, fmt.Errorf("%T cannot sign", k)
	}
	return nil, errors.New("no private key in PEM data")
}

func signed(message []byte) bool {
	hdr, err := textproto.NewReader(bufio.NewReader(bytes.NewReader(message))).ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return false
	}
	return hdr.Get("Dkim-Signature") != ""
}

// crlf turns bare LF line endings into CRLF.
func crlf(b []byte) []byte {
	if !bytes.Contains(b, []byte("\n")) || bytes.Contains(b, []byte("\r\n")) {
		return b
	}
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}
