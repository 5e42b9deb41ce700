package classify

import "strings"

// Kind is the bucket a transport failure is assigned to.
type Kind string

const (
	TransportInit    Kind = "transport_init"
	Network          Kind = "network"
	Transient        Kind = "transient"
	InvalidRecipient Kind = "invalid_recipient"
	MailboxFull      Kind = "mailbox_full"
	Unknown          Kind = "unknown"
)

// Result is the classification of one failure.
type Result struct {
	Kind      Kind
	Retryable bool
}

type rule struct {
	kind     Kind
	keywords []string
}

// Evaluated in order; the first rule with a matching keyword wins.
var rules = []rule{
	{TransportInit, []string{"not connected", "transport", "session closed", "starttls", "tls handshake", "smtp client", "helo", "ehlo"}},
	{Network, []string{"timeout", "timed out", "network", "connection", "rpc", "dial", "no route", "eof"}},
	{Transient, []string{"busy", "temporary", "try again", "rate limit", "throttl", "421", "450", "451", "452"}},
	{InvalidRecipient, []string{"invalid", "not found", "bad recipient", "no such user", "user unknown", "unknown user", "550", "553"}},
	{MailboxFull, []string{"full", "quota", "storage", "insufficient", "552"}},
}

// Classify maps raw failure text to a Kind. Matching is case-insensitive.
func Classify(raw string) Result {
	text := strings.ToLower(raw)
	kind := Unknown
	for _, r := range rules {
		if containsAny(text, r.keywords) {
			kind = r.kind
			break
		}
	}
	return Result{Kind: kind, Retryable: retryable(kind, text)}
}

func retryable(kind Kind, text string) bool {
	switch kind {
	case Network, Transient:
		return true
	case Unknown:
		// never hot-loop against a broken transport
		return !containsAny(text, rules[0].keywords)
	default:
		return false
	}
}

// Suggest returns a remediation hint for a failure to open the transport.
func Suggest(raw string) string {
	text := strings.ToLower(raw)
	switch {
	case strings.Contains(text, "connection refused"):
		return "check MAILPACER_RELAY_HOST and MAILPACER_RELAY_PORT; nothing is listening there"
	case strings.Contains(text, "no such host"), strings.Contains(text, "lookup"):
		return "check DNS resolution for the relay host"
	case strings.Contains(text, "certificate"), strings.Contains(text, "tls"), strings.Contains(text, "x509"):
		return "check MAILPACER_TLS_CA or the relay certificate"
	case strings.Contains(text, "timeout"), strings.Contains(text, "timed out"):
		return "check firewall rules for outbound SMTP"
	case strings.Contains(text, "access denied"), strings.Contains(text, "permission"):
		return "run with a user allowed to open outbound connections"
	default:
		return "verify the relay is reachable and accepts mail from this host"
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
