package email

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var (
	// ErrInvalidAddress indicates the address failed validation.
	ErrInvalidAddress = errors.New("invalid email address")
	// ErrDuplicate marks a recipient already present earlier in the list.
	ErrDuplicate = errors.New("duplicate recipient")
)

var domainPattern = regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)

// Normalize validates a bare recipient address and returns it lower-cased.
// Display-name forms ("Jane <jane@example.com>") are rejected; the name
// lives in its own column.
func Normalize(address string) (string, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if strings.ContainsAny(addr, "\r\n<> ") {
		return "", fmt.Errorf("%w: unexpected characters in %q", ErrInvalidAddress, addr)
	}

	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	normalized := strings.ToLower(parsed.Address)

	domain, err := Domain(normalized)
	if err != nil {
		return "", err
	}
	if !domainPattern.MatchString(domain) {
		return "", fmt.Errorf("%w: bad domain %q", ErrInvalidAddress, domain)
	}
	return normalized, nil
}

// Domain returns the domain component of a validated email address.
func Domain(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at == -1 || at == len(address)-1 {
		return "", fmt.Errorf("%w: missing domain", ErrInvalidAddress)
	}

	domain := address[at+1:]
	domain = strings.TrimSuffix(domain, ".")
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", fmt.Errorf("%w: empty domain", ErrInvalidAddress)
	}
	if strings.ContainsAny(domain, " \t") {
		return "", fmt.Errorf("%w: whitespace in domain", ErrInvalidAddress)
	}

	return strings.ToLower(domain), nil
}

var localSeparators = regexp.MustCompile(`[._\-0-9]+`)

// NameFromAddress guesses a display name from the local part, for example
// "juan.carlos@shop.com" becomes "Juan Carlos".
func NameFromAddress(address string) string {
	local, _, _ := strings.Cut(address, "@")
	if local == "" {
		return "Friend"
	}
	pieces := localSeparators.Split(local, -1)
	if len(pieces) > 2 {
		pieces = pieces[:2]
	}
	var parts []string
	for _, p := range pieces {
		if len(p) > 1 {
			parts = append(parts, capitalize(p))
		}
	}
	if len(parts) == 0 {
		return capitalize(local)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
