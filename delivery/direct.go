package delivery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/textproto"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"mailpacer/internal/email"
)

// Replaced in tests.
var (
	mxLookup   = net.DefaultResolver.LookupMX
	exchangeTo = exchange
)

// exchangers returns the hosts accepting mail for domain, most preferred
// first. Hosts sharing a preference are shuffled to spread load. A domain
// without MX records is its own exchanger (RFC 5321 5.1).
//
// Lookup failures are worded so the classifier buckets them: a missing or
// null-MX domain is a bad recipient, a resolver hiccup is temporary.
func exchangers(ctx context.Context, domain string) ([]string, error) {
	records, err := mxLookup(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			switch {
			case dnsErr.IsNotFound:
				return nil, fmt.Errorf("recipient domain %s not found: %w", domain, err)
			case dnsErr.IsTemporary, dnsErr.IsTimeout:
				return nil, fmt.Errorf("temporary DNS failure for %s: %w", domain, err)
			}
		}
		return nil, fmt.Errorf("MX lookup for %s: %w", domain, err)
	}
	if len(records) == 0 {
		return []string{domain}, nil
	}
	if len(records) == 1 && strings.TrimSuffix(records[0].Host, ".") == "" {
		return nil, fmt.Errorf("invalid recipient domain %s: null MX, it accepts no mail", domain)
	}

	slices.SortStableFunc(records, func(a, b *net.MX) int { return cmp.Compare(a.Pref, b.Pref) })
	hosts := make([]string, 0, len(records))
	for i := 0; i < len(records); {
		j := i + 1
		for j < len(records) && records[j].Pref == records[i].Pref {
			j++
		}
		group := records[i:j]
		rand.Shuffle(len(group), func(a, b int) { group[a], group[b] = group[b], group[a] })
		for _, mx := range group {
			hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
		}
		i = j
	}
	return hosts, nil
}

// deliverDirect hands data to the recipient's exchangers in order until one
// accepts it. A permanent (5xx) reply ends the walk: the other exchangers of
// a domain apply the same policy.
func deliverDirect(ctx context.Context, helo, from, to string, data []byte, log zerolog.Logger) error {
	domain, err := email.Domain(to)
	if err != nil {
		return err
	}
	hosts, err := exchangers(ctx, domain)
	if err != nil {
		return err
	}

	var lastErr error
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := exchangeTo(ctx, host, helo, from, to, data)
		if err == nil {
			log.Debug().Str("mx", host).Str("to", to).Msg("accepted")
			return nil
		}
		var reply *textproto.Error
		if errors.As(err, &reply) && reply.Code >= 500 {
			return fmt.Errorf("%s refused %s: %w", host, to, err)
		}
		log.Debug().Err(err).Str("mx", host).Msg("exchanger failed, trying next")
		lastErr = fmt.Errorf("%s: %w", host, err)
	}
	return fmt.Errorf("no exchanger of %s took the message: %w", domain, lastErr)
}
