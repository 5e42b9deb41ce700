package delivery

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpacer/classify"
)

func lookupReturns(t *testing.T, records []*net.MX, err error) {
	t.Helper()
	orig := mxLookup
	mxLookup = func(context.Context, string) ([]*net.MX, error) { return records, err }
	t.Cleanup(func() { mxLookup = orig })
}

func TestExchangersOrderByPreference(t *testing.T) {
	lookupReturns(t, []*net.MX{
		{Host: "slow.example.com.", Pref: 20},
		{Host: "fast.example.com.", Pref: 5},
		{Host: "backup.example.com.", Pref: 20},
	}, nil)

	hosts, err := exchangers(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, hosts, 3)
	assert.Equal(t, "fast.example.com", hosts[0])
	assert.ElementsMatch(t, []string{"slow.example.com", "backup.example.com"}, hosts[1:])
}

func TestExchangersImplicitMX(t *testing.T) {
	lookupReturns(t, nil, nil)

	hosts, err := exchangers(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, hosts)
}

func TestLookupFailuresClassify(t *testing.T) {
	tests := []struct {
		name      string
		records   []*net.MX
		err       error
		kind      classify.Kind
		retryable bool
	}{
		{"unknown domain", nil, &net.DNSError{Err: "no such host", Name: "nowhere.example", IsNotFound: true}, classify.InvalidRecipient, false},
		{"null MX", []*net.MX{{Host: ".", Pref: 0}}, nil, classify.InvalidRecipient, false},
		{"resolver trouble", nil, &net.DNSError{Err: "server misbehaving", Name: "example.com", IsTemporary: true}, classify.Transient, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lookupReturns(t, tc.records, tc.err)

			err := deliverDirect(context.Background(), "h", "sender@example.com", "ana@example.com", nil, zerolog.Nop())
			require.Error(t, err)
			got := classify.Classify(err.Error())
			assert.Equal(t, tc.kind, got.Kind, err.Error())
			assert.Equal(t, tc.retryable, got.Retryable)
		})
	}
}

func TestDeliverDirectStopsWhenCancelled(t *testing.T) {
	tried := stubExchangers(t, []string{"mx1.example.com"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := deliverDirect(ctx, "h", "sender@example.com", "ana@example.com", nil, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *tried)
}
