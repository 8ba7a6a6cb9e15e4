package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{403, KindBlocked},
		{429, KindBlocked},
		{401, KindBlocked},
		{504, KindTimeout},
		{404, KindHTTP},
		{500, KindHTTP},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			e := FromStatus(tt.status, "https://example.com")
			assert.Equal(t, tt.want, e.Kind)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Contains(t, e.Error(), "HTTP")
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), KindTimeout},
		{"ssrf", fmt.Errorf("dial: %w", ErrSSRF), KindSSRFRejected},
		{"robots", ErrRobotsDisallowed, KindRobotsDisallowed},
		{"unavailable", fmt.Errorf("search: %w", ErrUnavailable), KindConnectorUnavailable},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, KindDNS},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "slow", IsTimeout: true}, KindTimeout},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindConnection},
		{"tls text", errors.New("remote error: tls: handshake failure"), KindTLS},
		{"other", errors.New("boom"), KindOther},
		{"classified", New(KindParse, "u", errors.New("bad xml")), KindParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestClassifyKeepsExistingError(t *testing.T) {
	orig := FromStatus(403, "https://a.example")
	wrapped := fmt.Errorf("connector: %w", orig)

	got := Classify(wrapped, "https://other.example")
	require.NotNil(t, got)
	assert.Same(t, orig, got)
	assert.Nil(t, Classify(nil, "x"))

	plain := Classify(context.DeadlineExceeded, "https://b.example")
	assert.Equal(t, KindTimeout, plain.Kind)
	assert.Equal(t, "https://b.example", plain.URL)
	assert.ErrorIs(t, plain, context.DeadlineExceeded)
}
