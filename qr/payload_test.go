package qr_test

import (
	"fmt"
	"testing"
	"time"

	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
	"github.com/jrsteele09/site-attendance/qr"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		raw     string
		version string
		siteID  string
		millis  int64
	}{
		{"1|site-42|1736390400000", "1", "site-42", 1736390400000},
		{" 2 | site 7 |  1736390400123 ", "2", "site 7", 1736390400123},
		{"v1|s|0", "v1", "s", 0},
		{"v1|s|-1000", "v1", "s", -1000},
		{"v1|s|+5", "v1", "s", 5},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := qr.Parse(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.version, p.Version)
			require.Equal(t, tt.siteID, p.SiteID)
			require.Equal(t, tt.millis, p.IssuedAt.UnixMilli())
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for i := int64(0); i < 50; i++ {
		raw := fmt.Sprintf("v%d|site-%d|%d", i, i*7, 1736390400000+i*99991)
		p, err := qr.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, raw, p.String())
	}
	require.Equal(t, time.UnixMilli(1736390400000).UTC(), mustParse(t, "1|site-42|1736390400000").IssuedAt)
}

func TestParse_InvalidFormat(t *testing.T) {
	for _, raw := range []string{"", "1", "1|site", "1|site|2|3", "https://example.com/site-42"} {
		t.Run(raw, func(t *testing.T) {
			_, err := qr.Parse(raw)
			require.ErrorIs(t, err, qr.ErrInvalidFormat)
			require.ErrorIs(t, err, appErrors.ErrParse)
			require.NotErrorIs(t, err, qr.ErrInvalidTimestamp)
		})
	}
}

func TestParse_InvalidTimestamp(t *testing.T) {
	for _, raw := range []string{"1|site|", "1|site|abc", "1|site|1.5", "1|site|NaN", "1|site|Infinity", "1|site|1e3", "1|site|99999999999999999999"} {
		t.Run(raw, func(t *testing.T) {
			_, err := qr.Parse(raw)
			require.ErrorIs(t, err, qr.ErrInvalidTimestamp)
		})
	}
}

func mustParse(t *testing.T, raw string) qr.Payload {
	t.Helper()
	p, err := qr.Parse(raw)
	require.NoError(t, err)
	return p
}
