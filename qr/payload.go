package qr

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	fieldSeparator = "|"
	fieldCount     = 3
)

// Payload is the site identity carried by a scanned QR code: "version|siteId|epochMillis".
type Payload struct {
	Version  string
	SiteID   string
	IssuedAt time.Time
}

// Parse decodes a scanned string. Fields are trimmed. It fails with ErrInvalidFormat
// unless there are exactly three fields and with ErrInvalidTimestamp unless the third
// is a base-10 integer.
func Parse(raw string) (Payload, error) {
	fields := strings.Split(raw, fieldSeparator)
	if len(fields) != fieldCount {
		log.Debug().Int("fields", len(fields)).Msg("qr: invalid payload format")
		return Payload{}, &ParseError{Kind: KindInvalidFormat, Raw: raw}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	millis, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		log.Debug().Str("timestamp", fields[2]).Msg("qr: invalid payload timestamp")
		return Payload{}, &ParseError{Kind: KindInvalidTimestamp, Raw: raw, Err: err}
	}

	return Payload{
		Version:  fields[0],
		SiteID:   fields[1],
		IssuedAt: time.UnixMilli(millis).UTC(),
	}, nil
}

// String renders the payload back to its wire form.
func (p Payload) String() string {
	return strings.Join([]string{p.Version, p.SiteID, strconv.FormatInt(p.IssuedAt.UnixMilli(), 10)}, fieldSeparator)
}
