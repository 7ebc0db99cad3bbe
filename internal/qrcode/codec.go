// Package qrcode builds and parses the payload printed on a parking pass.
//
// A payload has the form MARKER:reservation_id:token. The token is random and
// stored with the reservation; the codec only shapes the string and never
// decides whether a pass is valid.
package qrcode

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strings"

	goqrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultMarker = "PARK"
	// 12 bytes = 96 bits, well past guessing range over a season of passes.
	tokenBytes = 12
	separator  = ":"
)

var ErrMalformed = errors.New("malformed qr payload")

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type Payload struct {
	ReservationID string
	Token         string
}

type Codec struct {
	marker string
	random io.Reader
}

func NewCodec(marker string) *Codec {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Codec{marker: marker, random: rand.Reader}
}

// Encode mints a fresh token for reservationID and returns the payload string
// together with the token to persist.
func (c *Codec) Encode(reservationID string) (string, string, error) {
	if reservationID == "" || strings.Contains(reservationID, separator) {
		return "", "", fmt.Errorf("encode qr payload: invalid reservation id %q", reservationID)
	}
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return "", "", fmt.Errorf("generate verification token: %w", err)
	}
	token := tokenEncoding.EncodeToString(buf)
	return strings.Join([]string{c.marker, reservationID, token}, separator), token, nil
}

// Decode splits a payload into its reservation id and token. Anything other
// than exactly three non-empty fields behind the expected marker is malformed.
func (c *Codec) Decode(payload string) (Payload, error) {
	parts := strings.Split(strings.TrimSpace(payload), separator)
	if len(parts) != 3 || parts[0] != c.marker || parts[1] == "" || parts[2] == "" {
		return Payload{}, ErrMalformed
	}
	return Payload{ReservationID: parts[1], Token: parts[2]}, nil
}

// RenderPNG draws payload as a square PNG of size pixels.
func RenderPNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = 300
	}
	png, err := goqrcode.Encode(payload, goqrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}
