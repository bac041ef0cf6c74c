package pass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"

	"ms-fairpass/internal/models"
)

const qrSize = 256

var ErrInvalidPass = errors.New("invalid ticket pass")

// Generator renders sealed ticket passes as QR codes. Only a holder of the
// same secret can open them again at the gate.
type Generator struct {
	aead cipher.AEAD
}

func NewGenerator(secret string) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("pass secret is required")
	}
	key := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Generator{aead: aead}, nil
}

// Seal encrypts the pass into a URL-safe token.
func (g *Generator) Seal(p models.TicketPass) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (g *Generator) Open(token string) (*models.TicketPass, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	n := g.aead.NonceSize()
	if len(raw) < n {
		return nil, ErrInvalidPass
	}
	data, err := g.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}

	var p models.TicketPass
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	return &p, nil
}

// QRCode returns a PNG of the sealed pass.
func (g *Generator) QRCode(p models.TicketPass) ([]byte, error) {
	token, err := g.Seal(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, qrSize)
}
