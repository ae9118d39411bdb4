package dispatch

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// secureStub answers the secure/* handshake without any real cryptography.
// The key pair and session token are generated once at startup.
type secureStub struct {
	publicKeyPEM string
	sessionJWT   string
}

func newSecureStub() (*secureStub, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "audioserver",
		"sub": "session",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(365 * 24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return nil, err
	}

	return &secureStub{publicKeyPEM: string(publicPEM), sessionJWT: signed}, nil
}

func (d *Dispatcher) handleSecurePairing(context.Context, Request) CommandResult {
	return CommandResult{Raw: true, Payload: map[string]any{
		"error":  -84,
		"master": d.mac,
		"peers":  []any{},
	}}
}

func (d *Dispatcher) handleSecureHello(_ context.Context, req Request) CommandResult {
	public := ""
	if len(req.Segments) > 2 {
		public = req.Segments[2]
	}
	return CommandResult{Raw: true, Payload: map[string]any{
		"error":      0,
		"public_key": public,
	}}
}

func (d *Dispatcher) handleSecureAuthenticate(context.Context, Request) CommandResult {
	return CommandResult{Raw: true, Payload: "authentication successful"}
}

func (d *Dispatcher) handleSecureInit(context.Context, Request) CommandResult {
	return CommandResult{Raw: true, Payload: map[string]any{
		"error": 0,
		"jwt":   d.secure.sessionJWT,
	}}
}

func (d *Dispatcher) handleGetKey(context.Context, Request) CommandResult {
	return CommandResult{Name: "getkey", Payload: map[string]string{
		"pubkey": d.secure.publicKeyPEM,
	}}
}
