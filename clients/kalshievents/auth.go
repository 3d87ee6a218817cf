package kalshievents

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// WebSocketPath is the path Kalshi expects in the websocket handshake signature.
const WebSocketPath = "/trade-api/ws/v2"

// Credentials sign Kalshi requests with RSA-PSS.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey

	now func() time.Time
}

// LoadCredentials reads the PEM private key at privateKeyPath.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("api key id is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}

	return &Credentials{KeyID: keyID, PrivateKey: key}, nil
}

// ParsePrivateKey accepts PKCS#8 and PKCS#1 PEM encodings.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// SignRequest returns the KALSHI-ACCESS-* headers for method and path.
// The signed message is timestamp_ms + method + path.
func (c *Credentials) SignRequest(method, path string) (map[string]string, error) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	ts := strconv.FormatInt(now().UnixMilli(), 10)

	hashed := sha256.Sum256([]byte(ts + method + path))
	sig, err := rsa.SignPSS(rand.Reader, c.PrivateKey, crypto.SHA256, hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       c.KeyID,
		"KALSHI-ACCESS-TIMESTAMP": ts,
		"KALSHI-ACCESS-SIGNATURE": base64.StdEncoding.EncodeToString(sig),
	}, nil
}

func (c *Credentials) handshakeHeader() (http.Header, error) {
	signed, err := c.SignRequest(http.MethodGet, WebSocketPath)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	for k, v := range signed {
		h.Set(k, v)
	}
	return h, nil
}
