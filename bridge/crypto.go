package bridge

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentbridge/core"
)

const sealNonceLen = 12

// payloadSealer wraps sensitive payloads in an opaque AES-GCM envelope
// before delivery. The key is derived from a shared secret; this is
// transport opacity between co-operating platforms, not a general security
// boundary.
type payloadSealer struct {
	gcm cipher.AEAD
}

func newPayloadSealer(secret string) (*payloadSealer, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &payloadSealer{gcm: gcm}, nil
}

// Seal replaces a payload with its encrypted wrapper:
// {"encrypted": true, "nonce": base64, "data": base64}.
func (s *payloadSealer) Seal(payload any) (map[string]any, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	nonce := make([]byte, sealNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.gcm.Seal(nil, nonce, plaintext, nil)
	return map[string]any{
		"encrypted": true,
		"nonce":     base64.StdEncoding.EncodeToString(nonce),
		"data":      base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Open reverses Seal, returning the original payload value.
func (s *payloadSealer) Open(wrapper map[string]any) (any, error) {
	nonceB64, _ := wrapper["nonce"].(string)
	dataB64, _ := wrapper["data"].(string)
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	var payload any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return payload, nil
}

// isSensitive reports whether an envelope's payload asks for sealing: an
// object payload carrying a truthy "sensitive" key.
func isSensitive(env core.Envelope) bool {
	payload, ok := env.Payload.(map[string]any)
	if !ok {
		return false
	}
	v, ok := payload["sensitive"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
