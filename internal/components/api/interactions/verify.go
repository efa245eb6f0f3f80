package interactions

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/ed25519"

	"github.com/CodeMC/bot/internal/components/api"
	"github.com/CodeMC/bot/internal/platform/logutil"
)

// Signature headers sent with every interaction.
const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// DefaultMaxBodyBytes bounds interaction payloads.
const DefaultMaxBodyBytes = 1 << 20

// ParsePublicKey decodes the hex application public key.
func ParsePublicKey(hexKey string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignature rejects requests whose signature header does not sign
// timestamp followed by the body. The verified body is handed on unchanged.
func VerifySignature(key ed25519.PublicKey, maxBody int64, log *slog.Logger) func(http.Handler) http.Handler {
	log = logutil.NoopIfNil(log)
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sigHex := r.Header.Get(HeaderSignature)
			timestamp := r.Header.Get(HeaderTimestamp)
			if sigHex == "" || timestamp == "" {
				api.WriteUnauthorized(w, api.ReasonSignatureRequired, "missing signature headers")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					api.WriteError(w, http.StatusRequestEntityTooLarge, api.ReasonPayloadTooLarge, "payload too large")
					return
				}
				api.WriteBadRequest(w, api.ReasonBadRequest, "could not read body")
				return
			}

			sig, err := hex.DecodeString(sigHex)
			if err != nil || len(sig) != ed25519.SignatureSize {
				api.WriteUnauthorized(w, api.ReasonSignatureInvalid, "malformed signature")
				return
			}
			msg := append([]byte(timestamp), body...)
			if !ed25519.Verify(key, msg, sig) {
				log.Warn("interaction signature rejected")
				api.WriteUnauthorized(w, api.ReasonSignatureInvalid, "invalid request signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
