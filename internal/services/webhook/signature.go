package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

// DefaultTolerance is how far a signature timestamp may drift from now.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrInvalidSignature is returned for any payload whose signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned for a verified payload that cannot be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// SecretSource yields the signing secrets accepted right now, newest first.
type SecretSource interface {
	SigningSecrets(ctx context.Context) ([]string, error)
}

// StaticSecrets is a fixed current/previous pair, typically from config.
type StaticSecrets struct {
	Current  string
	Previous string
}

// SigningSecrets implements SecretSource
func (s StaticSecrets) SigningSecrets(context.Context) ([]string, error) {
	return nonEmpty(s.Current, s.Previous), nil
}

// StoreSecrets resolves the current and previous secret versions from a secret store on every
// call, so a rotation is picked up without a restart. Stores cache internally.
type StoreSecrets struct {
	Store ports.SecretStore
	Path  string
}

// SigningSecrets implements SecretSource
func (s StoreSecrets) SigningSecrets(ctx context.Context) ([]string, error) {
	current, err := s.Store.GetSecret(ctx, s.Path)
	if err != nil {
		return nil, fmt.Errorf("load webhook secret %s: %w", s.Path, err)
	}
	previous, err := s.Store.GetPreviousSecret(ctx, s.Path)
	if err != nil {
		return nil, fmt.Errorf("load previous webhook secret %s: %w", s.Path, err)
	}
	secrets := []string{current.Value}
	if previous != nil {
		secrets = append(secrets, previous.Value)
	}
	return nonEmpty(secrets...), nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Sign builds a "t=<unix>,v1=<hex>" header for payload. The signed message is "<unix>.<payload>".
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature(ts, payload, secret)
}

func computeSignature(ts string, payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks header against payload with any of secrets. Every v1 entry in the
// header is tried, so the sender may sign with both secrets during a rotation.
func VerifySignature(payload []byte, header string, secrets []string, tolerance time.Duration, now time.Time) error {
	if len(secrets) == 0 {
		return fmt.Errorf("%w: no signing secret configured", ErrInvalidSignature)
	}
	ts, signatures := parseHeader(header)
	if ts == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if tolerance > 0 {
		drift := now.Sub(time.Unix(unix, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	for _, secret := range secrets {
		expected := computeSignature(ts, payload, secret)
		for _, sig := range signatures {
			if hmac.Equal([]byte(sig), []byte(expected)) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
}

func parseHeader(header string) (string, []string) {
	var ts string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	return ts, signatures
}
