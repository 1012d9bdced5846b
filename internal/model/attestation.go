package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

type AttestationScheme string

const (
	AttestationNone          AttestationScheme = "none"
	AttestationPlayIntegrity AttestationScheme = "play_integrity"
	AttestationAppAttest     AttestationScheme = "app_attest"
	AttestationOpaque        AttestationScheme = "opaque"
)

const maxAttestationBytes = 16 * 1024

// Attestation is the device integrity evidence captured at registration.
// Exactly one payload field is set, selected by Scheme. Payloads are kept
// for audit only and are not verified against the platform vendors.
type Attestation struct {
	Scheme        AttestationScheme         `json:"scheme"`
	PlayIntegrity *PlayIntegrityAttestation `json:"play_integrity,omitempty"`
	AppAttest     *AppAttestAttestation     `json:"app_attest,omitempty"`
	Opaque        json.RawMessage           `json:"opaque,omitempty"`
}

type PlayIntegrityAttestation struct {
	IntegrityToken string `json:"integrity_token"`
	PackageName    string `json:"package_name,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
}

type AppAttestAttestation struct {
	KeyID       string `json:"key_id"`
	Attestation string `json:"attestation"`
	Challenge   string `json:"challenge,omitempty"`
}

func NoAttestation() Attestation {
	return Attestation{Scheme: AttestationNone}
}

// ParseAttestation accepts the client's attestation_data in any of its
// historic shapes: absent, a bare string, a scheme-tagged object, or an
// arbitrary JSON value. Unknown shapes are kept verbatim as opaque.
func ParseAttestation(raw json.RawMessage) (Attestation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return NoAttestation(), nil
	}

	if len(trimmed) > maxAttestationBytes {
		return Attestation{}, ErrInvalidAttestation.WithDetails("attestation_data exceeds 16KiB")
	}

	if !json.Valid(trimmed) {
		return Attestation{}, ErrInvalidAttestation.WithDetails("attestation_data is not valid JSON")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Attestation{}, ErrInvalidAttestation
		}
		if strings.TrimSpace(s) == "" {
			return NoAttestation(), nil
		}
		return Attestation{Scheme: AttestationOpaque, Opaque: cloneRaw(trimmed)}, nil
	case '{':
		return parseTaggedAttestation(trimmed)
	default:
		return Attestation{Scheme: AttestationOpaque, Opaque: cloneRaw(trimmed)}, nil
	}
}

func parseTaggedAttestation(raw []byte) (Attestation, error) {
	var envelope Attestation
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Attestation{Scheme: AttestationOpaque, Opaque: cloneRaw(raw)}, nil
	}

	switch envelope.Scheme {
	case AttestationNone:
		return NoAttestation(), nil
	case AttestationPlayIntegrity:
		if envelope.PlayIntegrity == nil || strings.TrimSpace(envelope.PlayIntegrity.IntegrityToken) == "" {
			return Attestation{}, ErrInvalidAttestation.WithDetails("play_integrity.integrity_token is required")
		}
		return Attestation{Scheme: AttestationPlayIntegrity, PlayIntegrity: envelope.PlayIntegrity}, nil
	case AttestationAppAttest:
		if envelope.AppAttest == nil ||
			strings.TrimSpace(envelope.AppAttest.KeyID) == "" ||
			strings.TrimSpace(envelope.AppAttest.Attestation) == "" {
			return Attestation{}, ErrInvalidAttestation.WithDetails("app_attest.key_id and app_attest.attestation are required")
		}
		return Attestation{Scheme: AttestationAppAttest, AppAttest: envelope.AppAttest}, nil
	case AttestationOpaque:
		if len(envelope.Opaque) == 0 {
			return Attestation{Scheme: AttestationOpaque, Opaque: cloneRaw(raw)}, nil
		}
		return Attestation{Scheme: AttestationOpaque, Opaque: envelope.Opaque}, nil
	default:
		return Attestation{Scheme: AttestationOpaque, Opaque: cloneRaw(raw)}, nil
	}
}

func cloneRaw(raw []byte) json.RawMessage {
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
