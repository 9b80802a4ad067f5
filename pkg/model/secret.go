package model

import (
	"fmt"
	"time"
)

// SecretKind identifies which provider a credential authenticates against.
// The set is closed: every switch over it must handle each kind.
type SecretKind string

const (
	SecretKindOpenAI  SecretKind = "openai"
	SecretKindKeboola SecretKind = "keboola"
)

// String returns the string representation of the kind.
func (k SecretKind) String() string {
	return string(k)
}

// Valid reports whether k is a known kind.
func (k SecretKind) Valid() bool {
	switch k {
	case SecretKindOpenAI, SecretKindKeboola:
		return true
	}
	return false
}

// Secret is a named credential. The credential material itself is only ever
// held sealed at rest and is never serialized back to API clients.
type Secret struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      SecretKind `json:"kind"`
	Sealed    []byte     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}

// Credential is decrypted secret material. Implementations are limited to
// this package.
type Credential interface {
	Kind() SecretKind
	credential()
}

// OpenAICredential authenticates batch status queries.
type OpenAICredential struct {
	APIKey       string `json:"api_key"`
	Organization string `json:"organization,omitempty"`
}

func (OpenAICredential) Kind() SecretKind { return SecretKindOpenAI }
func (OpenAICredential) credential()      {}

// String redacts the key so credentials never leak through %v.
func (c OpenAICredential) String() string {
	return "OpenAICredential{APIKey:" + redact(c.APIKey) + "}"
}

// KeboolaCredential authenticates completion triggers.
type KeboolaCredential struct {
	Token string `json:"token"`
}

func (KeboolaCredential) Kind() SecretKind { return SecretKindKeboola }
func (KeboolaCredential) credential()      {}

// String redacts the token.
func (c KeboolaCredential) String() string {
	return "KeboolaCredential{Token:" + redact(c.Token) + "}"
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// ResolvedSecret is a Secret together with its decrypted credential.
type ResolvedSecret struct {
	Secret
	Credential Credential
}

// NewCredential builds the typed credential for kind from raw request fields.
func NewCredential(kind SecretKind, apiKey, organization, token string) (Credential, error) {
	switch kind {
	case SecretKindOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("openai secret requires api_key")
		}
		return OpenAICredential{APIKey: apiKey, Organization: organization}, nil
	case SecretKindKeboola:
		if token == "" {
			return nil, fmt.Errorf("keboola secret requires token")
		}
		return KeboolaCredential{Token: token}, nil
	default:
		return nil, fmt.Errorf("unknown secret kind %q", kind)
	}
}
