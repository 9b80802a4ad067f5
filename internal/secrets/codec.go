package secrets

import (
	"encoding/json"
	"fmt"

	"github.com/me/batchpoll/pkg/model"
)

// Encode serializes a credential for sealing.
func Encode(c model.Credential) ([]byte, error) {
	switch cred := c.(type) {
	case model.OpenAICredential:
		return json.Marshal(cred)
	case model.KeboolaCredential:
		return json.Marshal(cred)
	default:
		return nil, fmt.Errorf("unsupported credential type %T", c)
	}
}

// Decode parses unsealed material according to kind.
func Decode(kind model.SecretKind, data []byte) (model.Credential, error) {
	switch kind {
	case model.SecretKindOpenAI:
		var c model.OpenAICredential
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode openai credential: %w", err)
		}
		if c.APIKey == "" {
			return nil, fmt.Errorf("decode openai credential: empty api_key")
		}
		return c, nil
	case model.SecretKindKeboola:
		var c model.KeboolaCredential
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode keboola credential: %w", err)
		}
		if c.Token == "" {
			return nil, fmt.Errorf("decode keboola credential: empty token")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown secret kind %q", kind)
	}
}
