package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// credentialEnvelope is the serialized form of a CredentialValue: a
// discriminated envelope rather than a value plus a side-channel tag. The
// same shape crosses the bridge socket and lands in the credential store.
type credentialEnvelope struct {
	Encoding Encoding        `json:"encoding"`
	Data     json.RawMessage `json:"data"`
}

func (v CredentialValue) MarshalJSON() ([]byte, error) {
	switch v.Encoding {
	case EncodingStructured:
		data := v.Structured
		if data == nil {
			data = json.RawMessage("null")
		}
		return json.Marshal(credentialEnvelope{Encoding: EncodingStructured, Data: data})
	case EncodingBinary:
		encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(v.Binary))
		if err != nil {
			return nil, err
		}
		return json.Marshal(credentialEnvelope{Encoding: EncodingBinary, Data: encoded})
	default:
		return nil, fmt.Errorf("unknown credential encoding %q", v.Encoding)
	}
}

func (v *CredentialValue) UnmarshalJSON(b []byte) error {
	var env credentialEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Encoding {
	case EncodingStructured:
		if len(env.Data) == 0 {
			return fmt.Errorf("structured credential envelope without data")
		}
		*v = CredentialValue{Encoding: EncodingStructured, Structured: env.Data}
		return nil
	case EncodingBinary:
		var encoded string
		if err := json.Unmarshal(env.Data, &encoded); err != nil {
			return fmt.Errorf("binary credential envelope: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("binary credential envelope: %w", err)
		}
		*v = CredentialValue{Encoding: EncodingBinary, Binary: raw}
		return nil
	default:
		return fmt.Errorf("unknown credential encoding %q", env.Encoding)
	}
}
