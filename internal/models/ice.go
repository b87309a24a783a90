package models

import (
	"encoding/json"
	"time"
)

// ICEServer is one relay- or STUN-server descriptor as returned by the
// credential broker: {urls, username, credential}. "urls" may be a single
// string or an array of strings on the wire.
type ICEServer struct {
	URLs       StringList `json:"urls"`
	Username   string     `json:"username,omitempty"`
	Credential string     `json:"credential,omitempty"`
}

// RelayCredentialSet bundles the ICE servers handed to a peer connection for
// one call attempt. It is disposable and never persisted.
type RelayCredentialSet struct {
	Servers  []ICEServer   `json:"servers"`
	IssuedAt time.Time     `json:"issuedAt"`
	TTL      time.Duration `json:"ttl"`
	// Fallback is true when the broker was unreachable and the static set
	// was substituted.
	Fallback bool `json:"fallback,omitempty"`
}

// StringList unmarshals from either a JSON string or a JSON array of strings.
type StringList []string

func (s *StringList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}
