package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// DefaultSTUNURL is advertised when no ICE servers are configured.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// TURNCredentials says where TURN entries advertised on /webrtc/ice get their
// username and credential from.
type TURNCredentials int

const (
	// TURNCredentialsStatic requires every TURN entry to be configured with
	// its own username and credential.
	TURNCredentialsStatic TURNCredentials = iota
	// TURNCredentialsMinted leaves TURN entries bare; credentials are minted
	// per request from the TURN REST shared secret.
	TURNCredentialsMinted
)

// ICESource is the ICE configuration as read from env, flags or the config
// file. JSON, when set, replaces the STUN/TURN convenience values.
type ICESource struct {
	JSON           string
	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

func (src ICESource) empty() bool {
	return strings.TrimSpace(src.JSON) == "" &&
		strings.TrimSpace(src.STUNURLs) == "" &&
		strings.TrimSpace(src.TURNURLs) == ""
}

// Servers resolves the list browsers receive. With nothing configured it is a
// single public STUN server.
func (src ICESource) Servers(creds TURNCredentials) ([]webrtc.ICEServer, error) {
	if src.empty() {
		return []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}, nil
	}
	if strings.TrimSpace(src.JSON) != "" {
		servers, err := decodeICEServers(src.JSON, creds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := commaList(src.STUNURLs); len(urls) > 0 {
		stun := webrtc.ICEServer{URLs: urls}
		if hasTURN(urls) {
			return nil, fmt.Errorf("%s: turn urls belong in %s", envStunURLs, envTurnURLs)
		}
		if err := checkICEServer(stun, creds); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, stun)
	}
	if urls := commaList(src.TURNURLs); len(urls) > 0 {
		turn := webrtc.ICEServer{URLs: urls, Username: strings.TrimSpace(src.TURNUsername)}
		if cred := strings.TrimSpace(src.TURNCredential); cred != "" {
			turn.Credential = cred
		}
		if err := checkICEServer(turn, creds); err != nil {
			return nil, fmt.Errorf("%s: %w (set %s and %s, or TURN REST)", envTurnURLs, err, envTurnUsername, envTurnCredential)
		}
		servers = append(servers, turn)
	}
	return servers, nil
}

// iceEntry is one RTCIceServer dictionary as browsers accept it: urls may be a
// single string or a list.
type iceEntry struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username"`
	Credential string  `json:"credential"`
}

type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if json.Unmarshal(b, &one) == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("urls must be a string or a list of strings")
	}
	*l = many
	return nil
}

func decodeICEServers(raw string, creds TURNCredentials) ([]webrtc.ICEServer, error) {
	var entries []iceEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		s := webrtc.ICEServer{
			URLs:     commaList(strings.Join(e.URLs, ",")),
			Username: strings.TrimSpace(e.Username),
		}
		if strings.TrimSpace(e.Credential) != "" {
			s.Credential = e.Credential
		}
		if err := checkICEServer(s, creds); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func checkICEServer(s webrtc.ICEServer, creds TURNCredentials) error {
	if len(s.URLs) == 0 {
		return errors.New("no urls")
	}
	for _, u := range s.URLs {
		if _, ok := iceScheme(u); !ok {
			return fmt.Errorf("unsupported url %q", u)
		}
	}
	if !hasTURN(s.URLs) || creds == TURNCredentialsMinted {
		return nil
	}
	if s.Username == "" {
		return errors.New("turn urls require a username")
	}
	if cred, _ := s.Credential.(string); strings.TrimSpace(cred) == "" {
		return errors.New("turn urls require a credential")
	}
	return nil
}

// iceScheme returns the url scheme when it is one of stun, stuns, turn or turns.
func iceScheme(u string) (string, bool) {
	scheme, rest, ok := strings.Cut(u, ":")
	if !ok || rest == "" {
		return "", false
	}
	switch scheme {
	case "stun", "stuns", "turn", "turns":
		return scheme, true
	}
	return "", false
}

func hasTURN(urls []string) bool {
	for _, u := range urls {
		if scheme, _ := iceScheme(u); scheme == "turn" || scheme == "turns" {
			return true
		}
	}
	return false
}

// commaList splits a comma-separated value, dropping blanks.
func commaList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
