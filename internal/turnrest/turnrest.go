// Package turnrest mints short-lived TURN credentials that a coturn server
// configured with use-auth-secret accepts, so /webrtc/ice can hand browsers
// TURN access without a long-lived password.
//
//	username   = <unix_expiry>:<prefix>:<client>
//	credential = base64(hmac_sha1(secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now defaults to time.Now.
	Now func() time.Time
	// NewClientID names the holder of a credential when the caller has no id
	// of its own. Defaults to a random UUID.
	NewClientID func() string
}

type Generator struct {
	secret      []byte
	ttl         time.Duration
	prefix      string
	now         func() time.Time
	newClientID func() string
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("TTL must be at least 1s")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewClientID == nil {
		cfg.NewClientID = uuid.NewString
	}
	return &Generator{
		secret:      []byte(cfg.SharedSecret),
		ttl:         cfg.TTL,
		prefix:      cfg.UsernamePrefix,
		now:         cfg.Now,
		newClientID: cfg.NewClientID,
	}, nil
}

// Generate returns credentials bound to clientID. An empty clientID gets a
// generated one.
func (g *Generator) Generate(clientID string) (Credentials, error) {
	if clientID == "" {
		clientID = g.newClientID()
	}
	if strings.Contains(clientID, ":") {
		return Credentials{}, errors.New("client id must not contain ':'")
	}
	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), g.prefix, clientID)
	return Credentials{
		Username:   username,
		Credential: sign(g.secret, username),
		Expires:    expires,
	}, nil
}

// Apply returns a copy of servers where every server with a TURN URL carries
// creds. Other servers are returned unchanged.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if HasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func HasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
