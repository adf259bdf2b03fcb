// Package tokenbroker mints short-lived credentials for the external
// realtime media and pub/sub services. It is stateless: every call is a
// pure function of its inputs and the process-wide signing secrets, which
// are held only in memory and never logged.
package tokenbroker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/orbitline/sessioncore/pkg/idhash"
)

const (
	rtcTokenTTL    = 24 * time.Hour
	pubSubTokenTTL = 1 * time.Hour
)

// Role is the RTC role a publisher/subscriber token is bound to.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// RTCToken is an RTC credential bound to one channel, one subject, and one
// role, with a deterministic numeric UID derived from the subject id.
type RTCToken struct {
	Token     string    `json:"token"`
	Channel   string    `json:"channel"`
	UID       uint32    `json:"uid"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PubSubToken grants subscribe/publish/presence capability on every
// channel, scoped for 1 hour.
type PubSubToken struct {
	Token      string         `json:"token"`
	Capability map[string]any `json:"capability"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Broker holds the two external signing secrets. It never serializes or
// logs them.
type Broker struct {
	rtcAppID     string
	rtcCertSecret []byte
	pubSubSecret  []byte
}

func New(rtcAppID, rtcCertificate, pubSubAPIKey string) *Broker {
	return &Broker{
		rtcAppID:      rtcAppID,
		rtcCertSecret: []byte(rtcCertificate),
		pubSubSecret:  []byte(pubSubAPIKey),
	}
}

// IssueRTCToken mints a channel-bound RTC token for subject with the given
// role. UID is deterministic: the same subject always maps to the same
// numeric id on a given channel, which is all the RTC SDK requires.
func (b *Broker) IssueRTCToken(subjectID, channel string, role Role) RTCToken {
	uid := idhash.UID32(subjectID)
	expires := time.Now().UTC().Add(rtcTokenTTL)
	claim := rtcClaim{AppID: b.rtcAppID, Channel: channel, UID: uid, Role: string(role), Exp: expires.Unix()}
	return RTCToken{
		Token:     b.sign(b.rtcCertSecret, claim),
		Channel:   channel,
		UID:       uid,
		Role:      role,
		ExpiresAt: expires,
	}
}

// IssuePubSubToken mints a wildcard-scoped pub/sub token for subject.
func (b *Broker) IssuePubSubToken(subjectID string) PubSubToken {
	expires := time.Now().UTC().Add(pubSubTokenTTL)
	capability := map[string]any{"*": []string{"subscribe", "publish", "presence"}}
	claim := pubSubClaim{Subject: subjectID, Capability: capability, Exp: expires.Unix()}
	return PubSubToken{
		Token:      b.sign(b.pubSubSecret, claim),
		Capability: capability,
		ExpiresAt:  expires,
	}
}

type rtcClaim struct {
	AppID   string `json:"app_id"`
	Channel string `json:"channel"`
	UID     uint32 `json:"uid"`
	Role    string `json:"role"`
	Exp     int64  `json:"exp"`
}

type pubSubClaim struct {
	Subject    string         `json:"subject"`
	Capability map[string]any `json:"capability"`
	Exp        int64          `json:"exp"`
}

// sign produces an opaque base64 token: the claim body plus an HMAC-SHA256
// signature over it, computed with the relevant external service's secret.
// This stands in for whatever binary token format the real RTC/pub-sub SDKs
// use; the broker's contract is the claim shape and the secret boundary,
// not wire compatibility with a specific vendor.
func (b *Broker) sign(secret []byte, claim interface{}) string {
	body, _ := json.Marshal(claim)
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(sig)
}
