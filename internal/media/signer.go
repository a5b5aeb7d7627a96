// Package media signs playback URLs.
package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrBadSignature = errors.New("media: bad signature")
	ErrExpired      = errors.New("media: url expired")
)

// Signer appends an HMAC-SHA256 signature over "path|exp" to playback
// URLs.  The media edge recomputes it with the same secret.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

func NewSigner(secret, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Signer{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/"), ttl: ttl}
}

// Sign returns the signed master playlist URL for token and its expiry.
func (s *Signer) Sign(token string, now time.Time) (string, time.Time) {
	exp := now.Add(s.ttl).Truncate(time.Second)
	path := s.baseURL + "/" + url.PathEscape(token) + "/master.m3u8"
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp.Unix(), 10))
	q.Set("sig", s.mac(path, exp.Unix()))
	return path + "?" + q.Encode(), exp
}

// Verify checks a URL produced by Sign.
func (s *Signer) Verify(raw string, now time.Time) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "parse media url")
	}
	exp, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	want := s.mac(path, exp)
	if !hmac.Equal([]byte(want), []byte(u.Query().Get("sig"))) {
		return ErrBadSignature
	}
	if now.Unix() > exp {
		return ErrExpired
	}
	return nil
}

func (s *Signer) mac(path string, exp int64) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(path + "|" + strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
