package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Signer authenticates a private REST request. It returns the final query
// string (without "?") and the headers to add.
type Signer interface {
	Sign(method, path string, params url.Values, body []byte) (string, http.Header)
}

func hmacHex(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func cloneValues(params url.Values) url.Values {
	out := make(url.Values, len(params)+2)
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// QuerySigner signs the encoded query string and appends it as "signature".
type QuerySigner struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

func NewQuerySigner(apiKey, apiSecret string) *QuerySigner {
	return &QuerySigner{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}
}

func (s *QuerySigner) Sign(method, path string, params url.Values, body []byte) (string, http.Header) {
	signed := cloneValues(params)
	signed.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	encoded := signed.Encode()

	header := make(http.Header)
	header.Set("X-MBX-APIKEY", s.apiKey)
	return encoded + "&signature=" + hmacHex(s.apiSecret, encoded), header
}

// HeaderSigner signs verb, path, query and an expiry timestamp in seconds.
type HeaderSigner struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

func NewHeaderSigner(apiKey, apiSecret string) *HeaderSigner {
	return &HeaderSigner{apiKey: apiKey, apiSecret: apiSecret, ttl: 5 * time.Second, now: time.Now}
}

func (s *HeaderSigner) Sign(method, path string, params url.Values, body []byte) (string, http.Header) {
	expires := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	query := params.Encode()

	message := method + path
	if len(params) > 0 {
		message += "?" + query
	}
	message += expires + string(body)

	header := make(http.Header)
	header.Set("api-expires", expires)
	header.Set("api-key", s.apiKey)
	header.Set("api-signature", hmacHex(s.apiSecret, message))
	return query, header
}

// BybitSigner implements the V5 scheme: timestamp + key + recvWindow + (query | body).
type BybitSigner struct {
	apiKey     string
	apiSecret  string
	recvWindow int
	now        func() time.Time
}

func NewBybitSigner(apiKey, apiSecret string) *BybitSigner {
	return &BybitSigner{apiKey: apiKey, apiSecret: apiSecret, recvWindow: 5000, now: time.Now}
}

func (s *BybitSigner) Sign(method, path string, params url.Values, body []byte) (string, http.Header) {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	recvWindow := strconv.Itoa(s.recvWindow)
	query := params.Encode()

	payload := query
	if len(body) > 0 {
		payload = string(body)
	}

	header := make(http.Header)
	header.Set("X-BAPI-API-KEY", s.apiKey)
	header.Set("X-BAPI-TIMESTAMP", timestamp)
	header.Set("X-BAPI-SIGN", hmacHex(s.apiSecret, timestamp+s.apiKey+recvWindow+payload))
	header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	return query, header
}
