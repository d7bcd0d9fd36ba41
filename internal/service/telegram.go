package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// verifyInitData checks a Telegram WebApp init data string against the bot
// token and returns its parsed fields without the hash.
func verifyInitData(initData, botToken string) (url.Values, error) {
	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil, ErrMalformedRequest
	}
	hash := params.Get("hash")
	if hash == "" {
		return nil, ErrInvalidInitData
	}
	params.Del("hash")

	expected := initDataHash(params, botToken)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(hash))) {
		return nil, ErrInvalidInitData
	}
	return params, nil
}

// initDataHash is hex(HMAC_SHA256(HMAC_SHA256("WebAppData", token), check string)).
func initDataHash(params url.Values, botToken string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+params.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignInitData builds the hash a Telegram client would attach to params.
func SignInitData(params url.Values, botToken string) string {
	out := url.Values{}
	for k, v := range params {
		if k != "hash" {
			out[k] = v
		}
	}
	out.Set("hash", initDataHash(out, botToken))
	return out.Encode()
}
