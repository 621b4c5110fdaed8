// Package verifiertest builds Stripe-shaped signed webhook payloads for tests.
package verifiertest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Sign returns a Stripe-Signature header value for payload.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// Event marshals a minimal event envelope around object.
func Event(id, eventType string, object any, previous map[string]any) []byte {
	data := map[string]any{"object": object}
	if previous != nil {
		data["previous_attributes"] = previous
	}
	b, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"livemode":    false,
		"api_version": "2025-09-30.clover",
		"data":        data,
	})
	if err != nil {
		panic(err)
	}
	return b
}
