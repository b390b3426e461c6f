// Package ingress implements the provider webhook handler of spec.md §4.1:
// verify the HMAC-SHA256 signature of the raw body, then enqueue the opaque
// bytes with no transformation. HMAC verification is grounded in the
// retrieval pack's WhatsApp webhook handler (verifyMetaSignature).
package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/wazero-automation/convo-core/internal/logging"
)

// Enqueuer pushes a raw event body onto the durable queue. No partition key
// is supplied: the gateway never parses the body, so events for one
// conversation may land on any partition and reach any consumer-group
// member; cross-worker serialization relies on internal/debounce's optional
// distlock.Lock.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) error
}

// Gateway is the net/http handler for the provider webhook.
type Gateway struct {
	Secret   string
	Queue    Enqueuer
	Header   string // signature header name, default "X-Hub-Signature-256"
}

// NewGateway builds a Gateway verifying signatures with secret and enqueuing
// accepted bodies via queue.
func NewGateway(secret string, queue Enqueuer) *Gateway {
	return &Gateway{Secret: secret, Queue: queue, Header: "X-Hub-Signature-256"}
}

// ServeHTTP implements spec.md §4.1: 200 on accept, 401 on bad signature,
// 503 on enqueue failure. The gateway never touches the database.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("ingress_read_body_failed")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !verifySignature(g.Secret, body, r.Header.Get(g.Header)) {
		logger.Warn().Msg("ingress_signature_invalid")
		http.Error(w, "forbidden", http.StatusUnauthorized)
		return
	}

	if err := g.Queue.Enqueue(ctx, body); err != nil {
		logger.Error().Err(err).Msg("ingress_enqueue_failed")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// verifySignature checks an HMAC-SHA256 "sha256=<hex>" header against body,
// using hmac.Equal for constant-time comparison.
func verifySignature(secret string, body []byte, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	expectedHex := strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(expectedHex))
}
