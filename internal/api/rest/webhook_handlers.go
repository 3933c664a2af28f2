package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/mention"
)

const signatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds delivery payloads at 1MB.
const maxWebhookBody = 1 << 20

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleChallenge(w, r)
	case http.MethodPost:
		s.handleDelivery(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

// handleChallenge answers the provider's ownership check: the response
// token proves possession of the shared secret.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("crc_token")
	if token == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_TOKEN", "crc_token query parameter is required")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"response_token": signPayload(s.cfg.Webhook.Secret, []byte(token)),
	})
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_BODY", "failed to read request body")
		return
	}

	if s.cfg.Webhook.EnforceSignature {
		if !verifySignature(s.cfg.Webhook.Secret, body, r.Header.Get(signatureHeader)) {
			s.logger.Warn("webhook signature rejected",
				zap.String("remote_addr", r.RemoteAddr))
			s.writeError(w, http.StatusUnauthorized, "BAD_SIGNATURE", "signature verification failed")
			return
		}
	}

	events, err := mention.ParseWebhookPayload(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_PAYLOAD", "malformed webhook payload")
		return
	}

	accepted := 0
	for _, ev := range events {
		won, err := s.ingestor.Submit(r.Context(), ev, mention.SourceWebhook)
		if err != nil {
			s.logger.Warn("webhook event rejected",
				zap.String("event_id", ev.EventID),
				zap.Error(err))
			continue
		}
		if won {
			accepted++
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]int{
		"received": len(events),
		"accepted": accepted,
	})
}

// signPayload computes the sha256= signature over payload.
func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a sha256=<base64 hmac> header in constant time.
func verifySignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(header), []byte(signPayload(secret, body)))
}
