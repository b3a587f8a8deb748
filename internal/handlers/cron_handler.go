package handlers

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/coinvault/backend/internal/services"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// CronHandler triggers settlement passes on demand. Deployments without an
// in-process ticker point their scheduler at this endpoint instead.
type CronHandler struct {
	settlement *services.SettlementService
}

func NewCronHandler(settlement *services.SettlementService) *CronHandler {
	return &CronHandler{settlement: settlement}
}

// TriggerSettlement runs one settlement pass
// @Summary Trigger a settlement pass
// @Description Fail stale transactions, settle internal moves and execute queued withdrawals
// @Tags cron
// @Produce json
// @Param Authorization header string true "Bearer cron token"
// @Success 200 {object} map[string]string
// @Failure 401 {object} services.ErrorResponse
// @Router /cron [post]
func (h *CronHandler) TriggerSettlement(w http.ResponseWriter, r *http.Request) {
	if !verifyCronToken(r.Header.Get("Authorization")) {
		services.SendErrorResponse(w, "Invalid cron token", http.StatusUnauthorized, nil)
		return
	}

	log.Println("[CRON] Settlement pass triggered")
	h.settlement.RunPass(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
}

// verifyCronToken checks the presented token against the stored argon2
// digest (cron.token_hash, "salt$hash" in base64).
func verifyCronToken(authHeader string) bool {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}

	stored := strings.Split(viper.GetString("cron.token_hash"), "$")
	if len(stored) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(stored[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(stored[1])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(parts[1]), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return subtle.ConstantTimeCompare(hash, computed) == 1
}
