package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"vitalink/internal/keys"
	mw "vitalink/internal/middleware"
	"vitalink/internal/store"
)

// DeviceKeyHandler issues and rotates the per-slot device keys. The
// plaintext is returned exactly once; only its hash is stored, and rotation
// kills the previous key immediately.
type DeviceKeyHandler struct {
	users  store.UserStore
	logger *zap.Logger
}

func NewDeviceKeyHandler(users store.UserStore, logger *zap.Logger) *DeviceKeyHandler {
	return &DeviceKeyHandler{users: users, logger: logger}
}

// IssueIoTKey rotates the general IoT key slot.
func (h *DeviceKeyHandler) IssueIoTKey(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, store.SlotIoT)
}

// IssueEmotionKey rotates the camera key slot.
func (h *DeviceKeyHandler) IssueEmotionKey(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, store.SlotEmotion)
}

func (h *DeviceKeyHandler) issue(w http.ResponseWriter, r *http.Request, slot store.KeySlot) {
	subject := mw.Subject(r.Context())

	user, err := h.users.UpsertUserBySubject(r.Context(), subject)
	if err != nil {
		h.logger.Error("user upsert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not resolve user")
		return
	}

	plain, err := keys.Generate()
	if err != nil {
		h.logger.Error("key generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not generate key")
		return
	}

	if err := h.users.RotateKey(r.Context(), user.ID, slot, keys.Hash(plain)); err != nil {
		h.logger.Error("key rotation failed", zap.Int("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not store key")
		return
	}

	h.logger.Info("device key rotated", zap.Int("user_id", user.ID), zap.String("slot", string(slot)))

	// Plaintext goes out once; it is not retrievable again.
	writeJSON(w, http.StatusCreated, map[string]string{"apiKey": plain})
}
