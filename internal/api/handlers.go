package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/messaging"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
)

// ShiftNotificationRequest invites a worker to a shift. The worker is named
// by phone or by worker id.
type ShiftNotificationRequest struct {
	Phone    string `json:"phone,omitempty"`
	WorkerID string `json:"worker_id,omitempty"`
	ShiftID  string `json:"shift_id"`
}

// OvertimeRequest asks a worker to extend a shift.
type OvertimeRequest struct {
	Phone    string  `json:"phone,omitempty"`
	WorkerID string  `json:"worker_id,omitempty"`
	ShiftID  string  `json:"shift_id"`
	Hours    float64 `json:"hours"`
	Rate     float64 `json:"rate"`
}

// ContactUpdateRequest changes one contact detail of a worker.
type ContactUpdateRequest struct {
	Kind  models.ContactKind `json:"kind"`
	Value string             `json:"value"`
}

// CodeRequest creates or replaces a registration code. Active defaults to true.
type CodeRequest struct {
	Code        string     `json:"code"`
	Description string     `json:"description,omitempty"`
	MaxUses     int        `json:"max_uses,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      *bool      `json:"active,omitempty"`
}

// shiftNotificationHandler handles POST /campaigns/shift-notification.
func (s *Server) shiftNotificationHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.shiftNotificationHandler: invoked", "path", r.URL.Path)
	var req ShiftNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ShiftID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("shift_id is required"))
		return
	}
	phone, ok := s.resolvePhone(r.Context(), w, req.Phone, req.WorkerID)
	if !ok {
		return
	}

	out, err := s.dispatcher.NotifyShift(r.Context(), phone, req.ShiftID)
	if err != nil {
		slog.Warn("Server.shiftNotificationHandler: notification failed", "error", err, "shiftID", req.ShiftID)
		writeError(w, err)
		return
	}
	slog.Info("Server.shiftNotificationHandler: worker notified", "to", out.Address, "shiftID", req.ShiftID, "delivered", out.Delivered)
	writeOutcome(w, "Shift notification sent", out.Delivered, out)
}

// overtimeHandler handles POST /campaigns/overtime.
func (s *Server) overtimeHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.overtimeHandler: invoked", "path", r.URL.Path)
	var req OvertimeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ShiftID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("shift_id is required"))
		return
	}
	if req.Hours <= 0 || req.Rate <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("hours and rate must be positive"))
		return
	}
	phone, ok := s.resolvePhone(r.Context(), w, req.Phone, req.WorkerID)
	if !ok {
		return
	}

	out, err := s.dispatcher.RequestOvertime(r.Context(), phone, req.ShiftID, req.Hours, req.Rate)
	if err != nil {
		slog.Warn("Server.overtimeHandler: request failed", "error", err, "shiftID", req.ShiftID)
		writeError(w, err)
		return
	}
	slog.Info("Server.overtimeHandler: overtime requested", "to", out.Address, "shiftID", req.ShiftID, "hours", req.Hours)
	writeOutcome(w, "Overtime request sent", out.Delivered, out)
}

// contactUpdateHandler handles POST /workers/{id}/contact.
func (s *Server) contactUpdateHandler(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("id")
	slog.Debug("Server.contactUpdateHandler: invoked", "workerID", workerID)
	var req ContactUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !models.IsValidContactKind(req.Kind) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("kind must be one of phone, email, emergency_contact"))
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("value is required"))
		return
	}

	out, err := s.dispatcher.UpdateContact(r.Context(), workerID, req.Kind, strings.TrimSpace(req.Value))
	if err != nil {
		slog.Warn("Server.contactUpdateHandler: update failed", "error", err, "workerID", workerID)
		writeError(w, err)
		return
	}
	slog.Info("Server.contactUpdateHandler: contact updated", "workerID", workerID, "kind", req.Kind)
	writeOutcome(w, "Contact updated", out.Delivered, out)
}

// listConversationsHandler handles GET /conversations.
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	convs, err := s.st.ListActiveConversations(r.Context())
	if err != nil {
		slog.Error("Server.listConversationsHandler: failed to list conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	slog.Debug("Server.listConversationsHandler: conversations fetched", "count", len(convs))
	writeJSONResponse(w, http.StatusOK, models.Success(convs))
}

// getConversationHandler handles GET /conversations/{id}.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.st.GetConversationByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		slog.Error("Server.getConversationHandler: failed to get conversation", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// cleanupHandler handles POST /conversations/cleanup.
func (s *Server) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.dispatcher.CleanupExpired(r.Context())
	if err != nil {
		slog.Error("Server.cleanupHandler: cleanup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clean up conversations"))
		return
	}
	slog.Info("Server.cleanupHandler: expired conversations removed", "count", n)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"removed": n}))
}

// listCodesHandler handles GET /codes.
func (s *Server) listCodesHandler(w http.ResponseWriter, r *http.Request) {
	codes, err := s.st.ListCodes(r.Context())
	if err != nil {
		slog.Error("Server.listCodesHandler: failed to list codes", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list registration codes"))
		return
	}
	if codes == nil {
		codes = []regcode.Code{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(codes))
}

// addCodeHandler handles POST /codes.
func (s *Server) addCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if regcode.Normalize(req.Code) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("code is required"))
		return
	}
	if req.MaxUses < 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("max_uses cannot be negative"))
		return
	}
	code := regcode.Code{
		Code:        strings.TrimSpace(req.Code),
		Description: req.Description,
		Active:      req.Active == nil || *req.Active,
		MaxUses:     req.MaxUses,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.st.AddCode(r.Context(), code); err != nil {
		slog.Error("Server.addCodeHandler: failed to store code", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store registration code"))
		return
	}
	slog.Info("Server.addCodeHandler: registration code stored", "code", code.Code, "active", code.Active)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Registration code stored", code))
}

// deactivateCodeHandler handles DELETE /codes/{code}.
func (s *Server) deactivateCodeHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if err := s.st.DeactivateCode(r.Context(), code); err != nil {
		if errors.Is(err, regcode.ErrCodeNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Registration code not found"))
			return
		}
		slog.Error("Server.deactivateCodeHandler: failed to deactivate code", "error", err, "code", code)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to deactivate registration code"))
		return
	}
	slog.Info("Server.deactivateCodeHandler: registration code deactivated", "code", code)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Registration code deactivated", nil))
}

// receiptsHandler handles GET /receipts.
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.st.GetReceipts(r.Context())
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}

	// Active conversation count doubles as a store liveness probe.
	if convs, err := s.st.ListActiveConversations(ctx); err != nil {
		slog.Warn("Server.healthHandler: failed to count active conversations", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to fetch conversation metrics"
	} else {
		healthData["active_conversations"] = len(convs)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}

// resolvePhone returns the worker address a campaign targets. A worker id
// takes precedence over a phone number.
func (s *Server) resolvePhone(ctx context.Context, w http.ResponseWriter, phone, workerID string) (string, bool) {
	if workerID != "" {
		worker, err := s.st.FindWorkerByID(ctx, workerID)
		if err != nil {
			slog.Error("Server.resolvePhone: worker lookup failed", "error", err, "workerID", workerID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up worker"))
			return "", false
		}
		if worker == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Worker not found"))
			return "", false
		}
		return worker.Phone, true
	}
	if strings.TrimSpace(phone) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("phone or worker_id is required"))
		return "", false
	}
	canonical, err := messaging.CanonicalizeAddress(phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return "", false
	}
	return canonical, true
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("api.decodeJSON: invalid JSON", "error", err, "path", r.URL.Path)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}
