package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MigrationHandler управляет привязкой клиентов к шлюзам
type MigrationHandler struct {
	coordinator service.MigrationCoordinator
	log         *logger.Logger
}

// NewMigrationHandler создает новый обработчик миграции
func NewMigrationHandler(coordinator service.MigrationCoordinator, log *logger.Logger) *MigrationHandler {
	return &MigrationHandler{
		coordinator: coordinator,
		log:         log,
	}
}

// customerID извлекает UUID клиента из пути
func (h *MigrationHandler) customerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "customer not found"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError отображает ошибки координатора в HTTP-коды
func (h *MigrationHandler) respondError(c *gin.Context, customerID uuid.UUID, err error) {
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "customer not found"})
	case errors.Is(err, domain.ErrMigrationIncomplete):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Errorw("Migration operation failed", "customerID", customerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// MarkLegacy обрабатывает POST /api/v1/customers/:id/migration/legacy
func (h *MigrationHandler) MarkLegacy(c *gin.Context) {
	id, ok := h.customerID(c)
	if !ok {
		return
	}

	if err := h.coordinator.MarkLegacy(c.Request.Context(), id); err != nil {
		h.respondError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"customer_id": id, "assignment": string(domain.AssignmentLegacy)})
}

// BeginDual обрабатывает POST /api/v1/customers/:id/migration/dual
func (h *MigrationHandler) BeginDual(c *gin.Context) {
	id, ok := h.customerID(c)
	if !ok {
		return
	}

	if err := h.coordinator.BeginDual(c.Request.Context(), id); err != nil {
		h.respondError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"customer_id": id, "assignment": string(domain.AssignmentDual)})
}

// CompleteMigration обрабатывает POST /api/v1/customers/:id/migration/complete
func (h *MigrationHandler) CompleteMigration(c *gin.Context) {
	id, ok := h.customerID(c)
	if !ok {
		return
	}

	if err := h.coordinator.CompleteMigration(c.Request.Context(), id); err != nil {
		h.respondError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"customer_id": id, "assignment": string(domain.AssignmentCurrent)})
}

// AuditLog обрабатывает GET /api/v1/customers/:id/migration/audit
func (h *MigrationHandler) AuditLog(c *gin.Context) {
	id, ok := h.customerID(c)
	if !ok {
		return
	}

	entries, err := h.coordinator.AuditLog(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"customer_id": id, "entries": entries})
}
