package utils

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/pkg/models"
)

// LogPaperHistory inserts an audit record into paper_histories.
// Used to track status changes and other important actions on a paper.
// Errors are ignored on purpose (best-effort logging).
func LogPaperHistory(
	ctx context.Context,
	db *gorm.DB,
	paperID, actorID uuid.UUID,
	action string,
	oldS, newS models.PaperStatus,
	reason string,
) {
	_ = db.WithContext(ctx).Create(&models.PaperHistory{
		PaperID:   paperID,
		ActorID:   actorID,
		Action:    action,
		OldStatus: oldS,
		NewStatus: newS,
		Reason:    reason,
		CreatedAt: time.Now(),
	}).Error
}
