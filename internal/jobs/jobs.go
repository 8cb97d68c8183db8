package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/internal/storage"
	"github.com/scholarpress/portal-backend/pkg/metrics"
	"github.com/scholarpress/portal-backend/pkg/models"
)

// Runner owns the background maintenance schedule: sweeping orphaned
// uploads out of object storage and keeping the overdue-papers gauge fresh.
type Runner struct {
	db          *gorm.DB
	sb          *storage.Supabase
	log         *zap.Logger
	cron        *cron.Cron
	orphanGrace time.Duration
}

func NewRunner(db *gorm.DB, sb *storage.Supabase, log *zap.Logger, orphanGraceHours int) *Runner {
	return &Runner{
		db:          db,
		sb:          sb,
		log:         log,
		cron:        cron.New(),
		orphanGrace: time.Duration(orphanGraceHours) * time.Hour,
	}
}

// Start registers both jobs on the given schedule and starts the scheduler.
func (r *Runner) Start(schedule string) error {
	if _, err := r.cron.AddFunc(schedule, r.SweepOrphans); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(schedule, r.RefreshOverdueGauge); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop waits for any in-flight job to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// SweepOrphans deletes stored objects that no paper row references anymore.
// Uploads race row creation, so objects younger than the grace window are
// left alone.
func (r *Runner) SweepOrphans() {
	if r.sb == nil {
		return
	}

	objects, err := r.sb.List("paper")
	if err != nil {
		r.log.Warn("orphan sweep: list failed", zap.Error(err))
		return
	}
	if len(objects) == 0 {
		return
	}

	var keys []string
	if err := r.db.Model(&models.Paper{}).Pluck("file_key", &keys).Error; err != nil {
		r.log.Warn("orphan sweep: key query failed", zap.Error(err))
		return
	}
	referenced := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		referenced[k] = struct{}{}
	}

	cutoff := time.Now().Add(-r.orphanGrace)
	var orphans []string
	for _, o := range objects {
		if _, ok := referenced[o.Name]; ok {
			continue
		}
		if o.CreatedAt.After(cutoff) {
			continue
		}
		orphans = append(orphans, o.Name)
	}
	if len(orphans) == 0 {
		return
	}

	if err := r.sb.BulkDelete(orphans); err != nil {
		r.log.Warn("orphan sweep: delete failed", zap.Int("count", len(orphans)), zap.Error(err))
		return
	}
	r.log.Info("orphan sweep removed objects", zap.Int("count", len(orphans)))
}

// RefreshOverdueGauge counts papers whose fee window has lapsed.
func (r *Runner) RefreshOverdueGauge() {
	var n int64
	err := r.db.Model(&models.Paper{}).
		Where("status = ? AND payment_due_date IS NOT NULL AND payment_due_date < ?",
			models.PaperPaymentPending, time.Now()).
		Count(&n).Error
	if err != nil {
		r.log.Warn("overdue gauge refresh failed", zap.Error(err))
		return
	}
	metrics.OverduePapers.Set(float64(n))
}
