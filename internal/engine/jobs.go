package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/awarenet/memcore/internal/config"
	"github.com/awarenet/memcore/internal/tasks"
)

// decayPageSize is how many entries one decay sweep batch visits.
const decayPageSize = 500

// jobTimeout bounds every scheduled run.
const jobTimeout = 10 * time.Minute

func decodePayload(task *tasks.Task, v interface{}) error {
	if err := json.Unmarshal(task.Payload, v); err != nil {
		return fmt.Errorf("bad %s payload: %w", task.Type, err)
	}
	return nil
}

// jobLock keeps overlapping runs of one job from stacking up when a sweep
// outlasts its schedule interval.
type jobLock struct {
	held atomic.Bool
}

func (l *jobLock) tryLock() bool { return l.held.CompareAndSwap(false, true) }
func (l *jobLock) unlock()       { l.held.Store(false) }

// jobRunner schedules the periodic sweeps: score decay, retention,
// semantic conflict scans and pool promotion.
type jobRunner struct {
	engine *Engine
	cron   *cron.Cron

	decayLock     jobLock
	retentionLock jobLock
	semanticLock  jobLock
	promotionLock jobLock
}

func newJobRunner(e *Engine) *jobRunner {
	return &jobRunner{engine: e, cron: cron.New()}
}

func (j *jobRunner) start(cfg config.JobsConfig) error {
	if err := j.schedule(cfg.DecaySchedule, "decay", &j.decayLock, j.runDecay); err != nil {
		return err
	}
	if err := j.schedule(cfg.RetentionSchedule, "retention", &j.retentionLock, j.runRetention); err != nil {
		return err
	}
	if err := j.schedule(cfg.SemanticSchedule, "semantic-scan", &j.semanticLock, j.runSemanticScan); err != nil {
		return err
	}
	if err := j.schedule(cfg.PromotionSchedule, "promotion", &j.promotionLock, j.runPromotion); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

func (j *jobRunner) stop() {
	if j.cron != nil {
		ctx := j.cron.Stop()
		<-ctx.Done()
	}
}

func (j *jobRunner) schedule(spec, name string, lock *jobLock, run func(ctx context.Context, orgID string) error) error {
	if spec == "" {
		return nil
	}
	_, err := j.cron.AddFunc(spec, func() {
		if !lock.tryLock() {
			log.Printf("jobs: %s still running, skipping this tick", name)
			return
		}
		defer lock.unlock()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		j.forEachOrg(ctx, name, run)
	})
	if err != nil {
		return fmt.Errorf("bad %s schedule %q: %w", name, spec, err)
	}
	return nil
}

func (j *jobRunner) forEachOrg(ctx context.Context, name string, run func(ctx context.Context, orgID string) error) {
	orgs, err := j.engine.store.Orgs(ctx)
	if err != nil {
		log.Printf("jobs: %s org listing failed: %v", name, err)
		return
	}
	for _, org := range orgs {
		if err := run(ctx, org); err != nil {
			log.Printf("jobs: %s failed for org %s: %v", name, org, err)
		}
	}
}

// runDecay recomputes cached scores for every active entry of an org.
func (j *jobRunner) runDecay(ctx context.Context, orgID string) error {
	for offset := 0; ; offset += decayPageSize {
		entries, err := j.engine.store.ActiveEntries(ctx, orgID, decayPageSize, offset)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			score := j.engine.scorer.Score(entry)
			if err := j.engine.store.UpsertScore(ctx, &score); err != nil {
				log.Printf("jobs: decay rescore for %s failed: %v", entry.ID, err)
			}
		}
		if len(entries) < decayPageSize {
			return nil
		}
	}
}

func (j *jobRunner) runRetention(ctx context.Context, orgID string) error {
	report, err := j.engine.governance.EnforceRetention(ctx, orgID)
	if err != nil {
		return err
	}
	if report.Expired > 0 || report.Trimmed > 0 {
		log.Printf("jobs: retention for %s expired %d, trimmed %d",
			orgID, report.Expired, report.Trimmed)
	}
	return nil
}

func (j *jobRunner) runSemanticScan(ctx context.Context, orgID string) error {
	created, err := j.engine.scanner.Scan(ctx, orgID)
	if err != nil {
		return err
	}
	if created > 0 {
		log.Printf("jobs: semantic scan found %d contradictions for %s", created, orgID)
	}
	return nil
}

func (j *jobRunner) runPromotion(ctx context.Context, orgID string) error {
	_, err := j.engine.promoter.PromoteEligible(ctx, orgID)
	return err
}
