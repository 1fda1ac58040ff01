package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"leadpulse/models"
	"leadpulse/store"
)

// ProcessorConfig holds auto-enrollment defaults; per-sequence trigger config
// overrides them.
type ProcessorConfig struct {
	LookbackMinutes int // new_lead window, default 15
	MinAgeHours     int // no_conversion cutoff, default 24
	BatchSize       int // leads considered per sequence per run, default 200
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.LookbackMinutes <= 0 {
		c.LookbackMinutes = 15
	}
	if c.MinAgeHours <= 0 {
		c.MinAgeHours = 24
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	return c
}

// Processor is the top-level cron orchestrator: it advances due sequence
// steps and auto-enrolls newly matching leads.
type Processor struct {
	store  store.Store
	engine *SequenceEngine
	clock  Clock
	cfg    ProcessorConfig
	log    *logrus.Entry
}

func NewProcessor(st store.Store, engine *SequenceEngine, clock Clock, cfg ProcessorConfig, log *logrus.Entry) *Processor {
	return &Processor{store: st, engine: engine, clock: clock, cfg: cfg.withDefaults(), log: log}
}

// RunResult reports one processor run.
type RunResult struct {
	StepsProcessed int
	StepsSkipped   int
	Enrolled       int
	Errors         []string
}

// RunAll advances due steps, then auto-enrolls new leads. The two tasks run
// to completion independently: one task's internal errors are collected but
// never abort the other.
func (p *Processor) RunAll(ctx context.Context) *RunResult {
	result := &RunResult{}

	sweep, err := p.engine.CheckAndAdvanceEnrollments(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("advance enrollments: %v", err))
	} else {
		result.StepsProcessed = sweep.Processed
		result.StepsSkipped = sweep.Skipped
		result.Errors = append(result.Errors, sweep.Errors...)
	}

	enrolled, errs := p.AutoEnrollNewLeads(ctx)
	result.Enrolled = enrolled
	result.Errors = append(result.Errors, errs...)

	p.log.WithFields(logrus.Fields{
		"steps_processed": result.StepsProcessed,
		"enrolled":        result.Enrolled,
		"errors":          len(result.Errors),
	}).Info("sequence processor run finished")
	return result
}

// AutoEnrollNewLeads finds leads matching new_lead and no_conversion
// triggers and enrolls them, collecting per-lead failures without aborting
// the batch.
func (p *Processor) AutoEnrollNewLeads(ctx context.Context) (int, []string) {
	var errs []string
	enrolled := 0

	n, newErrs := p.enrollForTrigger(ctx, models.TriggerNewLead)
	enrolled += n
	errs = append(errs, newErrs...)

	n, convErrs := p.enrollForTrigger(ctx, models.TriggerNoConversion)
	enrolled += n
	errs = append(errs, convErrs...)

	return enrolled, errs
}

func (p *Processor) enrollForTrigger(ctx context.Context, trigger models.TriggerType) (int, []string) {
	sequences, err := p.store.ListActiveSequencesByTrigger(ctx, trigger)
	if err != nil {
		return 0, []string{fmt.Sprintf("list %s sequences: %v", trigger, err)}
	}

	var errs []string
	enrolled := 0
	now := p.clock.Now()

	for i := range sequences {
		seq := sequences[i]

		var leads []models.Lead
		var listErr error
		switch trigger {
		case models.TriggerNewLead:
			lookback := p.cfg.LookbackMinutes
			if seq.Trigger.LookbackMinutes != nil {
				lookback = *seq.Trigger.LookbackMinutes
			}
			since := now.Add(-time.Duration(lookback) * time.Minute)
			leads, listErr = p.store.ListLeadsCreatedSince(ctx, since, seq.Trigger.Sources, p.cfg.BatchSize)
		case models.TriggerNoConversion:
			minAge := p.cfg.MinAgeHours
			if seq.Trigger.MinAgeHours != nil {
				minAge = *seq.Trigger.MinAgeHours
			}
			cutoff := now.Add(-time.Duration(minAge) * time.Hour)
			leads, listErr = p.store.ListLeadsOlderThan(ctx, cutoff, seq.Trigger.Sources, p.cfg.BatchSize)
		default:
			continue
		}
		if listErr != nil {
			errs = append(errs, fmt.Sprintf("sequence %d: list candidates: %v", seq.ID, listErr))
			continue
		}
		if len(leads) == 0 {
			continue
		}

		leadIDs := make([]uint, 0, len(leads))
		for _, lead := range leads {
			leadIDs = append(leadIDs, lead.ID)
		}

		// Single batched membership check, not one query per lead.
		already, err := p.store.EnrolledLeadIDs(ctx, seq.ID, leadIDs)
		if err != nil {
			errs = append(errs, fmt.Sprintf("sequence %d: check enrollments: %v", seq.ID, err))
			continue
		}

		converted := map[uint]bool{}
		if trigger == models.TriggerNoConversion {
			converted, err = p.store.LeadsWithConversions(ctx, leadIDs)
			if err != nil {
				errs = append(errs, fmt.Sprintf("sequence %d: check conversions: %v", seq.ID, err))
				continue
			}
		}

		for _, lead := range leads {
			if already[lead.ID] || converted[lead.ID] {
				continue
			}
			if _, err := p.engine.EnrollLead(ctx, seq.ID, lead.ID); err != nil {
				var transition *InvalidTransitionError
				var policy *PolicyViolationError
				if errors.As(err, &transition) || errors.As(err, &policy) {
					continue
				}
				errs = append(errs, fmt.Sprintf("lead %d: %v", lead.ID, err))
				continue
			}
			enrolled++
		}
	}
	return enrolled, errs
}
