// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager schedules the recurring maintenance of a
// dataset pool: checks, repacks, and age-based archival/deletion.
package taskmanager

import (
	"github.com/go-co-op/gocron/v2"

	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
)

type TaskManager struct {
	scheduler gocron.Scheduler
	pool      *dataset.Pool
}

func New(pool *dataset.Pool) (*TaskManager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &TaskManager{scheduler: s, pool: pool}, nil
}

// AddMaintenance schedules a run, on the given cron spec, of check,
// repack and the age policies, in that order, over every online dataset
// of the pool.
func (tm *TaskManager) AddMaintenance(cronSpec string) error {
	_, err := tm.scheduler.NewJob(
		gocron.CronJob(cronSpec, false),
		gocron.NewTask(tm.runMaintenance),
	)
	return err
}

func (tm *TaskManager) runMaintenance() {
	rep := func(relpath string, state segment.State, msg string) {
		if state != segment.StateOK {
			log.Infof("%s: %s %s", relpath, state, msg)
		}
	}
	for _, name := range tm.pool.Names() {
		cfg, err := tm.pool.Config(name)
		if err != nil || cfg.Offline {
			continue
		}
		checker, err := tm.pool.Checker(name)
		if err != nil {
			log.Warnf("dataset %s: cannot open checker: %v", name, err)
			continue
		}
		if err := checker.Check(true, rep); err != nil {
			log.Errorf("dataset %s: check failed: %v", name, err)
			continue
		}
		if freed, err := checker.Repack(true, rep); err != nil {
			log.Errorf("dataset %s: repack failed: %v", name, err)
		} else if freed > 0 {
			log.Infof("dataset %s: repack freed %d bytes", name, freed)
		}
		if cfg.ArchiveAge > 0 {
			if err := checker.Archive(rep); err != nil {
				log.Errorf("dataset %s: archive failed: %v", name, err)
			}
		}
		if cfg.DeleteAge > 0 {
			if _, err := checker.RemoveOld(true, rep); err != nil {
				log.Errorf("dataset %s: delete age failed: %v", name, err)
			}
		}
	}
}

func (tm *TaskManager) Start() {
	tm.scheduler.Start()
}

func (tm *TaskManager) Shutdown() error {
	return tm.scheduler.Shutdown()
}
