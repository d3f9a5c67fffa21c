package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamtrack/bayzat-sync/internal/models"
	"github.com/teamtrack/bayzat-sync/internal/repository"
	"github.com/teamtrack/bayzat-sync/pkg/jobs"
)

type sweepRecordStoreFake struct {
	counts []repository.CompanyRetryCount
	err    error
	scoped *string
}

func (f *sweepRecordStoreFake) CountRetryEligible(ctx context.Context, companyID *string, now time.Time) ([]repository.CompanyRetryCount, error) {
	f.scoped = companyID
	if f.err != nil {
		return nil, f.err
	}
	if companyID == nil {
		return f.counts, nil
	}
	var out []repository.CompanyRetryCount
	for _, count := range f.counts {
		if count.CompanyID == *companyID {
			out = append(out, count)
		}
	}
	return out, nil
}

type sweepBatchStoreFake struct {
	created []*models.SyncBatch
	failed  map[string]string
}

func (f *sweepBatchStoreFake) Create(ctx context.Context, batch *models.SyncBatch) error {
	if batch.ID == "" {
		batch.ID = "batch-" + batch.CompanyID
	}
	f.created = append(f.created, batch)
	return nil
}

func (f *sweepBatchStoreFake) Fail(ctx context.Context, id, reason string) error {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = reason
	return nil
}

type queueFake struct {
	jobs []jobs.Job
	err  error
}

func (f *queueFake) Enqueue(job jobs.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func TestSweepResubmitsPerCompany(t *testing.T) {
	records := &sweepRecordStoreFake{counts: []repository.CompanyRetryCount{
		{CompanyID: "company-1", Eligible: 3},
		{CompanyID: "company-2", Eligible: 7},
	}}
	batches := &sweepBatchStoreFake{}
	queue := &queueFake{}
	settings := &settingsStoreFake{settings: map[string]*models.CompanySyncSettings{
		"company-1": enabledSettings("company-1"),
		"company-2": enabledSettings("company-2"),
	}}

	sweep := NewSweepService(records, batches, settings, queue, nil, nil, SweepConfig{})
	result, err := sweep.Run(context.Background(), nil, 100)
	require.NoError(t, err)

	require.Equal(t, 10, result.Total)
	require.Equal(t, 3, result.PerCompany["company-1"])
	require.Equal(t, 7, result.PerCompany["company-2"])
	require.Len(t, batches.created, 2)
	require.Len(t, queue.jobs, 2)
	for _, job := range queue.jobs {
		require.Equal(t, JobTypeBatchSync, job.Type)
	}
	for _, batch := range batches.created {
		require.True(t, batch.RetryOnly, "sweep batches must only cover records that already failed")
	}
}

func TestSweepHonorsLimit(t *testing.T) {
	records := &sweepRecordStoreFake{counts: []repository.CompanyRetryCount{
		{CompanyID: "company-1", Eligible: 250},
	}}
	batches := &sweepBatchStoreFake{}
	settings := &settingsStoreFake{settings: map[string]*models.CompanySyncSettings{
		"company-1": enabledSettings("company-1"),
	}}

	sweep := NewSweepService(records, batches, settings, &queueFake{}, nil, nil, SweepConfig{})
	result, err := sweep.Run(context.Background(), nil, 100)
	require.NoError(t, err)

	require.Equal(t, 100, result.Total)
	require.Equal(t, 100, batches.created[0].TotalRecords)
}

func TestSweepNothingEligible(t *testing.T) {
	sweep := NewSweepService(&sweepRecordStoreFake{}, &sweepBatchStoreFake{}, &settingsStoreFake{}, &queueFake{}, nil, nil, SweepConfig{})
	result, err := sweep.Run(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Equal(t, 0, result.Total)
	require.Empty(t, result.PerCompany)
}

func TestSweepSkipsDisabledCompany(t *testing.T) {
	records := &sweepRecordStoreFake{counts: []repository.CompanyRetryCount{
		{CompanyID: "company-1", Eligible: 5},
	}}
	disabled := enabledSettings("company-1")
	disabled.Enabled = false
	settings := &settingsStoreFake{settings: map[string]*models.CompanySyncSettings{"company-1": disabled}}
	batches := &sweepBatchStoreFake{}

	sweep := NewSweepService(records, batches, settings, &queueFake{}, nil, nil, SweepConfig{})
	result, err := sweep.Run(context.Background(), nil, 100)
	require.NoError(t, err)
	require.Equal(t, 0, result.Total)
	require.Empty(t, batches.created)
}

func TestSweepCompanyScope(t *testing.T) {
	records := &sweepRecordStoreFake{counts: []repository.CompanyRetryCount{
		{CompanyID: "company-1", Eligible: 2},
		{CompanyID: "company-2", Eligible: 4},
	}}
	batches := &sweepBatchStoreFake{}
	settings := &settingsStoreFake{settings: map[string]*models.CompanySyncSettings{
		"company-1": enabledSettings("company-1"),
		"company-2": enabledSettings("company-2"),
	}}

	scope := "company-2"
	sweep := NewSweepService(records, batches, settings, &queueFake{}, nil, nil, SweepConfig{})
	result, err := sweep.Run(context.Background(), &scope, 100)
	require.NoError(t, err)

	require.Equal(t, 4, result.Total)
	require.NotNil(t, records.scoped)
	require.Equal(t, "company-2", *records.scoped)
	require.Len(t, batches.created, 1)
}

func TestSweepEnqueueFailureFailsBatchAndContinues(t *testing.T) {
	records := &sweepRecordStoreFake{counts: []repository.CompanyRetryCount{
		{CompanyID: "company-1", Eligible: 2},
	}}
	batches := &sweepBatchStoreFake{}
	settings := &settingsStoreFake{settings: map[string]*models.CompanySyncSettings{
		"company-1": enabledSettings("company-1"),
	}}
	queue := &queueFake{err: errors.New("queue full")}

	sweep := NewSweepService(records, batches, settings, queue, nil, nil, SweepConfig{})
	result, err := sweep.Run(context.Background(), nil, 100)
	require.NoError(t, err)

	require.Equal(t, 0, result.Total)
	require.Len(t, batches.created, 1)
	require.Contains(t, batches.failed[batches.created[0].ID], "enqueue")
}
