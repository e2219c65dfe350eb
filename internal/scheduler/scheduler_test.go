package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	err  error
	runs int
}

func (j *countingJob) Run() error {
	j.runs++
	return j.err
}

func (j *countingJob) Name() string { return "counting" }

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	require.NoError(t, s.AddJob("@every 6h", &countingJob{}))
	require.NoError(t, s.AddJob("*/5 * * * *", &countingJob{}))
	assert.Equal(t, 2, s.JobCount())

	err := s.AddJob("every now and then", &countingJob{})
	assert.Error(t, err)
	assert.Equal(t, 2, s.JobCount())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	job := &countingJob{}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)

	job.err = errors.New("boom")
	assert.EqualError(t, s.RunNow(job), "boom")
	assert.Equal(t, 2, job.runs)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, s.AddJob("@hourly", &countingJob{}))
	s.Start()
	s.Stop()
}
