package cron

import "context"

// Job is a unit of scheduled work run by the cron worker. Names must be
// unique within a registry; cadence and metrics are tracked by name.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Registry struct {
	jobs  []Job
	index map[string]int
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{index: make(map[string]int, len(jobs))}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register appends job, or swaps it in place for a job already registered
// under the same name. Nil jobs are ignored.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if pos, ok := r.index[job.Name()]; ok {
		r.jobs[pos] = job
		return
	}
	r.index[job.Name()] = len(r.jobs)
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy of the jobs in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
