package cron

import "testing"

func TestRegistryReplacesJobWithSameName(t *testing.T) {
	first := &testJob{name: "payment-timeout"}
	second := &testJob{name: "pending-settlement"}
	replacement := &testJob{name: "payment-timeout"}

	registry := NewRegistry(first, nil, second)
	registry.Register(replacement)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != Job(replacement) {
		t.Fatalf("expected replacement to keep the first slot")
	}
	if jobs[1] != Job(second) {
		t.Fatalf("expected pending-settlement second")
	}
}
