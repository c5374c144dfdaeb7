package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	return &Client{client: asynq.NewClient(opt)}, mr
}

func TestEnqueueCampaignSendLandsOnCampaignQueue(t *testing.T) {
	client, mr := newTestClient(t)
	defer client.Close()
	defer mr.Close()

	payload := CampaignSendPayload{CampaignID: "c1", LeadID: "l1", OrganizationID: "o1"}
	if err := client.EnqueueCampaignSend(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	insp := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer insp.Close()

	tasks, err := insp.ListPendingTasks(TaskCampaignSend)
	if err != nil {
		t.Fatalf("list pending tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 pending task on %q, got %d", TaskCampaignSend, len(tasks))
	}
	if tasks[0].Type != TaskCampaignSend {
		t.Fatalf("expected task type %q, got %q", TaskCampaignSend, tasks[0].Type)
	}
	if tasks[0].MaxRetry != defaultMaxRetry {
		t.Fatalf("expected max retry %d, got %d", defaultMaxRetry, tasks[0].MaxRetry)
	}
}

func TestEnqueueJourneyRunWithDelaySchedulesRatherThanEnqueues(t *testing.T) {
	client, mr := newTestClient(t)
	defer client.Close()
	defer mr.Close()

	payload := JourneyRunPayload{OrganizationID: "o1", JourneyID: "j1", RunID: "r1"}
	if err := client.EnqueueJourneyRun(context.Background(), payload, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	insp := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer insp.Close()

	tasks, err := insp.ListScheduledTasks(TaskJourneyRun)
	if err != nil {
		t.Fatalf("list scheduled tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 scheduled task on %q, got %d", TaskJourneyRun, len(tasks))
	}
}

func TestNilClientEnqueueIsNoop(t *testing.T) {
	var client *Client
	if err := client.EnqueueCampaignSend(context.Background(), CampaignSendPayload{}); err != nil {
		t.Fatalf("expected nil-client enqueue to be a no-op, got error: %v", err)
	}
}
