// Command seed inserts a handful of sample triggers directly into the
// trigger store, for exercising a local scheduler instance without
// standing up the full API surface.
package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/dhima/cronback-scheduler/internal/triggerstore"
	"github.com/dhima/cronback-scheduler/pkg/config"
	_ "github.com/go-sql-driver/mysql"
)

func main() {
	cfg := config.FromEnv()

	db, err := sql.Open("mysql", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	store := triggerstore.NewMySQLStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	samples := []*model.Trigger{
		{
			ID:        core.NewTriggerID("demo-project"),
			ProjectID: "demo-project",
			Name:      "every-minute-heartbeat",
			CreatedAt: now,
			Status:    model.StatusScheduled,
			Action: model.Action{
				Kind:    model.ActionWebhook,
				URL:     "https://example.com/webhooks/heartbeat",
				Method:  model.MethodPOST,
				Timeout: 10 * time.Second,
				Retry:   model.RetryPolicy{Kind: model.RetrySimple, MaxNumAttempts: 3, Delay: 2 * time.Second},
			},
			Payload: &model.Payload{ContentType: "application/json", Body: []byte(`{"source":"seed"}`)},
			Schedule: &model.Schedule{
				Kind:     model.ScheduleRecurring,
				Cron:     "0 * * * * *",
				Timezone: "Etc/UTC",
			},
		},
		{
			ID:        core.NewTriggerID("demo-project"),
			ProjectID: "demo-project",
			Name:      "one-shot-in-five-minutes",
			CreatedAt: now,
			Status:    model.StatusScheduled,
			Action: model.Action{
				Kind:    model.ActionWebhook,
				URL:     "https://example.com/webhooks/one-shot",
				Method:  model.MethodPOST,
				Timeout: 5 * time.Second,
				Retry:   model.RetryPolicy{Kind: model.RetryNone, MaxNumAttempts: 1},
			},
			Schedule: &model.Schedule{
				Kind:       model.ScheduleRunAt,
				Timepoints: []time.Time{now.Add(5 * time.Minute)},
			},
		},
		{
			ID:        core.NewTriggerID("demo-project"),
			ProjectID: "demo-project",
			Name:      "on-demand-only",
			CreatedAt: now,
			Status:    model.StatusOnDemand,
			Action: model.Action{
				Kind:    model.ActionWebhook,
				URL:     "https://example.com/webhooks/on-demand",
				Method:  model.MethodPOST,
				Timeout: 5 * time.Second,
				Retry:   model.RetryPolicy{Kind: model.RetryNone, MaxNumAttempts: 1},
			},
		},
	}

	for _, trigger := range samples {
		if err := store.Insert(ctx, trigger); err != nil {
			log.Printf("skipping %s: %v", trigger.Name, err)
			continue
		}
		log.Printf("seeded trigger %s (%s)", trigger.Name, trigger.ID)
	}
}
