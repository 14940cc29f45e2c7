// Package trigger registers event-driven payment schedules with the
// dashboard's event watcher.
package trigger

import (
	"context"
	"strings"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/httpx"
	"github.com/ggonzalez94/rwa-orchestrator/internal/registry"
)

type Registration struct {
	ScheduleID         string `json:"scheduleId"`
	EventTrigger       string `json:"eventTrigger"`
	TriggerFrom        string `json:"triggerFrom,omitempty"`
	TriggerDescription string `json:"triggerDescription,omitempty"`
	UserAddress        string `json:"userAddress"`
	Recipient          string `json:"recipient"`
}

type Result struct {
	Registered bool   `json:"registered"`
	TriggerID  string `json:"trigger_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

type Registrar struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client, baseURL string) *Registrar {
	return &Registrar{http: httpClient, baseURL: baseURL}
}

// Register asks the watcher to monitor reg. Any failure is a registration
// error; the schedule itself already exists on-chain at this point.
func (r *Registrar) Register(ctx context.Context, reg Registration) (Result, error) {
	if strings.TrimSpace(reg.ScheduleID) == "" || strings.TrimSpace(reg.EventTrigger) == "" {
		return Result{}, clierr.New(clierr.CodeRegistration, "event registration requires a schedule id and a trigger")
	}
	var resp struct {
		Success   *bool  `json:"success"`
		ID        string `json:"id"`
		TriggerID string `json:"triggerId"`
		Message   string `json:"message"`
		Error     string `json:"error"`
	}
	endpoint := httpx.JoinURL(r.baseURL, registry.EventTriggerPath)
	if err := httpx.PostJSON(ctx, r.http, endpoint, reg, &resp); err != nil {
		return Result{}, clierr.Wrap(clierr.CodeRegistration, "register event trigger", err)
	}
	if resp.Success != nil && !*resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "watcher rejected the trigger"
		}
		return Result{}, clierr.New(clierr.CodeRegistration, "register event trigger: "+msg)
	}
	id := resp.TriggerID
	if id == "" {
		id = resp.ID
	}
	return Result{Registered: true, TriggerID: id, Message: resp.Message}, nil
}
