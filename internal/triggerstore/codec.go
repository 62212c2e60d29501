package triggerstore

import (
	"encoding/json"
	"time"

	"github.com/dhima/cronback-scheduler/internal/model"
)

// wireAction/wireSchedule/wirePayload are the JSON-column encodings for
// the tagged Action/Schedule/Payload variants, discriminated by an
// explicit kind string.

type wireSchedule struct {
	Kind       model.ScheduleKind `json:"kind"`
	Cron       string             `json:"cron,omitempty"`
	Timezone   string             `json:"timezone,omitempty"`
	Limit      *int               `json:"limit,omitempty"`
	Timepoints []time.Time        `json:"timepoints,omitempty"`
	Remaining  *int               `json:"remaining,omitempty"`
}

func encodeSchedule(s *model.Schedule) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(wireSchedule{
		Kind:       s.Kind,
		Cron:       s.Cron,
		Timezone:   s.Timezone,
		Limit:      s.Limit,
		Timepoints: s.Timepoints,
		Remaining:  s.Remaining,
	})
}

func decodeSchedule(raw []byte) (*model.Schedule, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var w wireSchedule
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &model.Schedule{
		Kind:       w.Kind,
		Cron:       w.Cron,
		Timezone:   w.Timezone,
		Limit:      w.Limit,
		Timepoints: w.Timepoints,
		Remaining:  w.Remaining,
	}, nil
}

type wireAction struct {
	Kind    model.ActionKind  `json:"kind"`
	URL     string            `json:"url"`
	Method  model.HTTPMethod  `json:"method"`
	Timeout time.Duration     `json:"timeout_ns"`
	Retry   wireRetry         `json:"retry"`
}

type wireRetry struct {
	Kind           model.RetryKind `json:"kind"`
	MaxNumAttempts int             `json:"max_num_attempts,omitempty"`
	Delay          time.Duration   `json:"delay_ns,omitempty"`
	MaxDelay       time.Duration   `json:"max_delay_ns,omitempty"`
}

func encodeAction(a model.Action) ([]byte, error) {
	return json.Marshal(wireAction{
		Kind:    a.Kind,
		URL:     a.URL,
		Method:  a.Method,
		Timeout: a.Timeout,
		Retry: wireRetry{
			Kind:           a.Retry.Kind,
			MaxNumAttempts: a.Retry.MaxNumAttempts,
			Delay:          a.Retry.Delay,
			MaxDelay:       a.Retry.MaxDelay,
		},
	})
}

func decodeAction(raw []byte) (model.Action, error) {
	var w wireAction
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Action{}, err
	}
	return model.Action{
		Kind:    w.Kind,
		URL:     w.URL,
		Method:  w.Method,
		Timeout: w.Timeout,
		Retry: model.RetryPolicy{
			Kind:           w.Retry.Kind,
			MaxNumAttempts: w.Retry.MaxNumAttempts,
			Delay:          w.Retry.Delay,
			MaxDelay:       w.Retry.MaxDelay,
		},
	}, nil
}

type wirePayload struct {
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

func encodePayload(p *model.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(wirePayload{ContentType: p.ContentType, Headers: p.Headers, Body: p.Body})
}

func decodePayload(raw []byte) (*model.Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &model.Payload{ContentType: w.ContentType, Headers: w.Headers, Body: w.Body}, nil
}
