package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/version"
)

// Trigger starts the review job for the given local date.
type Trigger interface {
	Fire(ctx context.Context, date string) error
}

type reviewRequest struct {
	Date   string `json:"date"`
	Source string `json:"source"`
}

// HTTPTrigger posts the review request to the tracker backend.
type HTTPTrigger struct {
	client *resty.Client
	url    string
	log    *zap.SugaredLogger
}

func NewHTTPTrigger(url string, timeout time.Duration, log *zap.SugaredLogger) *HTTPTrigger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	return &HTTPTrigger{client: client, url: url, log: log}
}

func (t *HTTPTrigger) Fire(ctx context.Context, date string) error {
	start := time.Now()
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(reviewRequest{Date: date, Source: "taskmail"}).
		Post(t.url)
	if err != nil {
		return fmt.Errorf("posting review trigger to %s: %w", t.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("review trigger %s returned %s", t.url, resp.Status())
	}
	t.log.Debugw("Review trigger accepted",
		"url", t.url,
		"status", resp.StatusCode(),
		"took", time.Since(start).String())
	return nil
}
