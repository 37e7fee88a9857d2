package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"taskline/internal/domain"
	"taskline/internal/log"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	backoffBase = time.Second
	backoffCap  = 10 * time.Second
)

// Backoff returns the reconnect delay for the given consecutive failure
// count: 1s, 2s, 4s, 8s, then capped at 10s.
func Backoff(attempt int) time.Duration {
	d := backoffBase << attempt
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// Tracker follows one session's progress. It consumes the SSE stream,
// falls back to plain polling while the stream is down, and reconnects with
// exponential backoff, resetting the counter on a successful connect.
// Job-terminal events are the stop condition: OnFinished fires once and the
// tracker stops polling and streaming.
type Tracker struct {
	BaseURL   string
	Token     string
	SessionID uuid.UUID

	// PollInterval paces the fallback polling loop. Zero means 1s.
	PollInterval time.Duration

	OnUpdate   func(Progress)
	OnFinished func()

	httpClient *http.Client
	attempts   int
	finished   bool
}

func NewTracker(baseURL, token string, sessionID uuid.UUID) *Tracker {
	return &Tracker{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		SessionID:    sessionID,
		PollInterval: time.Second,
		httpClient:   &http.Client{},
	}
}

// Run blocks until the job finishes or the context is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		if t.finished {
			return nil
		}
		err := t.stream(ctx)
		if t.finished || ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.GetLogger().Debugf("stream for session %s dropped: %v", t.SessionID, err)
		}

		// Stream is down: poll once so progress keeps moving, then retry
		// the stream after the backoff delay.
		delay := Backoff(t.attempts)
		t.attempts++
		if err := t.pollUntil(ctx, delay); err != nil {
			log.GetLogger().Debugf("poll for session %s: %v", t.SessionID, err)
		}
		if t.finished || ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// stream consumes SSE frames until the connection drops or the job ends.
func (t *Tracker) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.BaseURL+"/api/v1/sessions/"+t.SessionID.String()+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.Token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("stream returned %d", resp.StatusCode)
	}

	// Connected: reset the backoff counter.
	t.attempts = 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	eventName := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, ":"):
			// keep-alive comment frame
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if eventName == "error" {
				log.GetLogger().Debugf("stream error frame: %s", data)
				continue
			}
			if t.consumeSnapshot([]byte(data)) {
				return nil
			}
		}
	}
	return scanner.Err()
}

// pollUntil fetches the event list on the poll interval for the given
// duration — the fallback path while the push channel is down.
func (t *Tracker) pollUntil(ctx context.Context, d time.Duration) error {
	interval := t.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot, err := t.fetchEvents(ctx)
		if err == nil && t.consumeSnapshot(snapshot) {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Tracker) fetchEvents(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.BaseURL+"/api/v1/sessions/"+t.SessionID.String()+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.Token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("events returned %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// consumeSnapshot folds one event snapshot into the progress view and
// reports whether the job reached its terminal state.
func (t *Tracker) consumeSnapshot(raw []byte) bool {
	var events []domain.TaskEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		log.GetLogger().Debugf("bad event snapshot: %v", err)
		return false
	}
	progress := DeriveProgress(events)
	if t.OnUpdate != nil {
		t.OnUpdate(progress)
	}
	if progress.JobID != uuid.Nil && !progress.Active && !t.finished {
		t.finished = true
		if t.OnFinished != nil {
			// The job is done: refresh the materialized result and stop
			// tracking.
			t.OnFinished()
		}
		return true
	}
	return false
}
