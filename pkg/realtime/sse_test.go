package realtime

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brightpath/pdcore/pkg/access"
	"github.com/brightpath/pdcore/pkg/observability"
)

func TestSSEHandler_StreamsEvents(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	hub := NewHub(logger, nil)
	defer hub.Close()

	handler := NewSSEHandler(hub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	// Wait for the session to register before broadcasting
	deadline := time.Now().Add(2 * time.Second)
	for hub.SessionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	evt := access.Event{
		Name:      access.EventSettingsUpdated,
		Key:       access.MatrixKey,
		UpdatedAt: time.Now(),
	}
	if err := hub.Broadcast(context.Background(), evt); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	// Give the handler a beat to write the frame, then end the request
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: SETTINGS_UPDATED") {
		t.Errorf("stream missing event frame: %q", body)
	}
	if !strings.Contains(body, `"key":"access_matrix_config"`) {
		t.Errorf("stream missing event payload: %q", body)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	if hub.SessionCount() != 0 {
		t.Errorf("session not cleaned up, count = %d", hub.SessionCount())
	}
}

func TestSSEHandler_HubCloseEndsStream(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	hub := NewHub(logger, nil)
	handler := NewSSEHandler(hub, logger)

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SessionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after hub close")
	}
}
