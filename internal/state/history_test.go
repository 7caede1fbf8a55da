package state

import (
	"context"
	"testing"
	"time"
)

func TestSaveAndGetRun(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	record := RunRecord{
		Identifier:    "test-item",
		LocalDir:      "/data/photos",
		StartTime:     time.Now().Add(-10 * time.Minute),
		EndTime:       time.Now(),
		Status:        RunSuccess,
		FilesUploaded: 10,
		BytesUploaded: 1024,
	}

	if err := manager.SaveRun(ctx, record); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	history, err := manager.GetHistory(ctx, "test-item", 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(history))
	}

	retrieved := history[0]
	if retrieved.Identifier != record.Identifier {
		t.Errorf("Expected identifier %s, got %s", record.Identifier, retrieved.Identifier)
	}
	if retrieved.LocalDir != record.LocalDir {
		t.Errorf("Expected local dir %s, got %s", record.LocalDir, retrieved.LocalDir)
	}
	if retrieved.Status != record.Status {
		t.Errorf("Expected status %s, got %s", record.Status, retrieved.Status)
	}
	if retrieved.FilesUploaded != record.FilesUploaded {
		t.Errorf("Expected files uploaded %d, got %d", record.FilesUploaded, retrieved.FilesUploaded)
	}
	if retrieved.BytesUploaded != record.BytesUploaded {
		t.Errorf("Expected bytes uploaded %d, got %d", record.BytesUploaded, retrieved.BytesUploaded)
	}
}

func TestGetLastSuccess(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	records := []RunRecord{
		{Identifier: "test-item", StartTime: time.Now().Add(-30 * time.Minute), EndTime: time.Now().Add(-29 * time.Minute), Status: RunSuccess, FilesUploaded: 5},
		{Identifier: "test-item", StartTime: time.Now().Add(-20 * time.Minute), EndTime: time.Now().Add(-19 * time.Minute), Status: RunFailed, Error: "network error"},
		{Identifier: "test-item", StartTime: time.Now().Add(-10 * time.Minute), EndTime: time.Now().Add(-9 * time.Minute), Status: RunSuccess, FilesUploaded: 10},
		{Identifier: "test-item", StartTime: time.Now().Add(-5 * time.Minute), EndTime: time.Now().Add(-4 * time.Minute), Status: RunCancelled, FilesUploaded: 2},
	}
	for _, record := range records {
		if err := manager.SaveRun(ctx, record); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	lastSuccess, err := manager.GetLastSuccess(ctx, "test-item")
	if err != nil {
		t.Fatalf("Failed to get last success: %v", err)
	}
	if lastSuccess == nil {
		t.Fatal("Expected last success, got nil")
	}
	if lastSuccess.FilesUploaded != 10 {
		t.Errorf("Expected last success to have 10 files, got %d", lastSuccess.FilesUploaded)
	}
}

func TestGetLastSuccess_NoSuccess(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	record := RunRecord{
		Identifier: "test-item",
		StartTime:  time.Now().Add(-10 * time.Minute),
		EndTime:    time.Now(),
		Status:     RunFailed,
		Error:      "test error",
	}
	if err := manager.SaveRun(ctx, record); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	lastSuccess, err := manager.GetLastSuccess(ctx, "test-item")
	if err != nil {
		t.Fatalf("Failed to get last success: %v", err)
	}
	if lastSuccess != nil {
		t.Error("Expected nil for last success, got a record")
	}
}

func TestGetAllHistory(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	records := []RunRecord{
		{Identifier: "item-1", StartTime: time.Now().Add(-30 * time.Minute), EndTime: time.Now().Add(-29 * time.Minute), Status: RunSuccess, FilesUploaded: 5},
		{Identifier: "item-2", StartTime: time.Now().Add(-20 * time.Minute), EndTime: time.Now().Add(-19 * time.Minute), Status: RunSuccess, FilesUploaded: 10},
		{Identifier: "item-1", StartTime: time.Now().Add(-10 * time.Minute), EndTime: time.Now().Add(-9 * time.Minute), Status: RunPartial, FilesFailed: 1},
	}
	for _, record := range records {
		if err := manager.SaveRun(ctx, record); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	allHistory, err := manager.GetAllHistory(ctx, 100)
	if err != nil {
		t.Fatalf("Failed to get all history: %v", err)
	}
	if len(allHistory) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(allHistory))
	}

	// newest first
	if allHistory[0].Identifier != "item-1" || allHistory[0].Status != RunPartial {
		t.Error("Expected most recent record to be the partial item-1 run")
	}
}

func TestGetHistory_Limit(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		record := RunRecord{
			Identifier:    "test-item",
			StartTime:     time.Now().Add(time.Duration(-i*10) * time.Minute),
			EndTime:       time.Now().Add(time.Duration(-i*10+1) * time.Minute),
			Status:        RunSuccess,
			FilesUploaded: i,
		}
		if err := manager.SaveRun(ctx, record); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	history, err := manager.GetHistory(ctx, "test-item", 3)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(history))
	}
	if history[0].FilesUploaded != 0 {
		t.Errorf("Expected most recent record to have 0 files, got %d", history[0].FilesUploaded)
	}
}

func TestSaveRun_InvalidStatus(t *testing.T) {
	manager := newTestManager(t)

	record := RunRecord{
		Identifier: "test-item",
		StartTime:  time.Now(),
		EndTime:    time.Now(),
		Status:     "invalid_status",
	}
	if err := manager.SaveRun(context.Background(), record); err == nil {
		t.Error("Expected error for invalid status, got nil")
	}
}

func TestHistory_InvalidLimit(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	for _, limit := range []int{0, -1} {
		if _, err := manager.GetHistory(ctx, "test-item", limit); err == nil {
			t.Errorf("GetHistory: expected error for limit=%d", limit)
		}
		if _, err := manager.GetAllHistory(ctx, limit); err == nil {
			t.Errorf("GetAllHistory: expected error for limit=%d", limit)
		}
	}
}
