package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asakaida/puroteusu/internal/entities"
)

func autoIncrementAttr(prefix, suffix string, padding int, start int64) *entities.AttributeDefinition {
	return &entities.AttributeDefinition{
		ID:                   entities.NewID(),
		EntityTypeID:         "et-1",
		Name:                 "code",
		DataType:             entities.DataTypeText,
		Cardinality:          entities.CardinalitySingle,
		Scope:                entities.ScopeInstance,
		IsAutoIncrement:      true,
		AutoIncrementPrefix:  prefix,
		AutoIncrementSuffix:  suffix,
		AutoIncrementPadding: padding,
		AutoIncrementStart:   start,
	}
}

func TestFormatSequenceValue(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		suffix  string
		padding int
		counter int64
		want    string
	}{
		{"prefix and padding", "CUST-", "", 4, 1, "CUST-0001"},
		{"counter wider than padding", "CUST-", "", 4, 123456, "CUST-123456"},
		{"no padding", "INV", "", 0, 7, "INV7"},
		{"suffix", "", "-JP", 3, 42, "042-JP"},
		{"bare counter", "", "", 0, 9, "9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := autoIncrementAttr(tt.prefix, tt.suffix, tt.padding, 1)
			if got := FormatSequenceValue(attr, tt.counter); got != tt.want {
				t.Errorf("FormatSequenceValue() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSequenceService_Next(t *testing.T) {
	store := newMemStore()
	repos := store.repos()
	attr := autoIncrementAttr("CUST-", "", 4, 1)

	if err := repos.Sequences.Init(context.Background(), attr.ID, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	svc := NewSequenceService(repos.Sequences, 4, time.Millisecond, nil, nil)

	for i, want := range []string{"CUST-0001", "CUST-0002", "CUST-0003"} {
		got, err := svc.Next(context.Background(), attr)
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		if got != want {
			t.Errorf("allocation %d = %s, want %s", i, got, want)
		}
	}
}

func TestSequenceService_Next_NotAutoIncrement(t *testing.T) {
	store := newMemStore()
	svc := NewSequenceService(store.repos().Sequences, 4, time.Millisecond, nil, nil)

	attr := &entities.AttributeDefinition{ID: "a1", Name: "email", DataType: entities.DataTypeText}
	if _, err := svc.Next(context.Background(), attr); err == nil {
		t.Fatal("expected error for non-auto-increment attribute")
	}
}

func TestSequenceService_Next_RetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	repos := store.repos()
	attr := autoIncrementAttr("ORD-", "", 3, 1)

	if err := repos.Sequences.Init(context.Background(), attr.ID, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	// Two transient failures, then success
	store.sequenceFailures = []error{
		&entities.StorageError{Transient: true, Err: errors.New("serialization failure")},
		&entities.StorageError{Transient: true, Err: errors.New("deadlock detected")},
	}

	svc := NewSequenceService(repos.Sequences, 4, time.Millisecond, nil, nil)
	got, err := svc.Next(context.Background(), attr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ORD-001" {
		t.Errorf("got %s, want ORD-001", got)
	}
}

func TestSequenceService_Next_ExhaustedRetries(t *testing.T) {
	store := newMemStore()
	repos := store.repos()
	attr := autoIncrementAttr("ORD-", "", 3, 1)

	if err := repos.Sequences.Init(context.Background(), attr.ID, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	transient := &entities.StorageError{Transient: true, Err: errors.New("serialization failure")}
	store.sequenceFailures = []error{transient, transient, transient}

	svc := NewSequenceService(repos.Sequences, 3, time.Millisecond, nil, nil)
	_, err := svc.Next(context.Background(), attr)

	var conflict *entities.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if conflict.Kind != entities.ConflictSequence {
		t.Errorf("kind = %s, want sequence_conflict", conflict.Kind)
	}
}

func TestSequenceService_Next_PermanentFailureNotRetried(t *testing.T) {
	store := newMemStore()
	repos := store.repos()
	attr := autoIncrementAttr("ORD-", "", 3, 1)

	if err := repos.Sequences.Init(context.Background(), attr.ID, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	permanent := &entities.StorageError{Transient: false, Err: errors.New("syntax error")}
	store.sequenceFailures = []error{permanent}

	svc := NewSequenceService(repos.Sequences, 4, time.Millisecond, nil, nil)
	_, err := svc.Next(context.Background(), attr)

	var storageErr *entities.StorageError
	if !errors.As(err, &storageErr) || storageErr.Transient {
		t.Fatalf("got %v, want permanent StorageError", err)
	}
	if len(store.sequenceFailures) != 0 {
		t.Error("permanent failure should surface on the first attempt")
	}
}

func TestSequenceService_Next_InitsMissingCounter(t *testing.T) {
	store := newMemStore()
	repos := store.repos()
	attr := autoIncrementAttr("CUST-", "", 4, 50)

	// No Init: the definition predates sequence initialization
	svc := NewSequenceService(repos.Sequences, 4, time.Millisecond, nil, nil)
	got, err := svc.Next(context.Background(), attr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "CUST-0050" {
		t.Errorf("got %s, want CUST-0050", got)
	}
}
