package eav

import (
	"context"
	"errors"
	"testing"

	"eavetl/internal/etlerr"
)

func TestRegisterAttributes_AssignsLabelsInOrder(t *testing.T) {
	tx := newFakeTx()

	m, err := RegisterAttributes(context.Background(), tx, DefaultSchema(), "People", []string{"Name", "Age"})
	if err != nil {
		t.Fatalf("RegisterAttributes: %v", err)
	}
	if len(m.ByPosition) != 2 || m.ByPosition[0] != 1 || m.ByPosition[1] != 2 {
		t.Fatalf("unexpected positions: %v", m.ByPosition)
	}
	if m.ByName["Name"] != 1 || m.ByName["Age"] != 2 {
		t.Fatalf("unexpected names: %v", m.ByName)
	}

	rows := tx.inserted[DefaultAttributeTable]
	if len(rows) != 2 {
		t.Fatalf("expected 2 registry rows, got %d", len(rows))
	}
	if rows[0][0] != "Name" || rows[0][1] != "A" || rows[0][2] != "People" {
		t.Fatalf("unexpected first row: %#v", rows[0])
	}
	if rows[1][0] != "Age" || rows[1][1] != "B" {
		t.Fatalf("unexpected second row: %#v", rows[1])
	}
}

func TestRegisterAttributes_WideSheetLabels(t *testing.T) {
	tx := newFakeTx()
	headers := make([]string, 28)
	for i := range headers {
		headers[i] = "h"
	}

	if _, err := RegisterAttributes(context.Background(), tx, DefaultSchema(), "Wide", headers); err != nil {
		t.Fatalf("RegisterAttributes: %v", err)
	}
	rows := tx.inserted[DefaultAttributeTable]
	if rows[25][1] != "Z" || rows[26][1] != "AA" || rows[27][1] != "AB" {
		t.Fatalf("unexpected labels: %v %v %v", rows[25][1], rows[26][1], rows[27][1])
	}
}

func TestRegisterAttributes_DuplicateHeadersGetDistinctRows(t *testing.T) {
	tx := newFakeTx()

	m, err := RegisterAttributes(context.Background(), tx, DefaultSchema(), "S", []string{"X", "X"})
	if err != nil {
		t.Fatalf("RegisterAttributes: %v", err)
	}
	if m.ByPosition[0] == m.ByPosition[1] {
		t.Fatalf("duplicate headers should get distinct ids, got %v", m.ByPosition)
	}
	if m.ByName["X"] != m.ByPosition[1] {
		t.Fatalf("last registration should win by name, got %d", m.ByName["X"])
	}
}

func TestRegisterAttributes_InsertFailureIsRegistrationError(t *testing.T) {
	tx := newFakeTx()
	tx.failInsertAt = 2

	_, err := RegisterAttributes(context.Background(), tx, DefaultSchema(), "People", []string{"Name", "Age"})
	if !etlerr.Is(err, etlerr.Registration) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}
	var e *etlerr.Error
	if !errors.As(err, &e) || e.Sheet != "People" || e.Stage != StageRegister {
		t.Fatalf("expected sheet and stage context, got %+v", e)
	}
}

func TestRegisterAttributes_NoHeaders(t *testing.T) {
	tx := newFakeTx()
	m, err := RegisterAttributes(context.Background(), tx, DefaultSchema(), "Empty", nil)
	if err != nil {
		t.Fatalf("RegisterAttributes: %v", err)
	}
	if len(m.ByPosition) != 0 || tx.insertCalls != 0 {
		t.Fatalf("expected no inserts, got %d", tx.insertCalls)
	}
}
