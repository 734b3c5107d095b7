package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/admitly/backend/internal/models"
)

var accountRows = []string{
	"account_ref", "tenant_ref", "external_customer_ref", "subscription_status",
	"external_subscription_ref", "plan_ref", "period_end", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &Store{db: db}, mock
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error when db is nil")
	}
}

func TestFindByKeySuccess(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(accountRows).
		AddRow("u1", "t1", "cus_123", "active", "sub_456", "price_789", now, now, now)

	mock.ExpectQuery(`SELECT(.|\s)+FROM accounts\s+WHERE account_ref = \$1 AND tenant_ref = \$2`).
		WithArgs("u1", "t1").
		WillReturnRows(rows)

	account, err := s.FindByKey(context.Background(), "u1", "t1")
	if err != nil {
		t.Fatalf("FindByKey returned error: %v", err)
	}
	if account == nil {
		t.Fatal("expected account, got nil")
	}
	if account.SubscriptionStatus != models.SubscriptionActive {
		t.Fatalf("unexpected status: %s", account.SubscriptionStatus)
	}
	if account.ExternalCustomerRef == nil || *account.ExternalCustomerRef != "cus_123" {
		t.Fatalf("unexpected customer ref: %v", account.ExternalCustomerRef)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByKeyNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT(.|\s)+FROM accounts`).
		WithArgs("missing", "t1").
		WillReturnRows(sqlmock.NewRows(accountRows))

	account, err := s.FindByKey(context.Background(), "missing", "t1")
	if err != nil {
		t.Fatalf("FindByKey returned error: %v", err)
	}
	if account != nil {
		t.Fatalf("expected nil account, got %+v", account)
	}
}

func TestFindByCustomerRef(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(accountRows).
		AddRow("u1", "t1", "cus_123", "trial", nil, nil, nil, now, now)

	mock.ExpectQuery(`SELECT(.|\s)+FROM accounts\s+WHERE external_customer_ref = \$1`).
		WithArgs("cus_123").
		WillReturnRows(rows)

	account, err := s.FindByCustomerRef(context.Background(), "cus_123")
	if err != nil {
		t.Fatalf("FindByCustomerRef returned error: %v", err)
	}
	if account == nil || account.AccountRef != "u1" {
		t.Fatalf("unexpected account: %+v", account)
	}
	if account.ExternalSubscriptionRef != nil {
		t.Fatalf("expected nil subscription ref, got %v", *account.ExternalSubscriptionRef)
	}
}

func TestFindByCustomerRefEmptyRef(t *testing.T) {
	s, _ := newMockStore(t)

	account, err := s.FindByCustomerRef(context.Background(), "")
	if err != nil {
		t.Fatalf("FindByCustomerRef returned error: %v", err)
	}
	if account != nil {
		t.Fatal("expected nil account for empty ref")
	}
}

func TestUpdateFieldsOrdersColumns(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(accountRows).
		AddRow("u1", "t1", "cus_123", "cancelled", nil, nil, nil, now, now)

	// Columns are applied in sorted order: external_subscription_ref before
	// subscription_status.
	mock.ExpectQuery(`UPDATE accounts\s+SET external_subscription_ref = \$1,\s+subscription_status = \$2,\s+updated_at = now\(\)\s+WHERE account_ref = \$3 AND tenant_ref = \$4\s+RETURNING`).
		WithArgs(nil, "cancelled", "u1", "t1").
		WillReturnRows(rows)

	account, err := s.UpdateFields(context.Background(), "u1", "t1", map[string]any{
		"subscription_status":       "cancelled",
		"external_subscription_ref": nil,
	})
	if err != nil {
		t.Fatalf("UpdateFields returned error: %v", err)
	}
	if account.SubscriptionStatus != models.SubscriptionCancelled {
		t.Fatalf("unexpected status: %s", account.SubscriptionStatus)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateFieldsRejectsUnknownColumn(t *testing.T) {
	s, _ := newMockStore(t)

	if _, err := s.UpdateFields(context.Background(), "u1", "t1", map[string]any{
		"account_ref": "hijack",
	}); err == nil {
		t.Fatal("expected error for non-updatable column")
	}
}

func TestUpdateFieldsRejectsEmptyMap(t *testing.T) {
	s, _ := newMockStore(t)

	if _, err := s.UpdateFields(context.Background(), "u1", "t1", nil); err == nil {
		t.Fatal("expected error for empty field map")
	}
}

func TestUpdateFieldsAccountMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE accounts`).
		WithArgs("past_due", "ghost", "t1").
		WillReturnRows(sqlmock.NewRows(accountRows))

	if _, err := s.UpdateFields(context.Background(), "ghost", "t1", map[string]any{
		"subscription_status": "past_due",
	}); err == nil {
		t.Fatal("expected error when no row is returned")
	}
}

func TestUpdateFieldsQueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE accounts`).
		WithArgs("active", "u1", "t1").
		WillReturnError(errors.New("boom"))

	if _, err := s.UpdateFields(context.Background(), "u1", "t1", map[string]any{
		"subscription_status": "active",
	}); err == nil {
		t.Fatal("expected error when query fails")
	}
}

func TestCreateRequest(t *testing.T) {
	s, mock := newMockStore(t)

	ms := 12
	mock.ExpectExec(`INSERT INTO requests`).
		WithArgs("POST", "/api/webhooks/stripe", 200, 12, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.CreateRequest(context.Background(), "POST", "/api/webhooks/stripe", 200, &ms, nil, nil, nil); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}
}
