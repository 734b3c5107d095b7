package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/admitly/backend/internal/models"
)

// updatableColumns is the set of account columns the webhook pipeline is
// allowed to write. Everything else (the composite key, created_at) is
// immutable from this code path.
var updatableColumns = map[string]struct{}{
	"external_customer_ref":     {},
	"subscription_status":       {},
	"external_subscription_ref": {},
	"plan_ref":                  {},
	"period_end":                {},
}

// Store provides database-backed accessors for application data.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

const accountColumns = `
  account_ref,
  tenant_ref,
  external_customer_ref,
  subscription_status,
  external_subscription_ref,
  plan_ref,
  period_end,
  created_at,
  updated_at`

// FindByKey retrieves the account identified by (accountRef, tenantRef).
// Returns (nil, nil) when no such account exists.
func (s *Store) FindByKey(ctx context.Context, accountRef, tenantRef string) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT`+accountColumns+`
FROM accounts
WHERE account_ref = $1 AND tenant_ref = $2
LIMIT 1
`, accountRef, tenantRef)

	return scanAccount(row)
}

// FindByCustomerRef retrieves the account whose external_customer_ref matches
// the given payment-processor customer reference. The reference is assigned to
// at most one account; returns (nil, nil) when no account has been linked yet.
func (s *Store) FindByCustomerRef(ctx context.Context, customerRef string) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}
	if customerRef == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
SELECT`+accountColumns+`
FROM accounts
WHERE external_customer_ref = $1
LIMIT 1
`, customerRef)

	return scanAccount(row)
}

// UpdateFields merges the given column/value map into the account identified
// by (accountRef, tenantRef) and returns the updated record. Columns outside
// the updatable set are rejected; updated_at is always refreshed. A nil value
// nulls the column.
func (s *Store) UpdateFields(ctx context.Context, accountRef, tenantRef string, fields map[string]any) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}
	if len(fields) == 0 {
		return nil, errors.New("store: update fields cannot be empty")
	}

	// Deterministic column order keeps queries stable for tests and logs.
	columns := make([]string, 0, len(fields))
	for column := range fields {
		if _, ok := updatableColumns[column]; !ok {
			return nil, fmt.Errorf("store: column %q is not updatable", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	assignments := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	for i, column := range columns {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, i+1))
		args = append(args, fields[column])
	}
	assignments = append(assignments, "updated_at = now()")
	args = append(args, accountRef, tenantRef)

	query := fmt.Sprintf(`
UPDATE accounts
SET %s
WHERE account_ref = $%d AND tenant_ref = $%d
RETURNING`+accountColumns,
		strings.Join(assignments, ",\n    "),
		len(columns)+1,
		len(columns)+2,
	)

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("store: account (%s,%s) not found", accountRef, tenantRef)
	}
	return account, nil
}

// CreateRequest records an API request for the audit trail.
func (s *Store) CreateRequest(ctx context.Context, method, endpoint string, statusCode int, responseTimeMs, requestSizeBytes, responseSizeBytes *int, errorMessage *string) error {
	if s == nil || s.db == nil {
		return errors.New("store: db cannot be nil")
	}

	query := `
	INSERT INTO requests (method, endpoint, status_code, response_time_ms, request_size_bytes, response_size_bytes, error_message)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var errMessage sql.NullString
	if errorMessage != nil {
		errMessage = sql.NullString{String: *errorMessage, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query, method, endpoint, statusCode, responseTimeMs, requestSizeBytes, responseSizeBytes, errMessage)
	if err != nil {
		return fmt.Errorf("store: create request: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account         models.Account
		customerRef     sql.NullString
		status          string
		subscriptionRef sql.NullString
		planRef         sql.NullString
		periodEnd       sql.NullTime
	)

	if err := row.Scan(
		&account.AccountRef,
		&account.TenantRef,
		&customerRef,
		&status,
		&subscriptionRef,
		&planRef,
		&periodEnd,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan account: %w", err)
	}

	account.SubscriptionStatus = models.SubscriptionStatus(status)
	account.ExternalCustomerRef = nullStringPtr(customerRef)
	account.ExternalSubscriptionRef = nullStringPtr(subscriptionRef)
	account.PlanRef = nullStringPtr(planRef)
	if periodEnd.Valid {
		t := periodEnd.Time
		account.PeriodEnd = &t
	}

	return &account, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
