package lending

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deviceTestCols = []string{"brand", "model", "category", "purchaseyear", "id", "borrower", "returndate"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

func availableRow(id int) *sqlmock.Rows {
	return sqlmock.NewRows(deviceTestCols).
		AddRow("Dell", "XPS", "Laptop", 2022, id, nil, nil)
}

func borrowedRow(id int, borrower string) *sqlmock.Rows {
	return sqlmock.NewRows(deviceTestCols).
		AddRow("Dell", "XPS", "Laptop", 2022, id, borrower, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
}

func TestFindByIDMissing(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`)).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows(deviceTestCols))

	d, err := store.FindByID(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByFieldSubstringCaseInsensitive(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+deviceColumns+` FROM devices WHERE LOWER(brand) LIKE LOWER(?) ORDER BY id`)).
		WithArgs("%dElL%").
		WillReturnRows(availableRow(7))

	devices, err := store.FindByField(context.Background(), CriterionBrand, "dElL")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, 7, devices[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByFieldIDExactMatch(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`)).
		WithArgs("7").
		WillReturnRows(availableRow(7))

	devices, err := store.FindByField(context.Background(), CriterionID, "7")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateID(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO devices (`+deviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'PRIMARY'"})

	ok, err := store.Insert(context.Background(), Device{Brand: "Dell", Model: "XPS", Category: "Laptop", PurchaseYear: 2022, ID: 7})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOtherErrorsPropagate(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO devices`)).
		WillReturnError(errors.New("connection lost"))

	_, err := store.Insert(context.Background(), Device{ID: 7})
	assert.Error(t, err)
}

func TestSetBorrowerGuardedByNullBorrower(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)
	due := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE devices SET borrower = ?, returndate = ? WHERE id = ? AND borrower IS NULL`)).
		WithArgs("alice", "2024-05-15", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.SetBorrower(context.Background(), 7, "alice", due)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetBorrowerMissWhenAlreadyBorrowed(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE devices SET borrower = ?, returndate = ? WHERE id = ? AND borrower IS NULL`)).
		WithArgs("bob", "2024-05-15", 7).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.SetBorrower(context.Background(), 7, "bob", time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearBorrowerGuardedByUsername(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE devices SET borrower = NULL, returndate = NULL WHERE id = ? AND borrower = ?`)).
		WithArgs(7, "bob").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ClearBorrower(context.Background(), 7, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReplacesEveryColumn(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE devices`)).
		WithArgs("Dell", "XPS 15", "Laptop", 2023, 8, "alice", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.Update(context.Background(), 7, Device{
		Brand:        "Dell",
		Model:        "XPS 15",
		Category:     "Laptop",
		PurchaseYear: 2023,
		ID:           8,
		Borrower:     sql.NullString{String: "alice", Valid: true},
		ReturnDate:   sql.NullTime{Time: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Valid: true},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecBorrowWritesEventInSameTx(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ev := LendEvent{
		EventULID: "01HX0000000000000000000000",
		DeviceID:  7,
		Username:  "alice",
		Action:    ActionBorrow,
		DueOn:     sql.NullTime{Time: now.AddDate(0, 0, 14), Valid: true},
		CreatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE devices SET borrower = ?, returndate = ? WHERE id = ? AND borrower IS NULL`)).
		WithArgs("alice", "2024-05-15", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO lend_events (event_ulid, device_id, username, action, due_on, created_at) VALUES (?, ?, ?, ?, ?, ?)`)).
		WithArgs(ev.EventULID, 7, "alice", "BORROW", "2024-05-15", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	taken, err := store.ExecBorrow(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecBorrowMissSkipsEvent(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ev := LendEvent{
		EventULID: "01HX0000000000000000000001",
		DeviceID:  7,
		Username:  "bob",
		Action:    ActionBorrow,
		DueOn:     sql.NullTime{Time: now.AddDate(0, 0, 14), Valid: true},
		CreatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE devices SET borrower = ?, returndate = ? WHERE id = ? AND borrower IS NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	taken, err := store.ExecBorrow(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecBorrowRollsBackOnEventFault(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ev := LendEvent{
		EventULID: "01HX0000000000000000000002",
		DeviceID:  7,
		Username:  "alice",
		Action:    ActionBorrow,
		DueOn:     sql.NullTime{Time: now.AddDate(0, 0, 14), Valid: true},
		CreatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE devices SET borrower = ?, returndate = ?`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO lend_events`)).
		WillReturnError(errors.New("table gone"))
	mock.ExpectRollback()

	_, err := store.ExecBorrow(context.Background(), ev)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecReturnClearsAndLogs(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)
	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	ev := LendEvent{
		EventULID: "01HX0000000000000000000003",
		DeviceID:  7,
		Username:  "alice",
		Action:    ActionReturn,
		CreatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE devices SET borrower = NULL, returndate = NULL WHERE id = ? AND borrower = ?`)).
		WithArgs(7, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO lend_events`)).
		WithArgs(ev.EventULID, 7, "alice", "RETURN", nil, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	cleared, err := store.ExecReturn(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAvailableFiltersBorrowed(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+deviceColumns+` FROM devices WHERE borrower IS NULL ORDER BY id`)).
		WillReturnRows(availableRow(7))

	devices, err := store.ListAvailable(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].Available())
}

func TestListBorrowedBy(t *testing.T) {
	conn, mock := newMock(t)
	store := NewStore(conn)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+deviceColumns+` FROM devices WHERE borrower = ? ORDER BY id`)).
		WithArgs("alice").
		WillReturnRows(borrowedRow(7, "alice"))

	devices, err := store.ListBorrowedBy(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "alice", devices[0].Borrower.String)
	assert.False(t, devices[0].Available())
}
