package lending

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"DLS-backend/internal/platform/db"
)

// Store は devices テーブルへの単一行操作を提供する。
// 貸出・返却は条件付き UPDATE 1文で判定し、読み取り後に書くパターンは
// 使わない（並行した borrow が両方成功してはならないため）。
type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

const deviceColumns = `brand, model, category, purchaseyear, id, borrower, returndate`

const erDupEntry = 1062

// isDuplicate reports whether err is a MySQL unique-key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}

func scanDevice(row *sql.Row) (*Device, error) {
	var d Device
	err := row.Scan(&d.Brand, &d.Model, &d.Category, &d.PurchaseYear, &d.ID, &d.Borrower, &d.ReturnDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func scanDevices(rows *sql.Rows) ([]Device, error) {
	defer rows.Close()
	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.Brand, &d.Model, &d.Category, &d.PurchaseYear, &d.ID, &d.Borrower, &d.ReturnDate); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindByID returns the device or nil when the id is unknown.
func (s *Store) FindByID(ctx context.Context, id int) (*Device, error) {
	const q = `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`
	return scanDevice(s.db.QueryRowContext(ctx, q, id))
}

// FindByField matches pattern against one column: exact for id, otherwise a
// case-insensitive substring. Borrowed devices are included; hiding them is
// the renderer's concern.
func (s *Store) FindByField(ctx context.Context, crit SearchCriterion, pattern string) ([]Device, error) {
	var (
		q    string
		args []any
	)
	if crit == CriterionID {
		q = `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`
		args = []any{pattern}
	} else {
		q = `SELECT ` + deviceColumns + ` FROM devices WHERE LOWER(` + crit.Column() + `) LIKE LOWER(?) ORDER BY id`
		args = []any{"%" + pattern + "%"}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanDevices(rows)
}

func (s *Store) ListAvailable(ctx context.Context) ([]Device, error) {
	const q = `SELECT ` + deviceColumns + ` FROM devices WHERE borrower IS NULL ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return scanDevices(rows)
}

func (s *Store) ListBorrowedBy(ctx context.Context, username string) ([]Device, error) {
	const q = `SELECT ` + deviceColumns + ` FROM devices WHERE borrower = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, username)
	if err != nil {
		return nil, err
	}
	return scanDevices(rows)
}

// Insert creates the device. Returns false when the id is already taken.
func (s *Store) Insert(ctx context.Context, d Device) (bool, error) {
	const q = `INSERT INTO devices (` + deviceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		d.Brand, d.Model, d.Category, d.PurchaseYear, d.ID, d.Borrower, d.ReturnDate)
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Update replaces every column of the row matched by the current id,
// including id itself and the borrower fields.
func (s *Store) Update(ctx context.Context, id int, d Device) (bool, error) {
	const q = `
	UPDATE devices
	SET brand = ?, model = ?, category = ?, purchaseyear = ?, id = ?, borrower = ?, returndate = ?
	WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q,
		d.Brand, d.Model, d.Category, d.PurchaseYear, d.ID, d.Borrower, d.ReturnDate, id)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

// SetBorrower is the sole admission control for borrowing: the guard on
// borrower IS NULL is judged atomically by the database, so of two
// concurrent borrows at most one sees RowsAffected = 1.
func (s *Store) SetBorrower(ctx context.Context, id int, username string, due time.Time) (bool, error) {
	return setBorrower(ctx, s.db, id, username, due)
}

func setBorrower(ctx context.Context, ex db.DBTX, id int, username string, due time.Time) (bool, error) {
	const q = `UPDATE devices SET borrower = ?, returndate = ? WHERE id = ? AND borrower IS NULL`
	res, err := ex.ExecContext(ctx, q, username, due.Format(DateLayout), id)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

// ClearBorrower releases the device, guarded by borrower = username so that
// only the current holder can return it.
func (s *Store) ClearBorrower(ctx context.Context, id int, username string) (bool, error) {
	return clearBorrower(ctx, s.db, id, username)
}

func clearBorrower(ctx context.Context, ex db.DBTX, id int, username string) (bool, error) {
	const q = `UPDATE devices SET borrower = NULL, returndate = NULL WHERE id = ? AND borrower = ?`
	res, err := ex.ExecContext(ctx, q, id, username)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

// ---- Transactional Methods ----

// ExecBorrow runs the conditional borrow write and, when it takes effect,
// appends the audit event in the same transaction. The conditional UPDATE
// stays the only guard; the transaction adds no extra locking.
func (s *Store) ExecBorrow(ctx context.Context, ev LendEvent) (bool, error) {
	taken := false
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		ok, err := setBorrower(ctx, tx, ev.DeviceID, ev.Username, ev.DueOn.Time)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		taken = true
		return insertLendEvent(ctx, tx, ev)
	})
	return taken, err
}

// ExecReturn mirrors ExecBorrow for the return path.
func (s *Store) ExecReturn(ctx context.Context, ev LendEvent) (bool, error) {
	cleared := false
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		ok, err := clearBorrower(ctx, tx, ev.DeviceID, ev.Username)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		cleared = true
		return insertLendEvent(ctx, tx, ev)
	})
	return cleared, err
}
