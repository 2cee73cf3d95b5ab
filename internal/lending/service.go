package lending

import (
	"context"
	"crypto/rand"
	"database/sql"
	"log"
	"strconv"
	"strings"
	"time"

	ulid "github.com/oklog/ulid/v2"
)

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// -------------- Service --------------

// 貸出期間は固定で14日。クライアントから期限は受け取らない。
const loanDays = 14

// Service enforces the lending rules on top of the stores. One instance is
// built at startup and shared by every request handler.
type Service struct {
	devices *Store
	users   *UserStore
	events  *EventStore
	clock   Clock
	id      IDGen
}

func NewService(conn *sql.DB) *Service {
	return &Service{
		devices: NewStore(conn),
		users:   NewUserStore(conn),
		events:  NewEventStore(conn),
		clock:   realClock{},
		id:      ulidGen{},
	}
}

// storageErr logs the fault with full detail and hands a sentinel upward;
// raw driver errors never cross the service boundary.
func storageErr(op string, err error) error {
	log.Printf("[ERROR] %s: %v", op, err)
	return ErrInternal("storage failure")
}

// RegisterUser is login and first-time registration in one: an existing
// username succeeds, a new one is inserted. Only a storage fault fails.
func (s *Service) RegisterUser(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrInvalid("username required")
	}

	exists, err := s.users.Exists(ctx, username)
	if err != nil {
		return storageErr("users.exists", err)
	}
	if exists {
		log.Printf("[INFO] user logged in: %s", username)
		return nil
	}

	ok, err := s.users.Insert(ctx, username)
	if err != nil {
		return storageErr("users.insert", err)
	}
	// ok=false means a concurrent registration won the insert; same outcome.
	if ok {
		log.Printf("[INFO] user registered: %s", username)
	}
	return nil
}

// Search returns the devices matching pattern under the given criterion
// label. An empty pattern lists every available device. Criterion searches
// may include borrowed devices; the caller filters for display.
func (s *Service) Search(ctx context.Context, pattern, criterion string) ([]Device, error) {
	if pattern == "" {
		return s.Available(ctx)
	}
	crit, ok := ParseCriterion(criterion)
	if !ok {
		return nil, ErrInvalid("unknown search criterion")
	}
	if crit == CriterionID {
		if _, err := strconv.Atoi(pattern); err != nil {
			return nil, ErrInvalid("id search needs an integer")
		}
	}
	devices, err := s.devices.FindByField(ctx, crit, pattern)
	if err != nil {
		return nil, storageErr("devices.findByField", err)
	}
	return devices, nil
}

func (s *Service) Available(ctx context.Context) ([]Device, error) {
	devices, err := s.devices.ListAvailable(ctx)
	if err != nil {
		return nil, storageErr("devices.listAvailable", err)
	}
	return devices, nil
}

func (s *Service) BorrowedBy(ctx context.Context, username string) ([]Device, error) {
	devices, err := s.devices.ListBorrowedBy(ctx, username)
	if err != nil {
		return nil, storageErr("devices.listBorrowedBy", err)
	}
	return devices, nil
}

// Borrow lends the device to username until today + 14 days. The decision
// whether the device is still free is made by the conditional write alone,
// so a concurrent borrow of the same device cannot also succeed.
func (s *Service) Borrow(ctx context.Context, id int, username string) error {
	if strings.TrimSpace(username) == "" {
		return ErrInvalid("username required")
	}

	d, err := s.devices.FindByID(ctx, id)
	if err != nil {
		return storageErr("devices.findByID", err)
	}
	if d == nil {
		return ErrNotFound("device not found")
	}

	now := s.clock.Now()
	ev := LendEvent{
		EventULID: s.id.NewULID(now),
		DeviceID:  id,
		Username:  username,
		Action:    ActionBorrow,
		DueOn:     sql.NullTime{Time: now.AddDate(0, 0, loanDays), Valid: true},
		CreatedAt: now,
	}
	ok, err := s.devices.ExecBorrow(ctx, ev)
	if err != nil {
		return storageErr("devices.execBorrow", err)
	}
	if !ok {
		return ErrConflict("device already borrowed")
	}
	return nil
}

// Return releases the device, but only for the user who holds it.
func (s *Service) Return(ctx context.Context, id int, username string) error {
	if strings.TrimSpace(username) == "" {
		return ErrInvalid("username required")
	}

	d, err := s.devices.FindByID(ctx, id)
	if err != nil {
		return storageErr("devices.findByID", err)
	}
	if d == nil {
		return ErrNotFound("device not found")
	}

	now := s.clock.Now()
	ev := LendEvent{
		EventULID: s.id.NewULID(now),
		DeviceID:  id,
		Username:  username,
		Action:    ActionReturn,
		CreatedAt: now,
	}
	ok, err := s.devices.ExecReturn(ctx, ev)
	if err != nil {
		return storageErr("devices.execReturn", err)
	}
	if !ok {
		return ErrConflict("device not borrowed by this user")
	}
	return nil
}

// EditDevice rewrites every field of the row matched by id, borrower and
// return date included. This is the administrative override: it bypasses the
// 14-day policy and the conditional borrow/return guards on purpose.
func (s *Service) EditDevice(ctx context.Context, id int, d Device) error {
	ok, err := s.devices.Update(ctx, id, d)
	if err != nil {
		return storageErr("devices.update", err)
	}
	if !ok {
		return ErrNotFound("device not found")
	}
	return nil
}

// AddDevice creates the device as available; borrower and return date from
// the payload are discarded rather than trusted.
func (s *Service) AddDevice(ctx context.Context, d Device) error {
	if d.ID <= 0 {
		return ErrInvalid("id must be > 0")
	}
	d.Borrower = sql.NullString{}
	d.ReturnDate = sql.NullTime{}

	ok, err := s.devices.Insert(ctx, d)
	if err != nil {
		return storageErr("devices.insert", err)
	}
	if !ok {
		return ErrConflict("device id already exists")
	}
	return nil
}

// ListEvents returns the borrow/return audit trail, newest first.
func (s *Service) ListEvents(ctx context.Context, f EventFilter) ([]LendEvent, error) {
	events, err := s.events.List(ctx, f)
	if err != nil {
		return nil, storageErr("events.list", err)
	}
	return events, nil
}
