package lending

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// 返却期限は DATE で保存するため日付のみを交換する
const DateLayout = "2006-01-02"

// UnmarshalJSON decodes the bare JSON string the client PUTs ("BORROW" or
// "RETURN") and rejects everything else at the boundary.
func (a *Action) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch Action(s) {
	case ActionBorrow, ActionReturn:
		*a = Action(s)
		return nil
	default:
		return fmt.Errorf("unknown action %q", s)
	}
}

// 機器の交換形式。borrower / returnDate は未貸出のとき null。
type DeviceDTO struct {
	Brand        string  `json:"brand"`
	Model        string  `json:"model"`
	Category     string  `json:"category"`
	PurchaseYear int     `json:"purchaseyear"`
	ID           int     `json:"id"`
	Borrower     *string `json:"borrower"`
	ReturnDate   *string `json:"returnDate"`
}

func toDeviceDTO(d Device) DeviceDTO {
	dto := DeviceDTO{
		Brand:        d.Brand,
		Model:        d.Model,
		Category:     d.Category,
		PurchaseYear: d.PurchaseYear,
		ID:           d.ID,
	}
	if d.Borrower.Valid {
		v := d.Borrower.String
		dto.Borrower = &v
	}
	if d.ReturnDate.Valid {
		v := d.ReturnDate.Time.Format(DateLayout)
		dto.ReturnDate = &v
	}
	return dto
}

func toDeviceDTOs(devices []Device) []DeviceDTO {
	out := make([]DeviceDTO, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceDTO(d))
	}
	return out
}

// toDevice validates the payload and converts it to a row. A borrower
// without a return date (or the reverse) never reaches the store.
func (dto DeviceDTO) toDevice() (Device, error) {
	d := Device{
		Brand:        dto.Brand,
		Model:        dto.Model,
		Category:     dto.Category,
		PurchaseYear: dto.PurchaseYear,
		ID:           dto.ID,
	}
	if d.ID <= 0 {
		return Device{}, fmt.Errorf("id must be > 0")
	}
	if (dto.Borrower == nil) != (dto.ReturnDate == nil) {
		return Device{}, fmt.Errorf("borrower and returnDate must be set together")
	}
	if dto.Borrower != nil {
		d.Borrower = sql.NullString{String: *dto.Borrower, Valid: true}
		t, err := time.Parse(DateLayout, *dto.ReturnDate)
		if err != nil {
			return Device{}, fmt.Errorf("invalid returnDate, expected YYYY-MM-DD")
		}
		d.ReturnDate = sql.NullTime{Time: t, Valid: true}
	}
	return d, nil
}

// 貸出履歴のレスポンス形式
type LendEventDTO struct {
	EventULID string  `json:"event_ulid"`
	DeviceID  int     `json:"device_id"`
	Username  string  `json:"username"`
	Action    Action  `json:"action"`
	DueOn     *string `json:"due_on,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func toLendEventDTO(ev LendEvent) LendEventDTO {
	dto := LendEventDTO{
		EventULID: ev.EventULID,
		DeviceID:  ev.DeviceID,
		Username:  ev.Username,
		Action:    ev.Action,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339),
	}
	if ev.DueOn.Valid {
		v := ev.DueOn.Time.Format(DateLayout)
		dto.DueOn = &v
	}
	return dto
}
