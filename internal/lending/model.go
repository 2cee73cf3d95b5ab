package lending

import (
	"database/sql"
	"time"
)

// Device は devices テーブルの1行を表す。id は業務上の機器番号であり、
// 同時に永続化キーでもある。
type Device struct {
	Brand        string
	Model        string
	Category     string
	PurchaseYear int
	ID           int
	Borrower     sql.NullString
	ReturnDate   sql.NullTime
}

// Available reports whether the device can currently be borrowed.
// Borrower and ReturnDate are always set or cleared together.
func (d Device) Available() bool { return !d.Borrower.Valid }

// User は users テーブルの1行を表す。初回登録時に作られ、削除されない。
type User struct {
	Username string
}

// LendEvent は lend_events テーブルの1行を表す。貸出・返却が成立する
// たびに同一トランザクション内で1件追記される監査ログ。
type LendEvent struct {
	EventULID string
	DeviceID  int
	Username  string
	Action    Action
	DueOn     sql.NullTime
	CreatedAt time.Time
}

// 貸出履歴取得用の検索条件
type EventFilter struct {
	Username string
	DeviceID *int
	Limit    int
}

// Action is the wire-level borrow/return selector sent by the client.
type Action string

const (
	ActionBorrow Action = "BORROW"
	ActionReturn Action = "RETURN"
)

// SearchCriterion selects the device column a search matches against.
type SearchCriterion int

const (
	CriterionBrand SearchCriterion = iota
	CriterionModel
	CriterionCategory
	CriterionPurchaseYear
	CriterionID
)

// ParseCriterion maps the localized path labels used by the client UI onto
// criteria. Unknown labels are rejected before any query is built.
func ParseCriterion(label string) (SearchCriterion, bool) {
	switch label {
	case "Marke":
		return CriterionBrand, true
	case "Modell":
		return CriterionModel, true
	case "Kategorie":
		return CriterionCategory, true
	case "Kaufjahr":
		return CriterionPurchaseYear, true
	case "ID":
		return CriterionID, true
	default:
		return 0, false
	}
}

// Column returns the devices column name for the criterion. The value is
// always one of these constants, never caller input.
func (c SearchCriterion) Column() string {
	switch c {
	case CriterionBrand:
		return "brand"
	case CriterionModel:
		return "model"
	case CriterionCategory:
		return "category"
	case CriterionPurchaseYear:
		return "purchaseyear"
	case CriterionID:
		return "id"
	default:
		return ""
	}
}
