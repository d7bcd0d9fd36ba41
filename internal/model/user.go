package model

import (
	"database/sql/driver"
	"time"

	"github.com/shopspring/decimal"
)

// Asset names carried in User.Balances.
const (
	AssetTPL = "tpl"
	AssetTON = "ton"
)

// Balances maps an asset name to its amount.
type Balances map[string]decimal.Decimal

func (b Balances) Value() (driver.Value, error) {
	if b == nil {
		return jsonValue(map[string]decimal.Decimal{})
	}
	return jsonValue(map[string]decimal.Decimal(b))
}

func (b *Balances) Scan(value interface{}) error {
	return scanJSON(value, (*map[string]decimal.Decimal)(b), "Balances")
}

// Of returns the balance of asset, zero when absent.
func (b Balances) Of(asset string) decimal.Decimal {
	return b[asset]
}

// Inventory maps an item name to a count.
type Inventory map[string]int64

func (i Inventory) Value() (driver.Value, error) {
	if i == nil {
		return jsonValue(map[string]int64{})
	}
	return jsonValue(map[string]int64(i))
}

func (i *Inventory) Scan(value interface{}) error {
	return scanJSON(value, (*map[string]int64)(i), "Inventory")
}

// TaskState records which actions of a task are done and when it was claimed.
type TaskState struct {
	Actions    map[string]time.Time `json:"actions,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

type Tasks map[string]TaskState

func (t Tasks) Value() (driver.Value, error) {
	if t == nil {
		return jsonValue(map[string]TaskState{})
	}
	return jsonValue(map[string]TaskState(t))
}

func (t *Tasks) Scan(value interface{}) error {
	return scanJSON(value, (*map[string]TaskState)(t), "Tasks")
}

// ActionStamps records the last time each kind of mutation touched the user.
type ActionStamps map[string]time.Time

func (a ActionStamps) Value() (driver.Value, error) {
	if a == nil {
		return jsonValue(map[string]time.Time{})
	}
	return jsonValue(map[string]time.Time(a))
}

func (a *ActionStamps) Scan(value interface{}) error {
	return scanJSON(value, (*map[string]time.Time)(a), "ActionStamps")
}

// IPLocation is the address a user last authenticated from.
type IPLocation struct {
	IPAddress string    `json:"ip_address"`
	SeenAt    time.Time `json:"seen_at"`
}

func (l IPLocation) Value() (driver.Value, error) {
	return jsonValue(l)
}

func (l *IPLocation) Scan(value interface{}) error {
	return scanJSON(value, l, "IPLocation")
}

// User is both the authoritative users row and the cache-resident document.
type User struct {
	TeleID       string       `gorm:"type:varchar(32);primaryKey" json:"tele_id"`
	Name         string       `gorm:"type:varchar(256)" json:"name"`
	Username     string       `gorm:"type:varchar(128)" json:"username"`
	AuthDate     time.Time    `json:"auth_date"`
	ReferralCode string       `gorm:"type:varchar(32);uniqueIndex" json:"referral_code"`
	ReferralBy   string       `gorm:"type:varchar(32);index" json:"referral_by,omitempty"`
	FarmLevel    int          `gorm:"not null;default:1" json:"farm_level"`
	FarmAt       *time.Time   `json:"farm_at,omitempty"`
	Balances     Balances     `gorm:"type:jsonb" json:"balances"`
	Inventory    Inventory    `gorm:"type:jsonb" json:"inventory"`
	Tasks        Tasks        `gorm:"type:jsonb" json:"tasks"`
	Actions      ActionStamps `gorm:"type:jsonb" json:"actions"`
	IPLocation   *IPLocation  `gorm:"type:jsonb" json:"ip_location,omitempty"`
	LastActiveAt time.Time    `json:"last_active_at"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"-"`
}

func (User) TableName() string { return "users" }

// Touch stamps action at t, allocating the map on first use.
func (u *User) Touch(action string, t time.Time) {
	if u.Actions == nil {
		u.Actions = ActionStamps{}
	}
	u.Actions[action] = t
}

// Credit adds amount of asset.
func (u *User) Credit(asset string, amount decimal.Decimal, t time.Time) {
	if u.Balances == nil {
		u.Balances = Balances{}
	}
	u.Balances[asset] = u.Balances.Of(asset).Add(amount)
	u.Touch("add_"+asset+"_balance_at", t)
}

// Debit removes amount of asset, reporting false when the balance is short.
func (u *User) Debit(asset string, amount decimal.Decimal, t time.Time) bool {
	if u.Balances.Of(asset).LessThan(amount) {
		return false
	}
	if u.Balances == nil {
		u.Balances = Balances{}
	}
	u.Balances[asset] = u.Balances.Of(asset).Sub(amount)
	u.Touch("remove_"+asset+"_balance_at", t)
	return true
}
