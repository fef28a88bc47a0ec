package models

import (
	"time"

	"github.com/lamcatuk/vy-numbers/pkg/enums"
)

// Slot is one numbered inventory entry. Num is the immutable 4-digit id.
type Slot struct {
	Num            string           `gorm:"column:num;type:char(4);primaryKey"`
	Status         enums.SlotStatus `gorm:"column:status;type:varchar(16);not null;default:available;index"`
	ReservedBy     *string          `gorm:"column:reserved_by;type:varchar(64)"`
	ReserveExpires *time.Time       `gorm:"column:reserve_expires"`
	OrderID        *string          `gorm:"column:order_id;type:varchar(64)"`
	UserID         *string          `gorm:"column:user_id;type:varchar(64)"`
	TxnRef         *string          `gorm:"column:txn_ref;type:varchar(128)"`
	Attributes     SlotAttributes   `gorm:"embedded"`
	UpdatedAt      time.Time        `gorm:"column:updated_at"`
}

func (Slot) TableName() string {
	return "number_slots"
}

// SlotAttributes is the descriptive metadata attached to a slot. State
// transitions never read it.
type SlotAttributes struct {
	Association       string `gorm:"column:association;not null;default:''" json:"association" dynamodbav:"association"`
	Nickname          string `gorm:"column:nickname;not null;default:''" json:"nickname" dynamodbav:"nickname"`
	Category          string `gorm:"column:category;not null;default:''" json:"category" dynamodbav:"category"`
	Country           string `gorm:"column:country;not null;default:''" json:"country" dynamodbav:"country"`
	Significance      string `gorm:"column:significance;not null;default:''" json:"significance" dynamodbav:"significance"`
	FirstName         string `gorm:"column:first_name;not null;default:''" json:"first_name" dynamodbav:"first_name"`
	LastName          string `gorm:"column:last_name;not null;default:''" json:"last_name" dynamodbav:"last_name"`
	City              string `gorm:"column:city;not null;default:''" json:"city" dynamodbav:"city"`
	State             string `gorm:"column:state;not null;default:''" json:"state" dynamodbav:"state"`
	Profession        string `gorm:"column:profession;not null;default:''" json:"profession" dynamodbav:"profession"`
	Bio               string `gorm:"column:bio;not null;default:''" json:"bio" dynamodbav:"bio"`
	FounderDate       string `gorm:"column:founder_date;not null;default:''" json:"founder_date" dynamodbav:"founder_date"`
	Instagram         string `gorm:"column:instagram;not null;default:''" json:"instagram" dynamodbav:"instagram"`
	Twitter           string `gorm:"column:twitter;not null;default:''" json:"twitter" dynamodbav:"twitter"`
	LinkedIn          string `gorm:"column:linkedin;not null;default:''" json:"linkedin" dynamodbav:"linkedin"`
	Website           string `gorm:"column:website;not null;default:''" json:"website" dynamodbav:"website"`
	ProfilePictureURL string `gorm:"column:profile_picture_url;not null;default:''" json:"profile_picture_url" dynamodbav:"profile_picture_url"`
	PasswordHash      string `gorm:"column:password_hash;not null;default:''" json:"-" dynamodbav:"password_hash"`
}

// AttributeColumns lists the attribute column names, used when clearing them.
func AttributeColumns() []string {
	return []string{
		"association", "nickname", "category", "country", "significance",
		"first_name", "last_name", "city", "state", "profession", "bio",
		"founder_date", "instagram", "twitter", "linkedin", "website",
		"profile_picture_url", "password_hash",
	}
}
