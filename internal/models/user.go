package models

import (
	"time"
)

// DateLayout is the calendar-date text format used for due dates.
const DateLayout = "2006-01-02"

type User struct {
	ID        string     `json:"id" dynamodbav:"id"`
	Phone     string     `json:"phone" dynamodbav:"phone"`
	Nickname  string     `json:"nickname" dynamodbav:"nickname"`
	DueDate   *time.Time `json:"due_date,omitempty" dynamodbav:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

// PhonePK is the key of the item that reserves a phone number for one user.
func (u *User) PhonePK() string {
	return "PHONE#" + u.Phone
}

// DueDateString renders the due date as YYYY-MM-DD, or "" when unset.
func (u *User) DueDateString() string {
	if u.DueDate == nil {
		return ""
	}
	return u.DueDate.Format(DateLayout)
}
