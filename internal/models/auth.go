package models

type UserView struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	Nickname  string `json:"nickname"`
	DueDate   string `json:"dueDate"`
	IsNewUser bool   `json:"isNewUser"`
}

type LoginResult struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

// ProfileUpdate carries the optional fields of a profile change. A nil field
// is left untouched; an empty DueDate clears it.
type ProfileUpdate struct {
	Nickname *string `json:"nickname"`
	DueDate  *string `json:"dueDate"`
}
