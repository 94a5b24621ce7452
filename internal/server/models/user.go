package models

import "time"

type User struct {
	ID           string
	UserName     string
	DisplayName  string
	PasswordHash []byte
	Role         string
	GroupCode    string
	CreatedAt    time.Time
}
