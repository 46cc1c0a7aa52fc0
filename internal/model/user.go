package model

// RRNameUnset marks a user who has not passed the alias challenge yet.
// Kept distinguishable from an empty string so a cleared alias can never be
// confused with "never registered".
const RRNameUnset = "unset"

// User is a clan member known to the bot. ID equals the Telegram account id,
// so the same value addresses both the database row and the private chat.
type User struct {
	ID       int64 `gorm:"primaryKey;autoIncrement:false"`
	Username string
	RRName   string
}
