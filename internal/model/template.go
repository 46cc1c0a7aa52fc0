package model

// Template is a stored broadcast message body. The body may contain the
// {rr_name} placeholder which is substituted per recipient on fan-out.
// IDs are assigned by the application, densely from 0.
type Template struct {
	ID   int `gorm:"primaryKey;autoIncrement:false"`
	Body string
}
