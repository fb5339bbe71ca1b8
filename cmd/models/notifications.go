package models

type Device struct {
	Base
	UserID     uint   `gorm:"not null;index;uniqueIndex:idx_token_user" json:"user_id"`
	Token      string `gorm:"not null;uniqueIndex:idx_token_user" json:"token"`
	DeviceType string `gorm:"type:varchar(50)" json:"device_type,omitempty"`
	DeviceName string `gorm:"type:varchar(100)" json:"device_name,omitempty"`
}

func (d Device) OwnerID() uint { return d.UserID }
