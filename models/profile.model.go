package models

// Profile holds the editable account details of an owner. Empty optional
// fields are stored as nil.
type Profile struct {
	Owner        string  `bson:"user_id" json:"user_id"`
	Name         *string `bson:"name" json:"name"`
	Phone        *string `bson:"phone" json:"phone"`
	AddressLine1 *string `bson:"address_line1" json:"address_line1"`
	AddressLine2 *string `bson:"address_line2" json:"address_line2"`
	City         *string `bson:"city" json:"city"`
	State        *string `bson:"state" json:"state"`
	PostalCode   *string `bson:"postal_code" json:"postal_code"`
	Country      *string `bson:"country" json:"country"`
	AvatarURL    *string `bson:"avatar_url" json:"avatar_url"`
}
