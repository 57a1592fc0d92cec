package model

import "time"

// Profile — строка таблицы profiles (покупатель, поставщик или админ).
type Profile struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	Role               string    `json:"role"`
	Country            string    `json:"country"`
	City               string    `json:"city"`
	Address            string    `json:"address,omitempty"`
	AvatarURL          string    `json:"avatar_url,omitempty"`
	IsVerifiedSupplier bool      `json:"is_verified_supplier"`
	UpdatedAt          time.Time `json:"updated_at"`
}

const (
	DefaultCountry = "RDC"
	DefaultCity    = "Kinshasa"
)

// MinimalProfile собирает профиль из локально известных полей для самовосстановления.
func MinimalProfile(p Profile) Profile {
	out := p
	if out.Country == "" {
		out.Country = DefaultCountry
	}
	if out.City == "" {
		out.City = DefaultCity
	}
	if out.Role == "" {
		out.Role = "buyer"
	}
	out.UpdatedAt = time.Now().UTC()
	return out
}
