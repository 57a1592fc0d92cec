package model

import "time"

const avatarFallbackURL = "https://api.dicebear.com/7.x/avataaars/svg?seed="

// Contact — собеседник в списке переписок. Производная сущность, не хранится.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	Online    bool      `json:"online"`
	LastMsg   string    `json:"last_msg"`
	UpdatedAt time.Time `json:"time"`
}

// ConversationSummary — строка серверной функции сводки переписок пользователя.
type ConversationSummary struct {
	PartnerID       string     `json:"partner_id"`
	Username        string     `json:"username"`
	AvatarURL       string     `json:"avatar_url"`
	LastMessage     string     `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
}

// FallbackAvatar — аватар по умолчанию для id.
func FallbackAvatar(id string) string {
	return avatarFallbackURL + id
}
