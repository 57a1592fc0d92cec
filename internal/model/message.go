package model

import "time"

// MessageKind — тип сообщения в переписке покупателя и поставщика.
type MessageKind string

const (
	MessageKindText    MessageKind = "text"
	MessageKindImage   MessageKind = "image"
	MessageKindFile    MessageKind = "file"
	MessageKindCallLog MessageKind = "call_log"
)

type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Text       string      `json:"text"`
	Kind       MessageKind `json:"type,omitempty"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
	IsRead     bool        `json:"is_read"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Involves сообщает, участвует ли userID в сообщении.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Partner возвращает собеседника относительно userID.
func (m Message) Partner(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Between — строгое совпадение пары в любом направлении.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Preview — строка для списка контактов.
func (m Message) Preview() string {
	switch m.Kind {
	case MessageKindImage:
		if m.Text == "" {
			return "Image"
		}
	case MessageKindFile:
		if m.Text == "" {
			return "Fichier"
		}
	}
	return m.Text
}

// NewMessage — черновик для вставки. Необязательные колонки пишутся только если не пустые.
type NewMessage struct {
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Text       string      `json:"text"`
	Kind       MessageKind `json:"type,omitempty"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Minimal отбрасывает всё, кроме базовых полей (sender, receiver, text, created_at).
func (n NewMessage) Minimal() NewMessage {
	return NewMessage{
		SenderID:   n.SenderID,
		ReceiverID: n.ReceiverID,
		Text:       n.Text,
		CreatedAt:  n.CreatedAt,
	}
}

// IsMinimal — true, если в черновике нет необязательных колонок.
func (n NewMessage) IsMinimal() bool {
	return (n.Kind == "" || n.Kind == MessageKindText) && n.FileURL == "" && n.FileName == ""
}

// Matches сравнивает сохранённое сообщение с черновиком (эхо оптимистичной отправки).
// Сохранённое сообщение могло потерять file_url при откате на минимальный payload.
func (n NewMessage) Matches(m Message) bool {
	return n.SenderID == m.SenderID && n.ReceiverID == m.ReceiverID && n.Text == m.Text &&
		(m.FileURL == "" || m.FileURL == n.FileURL)
}
