package models

// Actor is the party issuing a request.
type Actor struct {
	ID             string `json:"id" yaml:"id"`
	Role           Role   `json:"role" yaml:"role"`
	Name           string `json:"name,omitempty" yaml:"name"`
	TelegramChatID int64  `json:"telegramChatId,omitempty" yaml:"telegram_chat_id"`
}

// SystemActor is used for transitions driven by the engine itself.
var SystemActor = Actor{ID: SystemActorID, Role: RoleSystem, Name: "system"}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

// Owns reports whether the actor is the booking party matching its role.
func (a Actor) Owns(b *Booking) bool {
	switch a.Role {
	case RoleUser:
		return a.ID != "" && a.ID == b.UserID
	case RoleProvider:
		return a.ID != "" && a.ID == b.ProviderID
	}
	return false
}
