package server

import "github.com/pazarglobal/assistant/internal/chat"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

type CreateSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// MessageRequest is one chat turn; it maps onto chat.Inbound.
type MessageRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
	MediaRef  string `json:"media_ref,omitempty"`
}

func (r MessageRequest) Inbound() chat.Inbound {
	return chat.Inbound{SessionID: r.SessionID, UserID: r.UserID, Message: r.Message, MediaRef: r.MediaRef}
}

// WalletResponse reports the balance and recent ledger entries.
type WalletResponse struct {
	UserID       string        `json:"user_id"`
	Balance      int64         `json:"balance"`
	Transactions []Transaction `json:"transactions"`
}

type Transaction struct {
	ID        int64  `json:"id"`
	Amount    int64  `json:"amount"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}
