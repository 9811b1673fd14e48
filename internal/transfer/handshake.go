package transfer

import "fmt"

// ClientHandshake sends the login frame and waits for success/failed, from
// the connecting client's side (spec.md §4.4 Handshake).
func ClientHandshake(conn *Conn, login LoginRequest) error {
	if err := conn.SendControl(login.Encode()); err != nil {
		return fmt.Errorf("transfer: client handshake send: %w", err)
	}

	reply, err := conn.RecvControl(0)
	if err != nil {
		return fmt.Errorf("transfer: client handshake recv: %w", err)
	}
	if reply != loginSuccess {
		return fmt.Errorf("transfer: login rejected: %s", reply)
	}
	return nil
}

// ServerHandshake reads the login frame from an accepted connection and
// replies success, returning the decoded request so the caller can choose
// sender or receiver role based on ClientType.
func ServerHandshake(conn *Conn) (LoginRequest, error) {
	text, err := conn.RecvControl(0)
	if err != nil {
		return LoginRequest{}, fmt.Errorf("transfer: server handshake recv: %w", err)
	}

	login, err := ParseLoginRequest(text)
	if err != nil {
		_ = conn.SendControl(loginFailed)
		return LoginRequest{}, fmt.Errorf("transfer: server handshake parse: %w", err)
	}

	if err := conn.SendControl(loginSuccess); err != nil {
		return LoginRequest{}, fmt.Errorf("transfer: server handshake reply: %w", err)
	}

	return login, nil
}
