package handshake

import "fmt"

func errUnexpectedInState(s State) error {
	return fmt.Errorf("handshake: input received in state %s", s)
}

func errUnexpectedCommand(got, want string) error {
	return fmt.Errorf("handshake: expected %s, got %s", want, got)
}

func errWrongLength(what string, got int) error {
	return fmt.Errorf("handshake: %s has wrong length (%d)", what, got)
}

func errPeerReported(reason string) error {
	return fmt.Errorf("handshake: peer sent ERROR: %s", reason)
}
