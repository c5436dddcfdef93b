package authcore

// NoneMethod is the fallback when no method is configured: any auth
// type with no configured action and not basic/negotiate is rejected
// outright, without spawning anything or consuming a PendingDialogue slot.
type NoneMethod struct{}

// Begin always fails with AuthenticationRequired.
func (NoneMethod) Begin() error {
	return ErrAuthenticationRequired
}
