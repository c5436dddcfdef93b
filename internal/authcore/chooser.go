package authcore

// Method names, the five values a MethodChooser call can produce.
const (
	MethodSpawnWithHeader  = "spawn-login-with-header"
	MethodSpawnWithDecoded = "spawn-login-with-decoded"
	MethodRemoteSSH        = "remote-login-ssh"
	MethodResume           = "x-login-reply"
	MethodNone             = "none"
)

// ChooseMethod maps (auth type, loopback flag, configured action) to the
// method that will handle the attempt; the first matching rule wins.
//
//  1. type == "x-login-reply"                      → x-login-reply
//  2. loopback && type == "basic"                   → remote-login-ssh
//  3. configured action for type is set              → that action
//  4. type ∈ {"basic", "negotiate"}                  → spawn-login-with-decoded
//  5. otherwise                                       → none
func ChooseMethod(authType string, loopback bool, configuredAction string) string {
	switch {
	case authType == MethodResume:
		return MethodResume
	case loopback && authType == "basic":
		return MethodRemoteSSH
	case configuredAction != "":
		return configuredAction
	case authType == "basic" || authType == "negotiate":
		return MethodSpawnWithDecoded
	default:
		return MethodNone
	}
}
