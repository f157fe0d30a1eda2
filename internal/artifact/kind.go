// Package artifact is the single-table persistence layer for every protocol
// object the identity provider stores: sessions, grants, tokens, codes,
// interactions and accounts.
package artifact

// Kind partitions the key space. The stored key is "<kind>-<id>".
type Kind string

// Kinds owned by the external protocol engine.
const (
	KindSession                          Kind = "Session"
	KindAccessToken                      Kind = "AccessToken"
	KindAuthorizationCode                Kind = "AuthorizationCode"
	KindRefreshToken                     Kind = "RefreshToken"
	KindDeviceCode                       Kind = "DeviceCode"
	KindClientCredentials                Kind = "ClientCredentials"
	KindClient                           Kind = "Client"
	KindInitialAccessToken               Kind = "InitialAccessToken"
	KindRegistrationAccessToken          Kind = "RegistrationAccessToken"
	KindInteraction                      Kind = "Interaction"
	KindReplayDetection                  Kind = "ReplayDetection"
	KindPushedAuthorizationRequest       Kind = "PushedAuthorizationRequest"
	KindGrant                            Kind = "Grant"
	KindBackchannelAuthenticationRequest Kind = "BackchannelAuthenticationRequest"
)

// Kinds owned by this service.
const (
	KindAccount    Kind = "Account"
	KindSignInCode Kind = "SignInCode"
)

var knownKinds = map[Kind]struct{}{
	KindSession: {}, KindAccessToken: {}, KindAuthorizationCode: {}, KindRefreshToken: {},
	KindDeviceCode: {}, KindClientCredentials: {}, KindClient: {}, KindInitialAccessToken: {},
	KindRegistrationAccessToken: {}, KindInteraction: {}, KindReplayDetection: {},
	KindPushedAuthorizationRequest: {}, KindGrant: {}, KindBackchannelAuthenticationRequest: {},
	KindAccount: {}, KindSignInCode: {},
}

// ParseKind validates a kind name such as "Session".
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	_, ok := knownKinds[k]
	return k, ok
}

func modelID(kind Kind, id string) string {
	return string(kind) + "-" + id
}
