// Package models defines the domain models for the Aegis admission service.
package models

import (
	"fmt"

	"github.com/turtacn/aegis/pkg/constants"
)

// Actor is the identity an admission decision is evaluated for: either an
// authenticated account or an anonymous caller keyed by IP or device
// fingerprint. The service never performs authentication itself; it consumes
// the result.
type Actor struct {
	// ID is the opaque stable identifier supplied by the account/session store,
	// or the fallback anonymous key.
	ID string `json:"id"`

	// Kind records whether the actor is an authenticated account.
	Kind constants.ActorKind `json:"kind"`
}

// NewAccountActor builds an authenticated actor from a session-store identity.
func NewAccountActor(accountID string) Actor {
	return Actor{ID: accountID, Kind: constants.ActorKindAccount}
}

// NewAnonymousActor builds an anonymous actor from a client key such as an IP.
// Anonymous actors are always rate-limitable but never hold entitlements.
func NewAnonymousActor(clientKey string) Actor {
	return Actor{ID: fmt.Sprintf("anon:%s", clientKey), Kind: constants.ActorKindAnonymous}
}

// IsAuthenticated reports whether the actor is an authenticated account.
func (a Actor) IsAuthenticated() bool {
	return a.Kind == constants.ActorKindAccount
}

// Valid reports whether the actor carries a usable identity.
func (a Actor) Valid() bool {
	return a.ID != ""
}
