// internal/public/doc.go
package public

import (
	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/store"
)

// Compile-time interface compliance checks.
var _ router.Connection = (*wsConn)(nil)
var _ router.Sequencer = (*store.Store)(nil)
