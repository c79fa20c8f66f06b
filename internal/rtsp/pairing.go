package rtsp

import (
	"time"

	"github.com/wisslanding/aircast/internal/cipher"
	"github.com/wisslanding/aircast/internal/session"
)

// nowFunc is swappable in tests; defaults to wall-clock time.
var nowFunc = time.Now

func pairSetupDriverFor(sess *session.Context) cipher.Driver {
	return cipher.NewPairSetupDriver(sess.Identity)
}

func pairVerifyDriverFor(sess *session.Context) cipher.Driver {
	return cipher.NewPairVerifyDriver(sess.Identity)
}
