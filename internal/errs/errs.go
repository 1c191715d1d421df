package errs

import "errors"

// Relay failure taxonomy. Authentication failures are fatal to the
// connection; everything else is caught at the orchestrator boundary and the
// connection stays usable.
var (
  ErrAuthentication = errors.New("authentication failed")
  ErrNotFound       = errors.New("not found")
  ErrInference      = errors.New("inference engine failure")
  ErrPersistence    = errors.New("storage failure")
  ErrBusy           = errors.New("a response is already being generated for this connection")
)

// SafeMessage maps an internal error onto the short human-readable summary a
// client is allowed to see. Internal detail never leaves the server log.
func SafeMessage(err error) string {
  switch {
  case errors.Is(err, ErrAuthentication):
    return "authentication required"
  case errors.Is(err, ErrNotFound):
    return "chat not found"
  case errors.Is(err, ErrInference):
    return "the language model is unavailable or failed mid-response"
  case errors.Is(err, ErrBusy):
    return ErrBusy.Error()
  default:
    return "something went wrong while generating a response"
  }
}
