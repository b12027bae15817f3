package mockapi

import "errors"

var errUnknownAccount = errors.New("unknown account")
