package visibility

import "errors"

var errReusedToken = errors.New("token generator returned an empty or repeated token")
