package buildtime

const PROGNAME = `omnipitr`

// Set at link-time via main
var (
	COMMIT  string
	VERSION string
	DATE    string
	TAG     string
)
