package rfbclient

import (
	"os"

	"github.com/op/go-logging"
)

// ConfigureLogging installs the module's default log format and level.
// RFB_LOGLEVEL=DEBUG selects debug output.
func ConfigureLogging() {
	if os.Getenv("RFB_LOGLEVEL") == "DEBUG" {
		logging.SetLevel(logging.DEBUG, "")
	} else {
		logging.SetLevel(logging.INFO, "")
	}
	logging.SetFormatter(logging.MustStringFormatter("%{level:.1s}%{time:0102 15:04:05.999999} %{pid} %{shortfile}] %{message}"))
}
