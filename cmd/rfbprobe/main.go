// rfbprobe connects to a VNC server, follows the update stream, and
// logs what it sees. Useful for eyeballing what a server actually sends.
package main

import (
	"flag"
	"net"
	"os"

	logging "github.com/op/go-logging"

	"github.com/signal-slot/go-rfbclient/rfbclient"
	"github.com/signal-slot/go-rfbclient/transport"
)

var log = logging.MustGetLogger("rfbprobe")

func main() {
	addr := flag.String("addr", "127.0.0.1:5900", "VNC server address")
	password := flag.String("password", "", "VNC password, if the server requires one")
	flag.Parse()

	rfbclient.ConfigureLogging()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Errorf("could not connect to %s: %v", *addr, err)
		os.Exit(1)
	}

	t := transport.NewTCP(conn)
	client := rfbclient.NewClient(t, rfbclient.Config{Password: *password}, rfbclient.Callbacks{
		ConnectionChanged: func(connected bool) {
			log.Infof("connected=%v", connected)
		},
		ProtocolVersionChanged: func(v rfbclient.ProtocolVersion) {
			log.Infof("protocol version %s", v)
		},
		SecurityTypeChanged: func(t rfbclient.SecurityType) {
			log.Infof("security type %d", uint32(t))
		},
		FramebufferSizeChanged: func(w, h uint16) {
			log.Infof("framebuffer %dx%d", w, h)
		},
		ImageChanged: func(region rfbclient.Rectangle) {
			log.Debugf("image changed: %dx%d at (%d,%d)",
				region.Width, region.Height, region.X, region.Y)
		},
		PasswordRequested: func() {
			log.Errorf("server requires a password; pass -password")
			conn.Close()
		},
	})

	if err := t.Run(client); err != nil {
		log.Errorf("connection failed: %v", err)
		os.Exit(1)
	}
}
