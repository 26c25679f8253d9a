//go:build debug

package sing

import (
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/sagernet/sing-socket/common/log"
)

func init() {
	address := os.Getenv("SOCKPROBE_PPROF")
	if address == "" {
		address = "127.0.0.1:8964"
	}
	go func() {
		log.NewLogger("pprof").Warn(http.ListenAndServe(address, nil))
	}()
}
