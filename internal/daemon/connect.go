// internal/daemon/connect.go
package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/mdp/qrterminal/v3"
)

// connectPayload is the JSON fragment encoded into the connect URL. A
// zero port signals tunnel mode, in which case Host carries the full
// public URL including scheme.
type connectPayload struct {
	Mode string `json:"mode"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"key"`
	V    int    `json:"v"`
}

// ConnectURL builds the URL a client scans to pair with this daemon:
// http://<host>:<port>/terminal/connect#<percent-encoded JSON> carrying
// {mode:"p2p", host, port, key, v:1}.
func ConnectURL(host string, port int, encodedSecret, tunnelURL string) (string, error) {
	payload := connectPayload{
		Mode: "p2p",
		Host: host,
		Port: port,
		Key:  encodedSecret,
		V:    1,
	}
	if tunnelURL != "" {
		payload.Host = tunnelURL
		payload.Port = 0
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal connect payload: %w", err)
	}
	return fmt.Sprintf("http://%s:%d/terminal/connect#%s", host, port, url.PathEscape(string(data))), nil
}

// PrintConnectQR renders the connect URL as a terminal QR code.
func PrintConnectQR(w io.Writer, connectURL string) {
	qrterminal.GenerateWithConfig(connectURL, qrterminal.Config{
		Level:     qrterminal.L,
		Writer:    w,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
	fmt.Fprintln(w, connectURL)
}

// LANHost picks the daemon's primary non-loopback IPv4 address, falling
// back to localhost.
func LANHost() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
