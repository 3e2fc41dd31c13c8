package probe

import (
	"strconv"
	"strings"
)

var serviceNames = map[int]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	53:   "domain",
	80:   "http",
	139:  "netbios-ssn",
	443:  "https",
	445:  "microsoft-ds",
	554:  "rtsp",
	1883: "mqtt",
	3389: "ms-wbt-server",
	5900: "vnc",
	8080: "http-alt",
	8123: "homeassistant",
	8883: "secure-mqtt",
}

// ServiceName returns the well-known service for a TCP port, or "tcp".
func ServiceName(port int) string {
	if name, ok := serviceNames[port]; ok {
		return name
	}
	return "tcp"
}

// PortSummary renders open ports as "22/ssh,80/http".
func PortSummary(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(p)+"/"+ServiceName(p))
	}
	return strings.Join(parts, ",")
}

// ParsePorts parses a comma-separated port list such as "22,80,8080".
func ParsePorts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errEmptyPorts
	}
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v <= 0 || v > 65535 {
			return nil, &PortError{Value: part}
		}
		ports = append(ports, v)
	}
	return ports, nil
}

// PortError reports an unparsable port.
type PortError struct {
	Value string
}

func (e *PortError) Error() string {
	return "invalid port: " + strconv.Quote(e.Value)
}
