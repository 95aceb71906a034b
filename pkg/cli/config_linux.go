package cli

// USB serial adapters enumerate as ttyUSBn on Linux.
const defaultPort = "/dev/ttyUSB0"

func portHint() string {
	return defaultPort
}
