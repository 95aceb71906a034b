//go:build !linux

package cli

const defaultPort = ""

func portHint() string {
	return "no default"
}
