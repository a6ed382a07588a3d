package proxy

// Host-line grammar, adapted from the teacher's loadBlockedDomains line
// reader (proxy/blocked_domains_manager.go) to the exact hosts-file
// compatible grammar this proxy needs.

import (
	"bufio"
	"os"
	"strings"

	"github.com/dnsnet-go/dnsnetcore/utils"
)

// loopback/no-route prefixes checked, in order, at the start of a line.
var hostLinePrefixes = []string{"127.0.0.1", "::1", "0.0.0.0"}

// parseHostLine applies the host-line grammar to a single raw line and
// returns the hostname token it names, or ok=false if the line carries no
// hostname (blank, comment-only, or malformed).
func parseHostLine(line string) (host string, ok bool) {
	line = strings.TrimRight(line, " \t\r\n")
	if line == "" {
		return "", false
	}

	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}

	for _, prefix := range hostLinePrefixes {
		if strings.HasPrefix(line, prefix) {
			line = strings.TrimLeft(line[len(prefix):], " \t")
			break
		}
	}

	token := strings.ToLower(strings.TrimSpace(line))
	if token == "" {
		return "", false
	}
	if strings.ContainsAny(token, " \t") {
		return "", false
	}

	return token, true
}

// readHostFile reads path line-by-line, applying parseHostLine to each and
// calling fn for every hostname recognized.  An I/O error reading the file
// aborts the remainder of that file; fn has already been called for every
// line ingested before the error, per the "preserving any hostnames
// already ingested" guarantee.
func readHostFile(path string, fn func(host string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	// Host lists can carry very long lines (single-line adblock exports);
	// grow the scanner buffer well past bufio's 64KiB default.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if host, ok := parseHostLine(scanner.Text()); ok {
			fn(host)
		}
	}

	return scanner.Err()
}

// isOpenableFile reports whether data names a file that can be opened for
// reading, used by the rule database to distinguish a hosts-file path from
// a literal hostname entry.
func isOpenableFile(data string) bool {
	ok, err := utils.FileExists(data)
	if err != nil || !ok {
		return false
	}

	f, err := os.Open(data)
	if err != nil {
		return false
	}
	_ = f.Close()

	return true
}
