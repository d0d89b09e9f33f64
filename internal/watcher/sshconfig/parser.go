package sshconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// Host is one concrete Host block of an ssh client configuration
type Host struct {
	Alias    string
	HostName string
	User     string
	Port     string
}

// Connectable reports whether the host carries enough information to build
// a launch command.
func (h Host) Connectable() bool {
	return h.HostName != ""
}

// CommandLine builds "<ssh> [user@]hostname [-p port]"
func (h Host) CommandLine(sshCommand string) string {
	var b strings.Builder
	b.WriteString(sshCommand)
	b.WriteByte(' ')
	if h.User != "" {
		b.WriteString(h.User)
		b.WriteByte('@')
	}
	b.WriteString(h.HostName)
	if h.Port != "" {
		b.WriteString(" -p ")
		b.WriteString(h.Port)
	}
	return b.String()
}

// ParseFile parses the ssh client configuration at path
func ParseFile(path string) ([]Host, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hosts, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return hosts, nil
}

// Parse reads Host blocks from r. Wildcard and negated patterns are skipped;
// for a block naming several aliases the first concrete alias is used.
// Match blocks are ignored.
func Parse(r io.Reader) ([]Host, error) {
	data, err := withoutMatchBlocks(r)
	if err != nil {
		return nil, err
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var hosts []Host
	for _, h := range cfg.Hosts {
		alias := concreteAlias(h)
		if alias == "" {
			continue
		}
		host := Host{Alias: alias}
		for _, node := range h.Nodes {
			kv, ok := node.(*ssh_config.KV)
			if !ok {
				continue
			}
			switch strings.ToLower(kv.Key) {
			case "hostname":
				host.HostName = unquote(kv.Value)
			case "user":
				host.User = unquote(kv.Value)
			case "port":
				host.Port = unquote(kv.Value)
			}
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

// concreteAlias returns the first pattern of h that names a single host.
// Matches rejects patterns the block negates.
func concreteAlias(h *ssh_config.Host) string {
	for _, p := range h.Patterns {
		raw := p.String()
		if strings.ContainsAny(raw, "*?") || !h.Matches(raw) {
			continue
		}
		return unquote(raw)
	}
	return ""
}

// withoutMatchBlocks blanks every Match block, which the decoder rejects.
// Line numbers are kept so decode errors still point at the right line.
func withoutMatchBlocks(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	inMatch := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch keyword(line) {
		case "match":
			inMatch = true
		case "host":
			inMatch = false
		}
		if !inMatch {
			out.WriteString(line)
		}
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func keyword(line string) string {
	line = strings.TrimSpace(line)
	if idx := strings.IndexAny(line, " \t="); idx >= 0 {
		line = line[:idx]
	}
	return strings.ToLower(line)
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
